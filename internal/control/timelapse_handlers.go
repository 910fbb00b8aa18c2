package control

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"camerad/internal/config"
	"camerad/internal/system"
)

func (s *Server) registerTimelapseRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /timelapse", s.handleTimelapsePage)
	mux.HandleFunc("GET /api/timelapse/list", s.handleTimelapseList)
	mux.HandleFunc("GET /api/timelapse/thumb/{name}", s.handleTimelapseThumb)
	mux.HandleFunc("GET /api/timelapse/video/{name}", s.handleTimelapseVideo)
	mux.HandleFunc("DELETE /api/timelapse/delete/{name}", s.handleTimelapseDelete)
	mux.HandleFunc("GET /api/timelapse/storage", s.handleTimelapseStorage)
	mux.HandleFunc("GET /api/timelapse/browse", s.handleTimelapseBrowse)
	mux.HandleFunc("POST /api/timelapse/mkdir", s.handleTimelapseMkdir)
	mux.HandleFunc("GET /api/timelapse/moonraker", s.handleTimelapseMoonraker)
	mux.HandleFunc("POST /api/timelapse/settings", s.handleTimelapseSettings)
}

func (s *Server) handleTimelapsePage(w http.ResponseWriter, r *http.Request) {
	active := "none"
	if s.deps.Recorder != nil {
		if sess := s.deps.Recorder.Session(); sess != nil {
			active = sess.BaseName
		}
	}
	recoveryStatus := "idle"
	if s.deps.Recorder != nil {
		if running, detail := s.deps.Recorder.RecoveryStatus(); running {
			recoveryStatus = detail
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := timelapsePage.Execute(w, map[string]any{
		"active":          active,
		"recovery_status": recoveryStatus,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// storageDir resolves the requested storage query ("internal" or "usb") to
// a filesystem directory, defaulting to the configured timelapse storage.
func (s *Server) storageDir(storage string) string {
	cfg := s.deps.Config.Get()
	switch config.TimelapseStorage(storage) {
	case config.StorageUSB:
		return cfg.Timelapse.USBPath
	case config.StorageInternal:
		return s.deps.InternalDir
	default:
		if cfg.Timelapse.Storage == config.StorageUSB {
			return cfg.Timelapse.USBPath
		}
		return s.deps.InternalDir
	}
}

type timelapseEntry struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

func (s *Server) handleTimelapseList(w http.ResponseWriter, r *http.Request) {
	dir := s.storageDir(r.URL.Query().Get("storage"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]timelapseEntry{})
		return
	}

	var thumbs []string
	var out []timelapseEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".mp4"):
			info, err := e.Info()
			var size int64
			if err == nil {
				size = info.Size()
			}
			out = append(out, timelapseEntry{Name: name, SizeBytes: size})
		case strings.HasSuffix(name, ".jpg"):
			thumbs = append(thumbs, name)
		}
	}
	for i, entry := range out {
		base := strings.TrimSuffix(entry.Name, ".mp4")
		for _, t := range thumbs {
			if strings.HasPrefix(t, base+"_") {
				out[i].Thumbnail = t
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleTimelapseThumb(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := validateFilename(name); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	dir := s.storageDir(r.URL.Query().Get("storage"))
	path := filepath.Join(dir, name)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, path)
}

func (s *Server) handleTimelapseVideo(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := validateFilename(name); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	dir := s.storageDir(r.URL.Query().Get("storage"))
	path := filepath.Join(dir, name)
	w.Header().Set("Content-Type", "video/mp4")
	// http.ServeFile/ServeContent honors Range headers natively (206).
	http.ServeFile(w, r, path)
}

func (s *Server) handleTimelapseDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := validateFilename(name); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	dir := s.storageDir(r.URL.Query().Get("storage"))
	base := strings.TrimSuffix(name, ".mp4")

	if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), base+"_") && strings.HasSuffix(e.Name(), ".jpg") {
				os.Remove(filepath.Join(dir, e.Name()))
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

type storageInfo struct {
	Path      string `json:"path"`
	FreeBytes uint64 `json:"free_bytes"`
}

func (s *Server) handleTimelapseStorage(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config.Get()
	resp := map[string]any{}

	if free, err := system.FreeSpaceBytes(s.deps.InternalDir); err == nil {
		resp["internal"] = storageInfo{Path: s.deps.InternalDir, FreeBytes: free}
	}
	if cfg.Timelapse.USBPath != "" {
		if free, err := system.FreeSpaceBytes(cfg.Timelapse.USBPath); err == nil {
			resp["usb"] = storageInfo{Path: cfg.Timelapse.USBPath, FreeBytes: free}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type browseEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
}

func (s *Server) handleTimelapseBrowse(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	dir, err := resolveUnderPrefix(s.deps.USBMountPrefix, rel)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	out := make([]browseEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, browseEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

type mkdirRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleTimelapseMkdir(w http.ResponseWriter, r *http.Request) {
	var req mkdirRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	dir, err := resolveUnderPrefix(s.deps.USBMountPrefix, req.Path)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleTimelapseMoonraker(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"configured": s.deps.PushMoonraker != nil,
	})
}

func (s *Server) handleTimelapseSettings(w http.ResponseWriter, r *http.Request) {
	var tcfg config.TimelapseConfig
	if err := decodeBody(r, &tcfg); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg := s.deps.Config.Get()
	cfg.Timelapse = tcfg
	if err := s.applyConfig(cfg); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.deps.Recorder != nil {
		s.deps.Recorder.SetConfig(tcfg)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
}
