package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"camerad/internal/config"
)

func (s *Server) registerCameraRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cameras", s.handleCameraList)
	mux.HandleFunc("GET /api/camera/controls", s.handleCameraControls)
	mux.HandleFunc("POST /api/camera/set", s.handleCameraSet)
	mux.HandleFunc("POST /api/camera/enable", s.handleCameraEnable)
	mux.HandleFunc("POST /api/camera/disable", s.handleCameraDisable)
	mux.HandleFunc("POST /api/camera/settings", s.handleCameraSettings)
}

func (s *Server) handleCameraList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cameras == nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]any{})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.deps.Cameras.Cameras())
}

func (s *Server) handleCameraControls(w http.ResponseWriter, r *http.Request) {
	idStr := r.URL.Query().Get("camera_id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonError(w, "camera_id must be an integer", http.StatusBadRequest)
		return
	}
	if s.deps.Cameras != nil {
		if _, ok := s.deps.Cameras.ByCameraID(id); !ok {
			jsonError(w, "unknown camera_id", http.StatusNotFound)
			return
		}
	}

	cfg := s.deps.Config.Get()
	resp := map[string]any{
		"camera_id": id,
		"ranges": map[string][2]int{
			"brightness":        {0, 255},
			"contrast":          {0, 255},
			"saturation":        {0, 255},
			"hue":               {-180, 180},
			"gamma":             {72, 500},
			"sharpness":         {0, 255},
			"gain":              {0, 255},
			"backlight":         {0, 1},
			"white_balance_temp": {2800, 6500},
			"exposure":          {1, 5000},
		},
		"current": cfg.ImageControls,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleCameraSet(w http.ResponseWriter, r *http.Request) {
	var controls config.ImageControls
	if err := decodeBody(r, &controls); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg := s.deps.Config.Get()
	cfg.ImageControls = controls
	if err := s.applyConfig(cfg); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
}

type cameraIDRequest struct {
	CameraID int `json:"camera_id"`
}

func (s *Server) handleCameraEnable(w http.ResponseWriter, r *http.Request) {
	s.setCameraEnabled(w, r, true)
}

func (s *Server) handleCameraDisable(w http.ResponseWriter, r *http.Request) {
	s.setCameraEnabled(w, r, false)
}

func (s *Server) setCameraEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	var req cameraIDRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.deps.Cameras == nil || !s.deps.Cameras.SetEnabled(req.CameraID, enabled) {
		jsonError(w, "unknown camera_id", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
}

type cameraSettingsRequest struct {
	CameraID   int  `json:"camera_id"`
	Width      int  `json:"width,omitempty"`
	Height     int  `json:"height,omitempty"`
	ForceMJPEG bool `json:"force_mjpeg,omitempty"`
	FPS        int  `json:"fps,omitempty"`
}

func (s *Server) handleCameraSettings(w http.ResponseWriter, r *http.Request) {
	var req cameraSettingsRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.CameraID <= 0 {
		jsonError(w, "camera_id is required", http.StatusBadRequest)
		return
	}

	cfg := s.deps.Config.Get()
	if cfg.CameraOverrides == nil {
		cfg.CameraOverrides = make(map[int]config.CameraOverride)
	}
	cfg.CameraOverrides[req.CameraID] = config.CameraOverride{
		Width:      req.Width,
		Height:     req.Height,
		ForceMJPEG: req.ForceMJPEG,
		FPS:        req.FPS,
	}
	if err := s.applyConfig(cfg); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": fmt.Sprintf("camera %d settings applied", req.CameraID)})
}
