package control

import (
	"net/http"
	"strconv"
)

func (s *Server) registerControlRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /control", s.handleControlPage)
	mux.HandleFunc("POST /control", s.handleControlSubmit)
	mux.HandleFunc("POST /api/touch", s.handleTouch)
	mux.HandleFunc("GET /api/led/on", s.handleLEDOn)
	mux.HandleFunc("GET /api/led/off", s.handleLEDOff)
	mux.HandleFunc("GET /api/restart", s.handleRestart)
}

func (s *Server) handleControlPage(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config.Get()
	checked := ""
	if cfg.H264Enabled {
		checked = "checked"
	}
	data := map[string]any{
		"h264_enabled_checked": checked,
		"h264_width":           cfg.H264Width,
		"h264_height":          cfg.H264Height,
		"h264_bitrate_kbps":    cfg.H264BitrateKbps,
		"mjpeg_fps_cap":        cfg.MJPEGFPSCap,
		"target_cpu_percent":   cfg.TargetCPUPercent,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := controlPage.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleControlSubmit applies the settings form and redirects back to
// /control (302), matching §6.2's documented status code for this endpoint.
func (s *Server) handleControlSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		jsonError(w, "invalid form body", http.StatusBadRequest)
		return
	}

	cfg := s.deps.Config.Get()
	cfg.H264Enabled = r.FormValue("h264_enabled") != ""

	if v, err := strconv.Atoi(r.FormValue("h264_width")); err == nil {
		cfg.H264Width = v
	}
	if v, err := strconv.Atoi(r.FormValue("h264_height")); err == nil {
		cfg.H264Height = v
	}
	if v, err := strconv.Atoi(r.FormValue("h264_bitrate_kbps")); err == nil {
		cfg.H264BitrateKbps = v
	}
	if v, err := strconv.Atoi(r.FormValue("mjpeg_fps_cap")); err == nil {
		cfg.MJPEGFPSCap = v
	}
	if v, err := strconv.Atoi(r.FormValue("target_cpu_percent")); err == nil {
		cfg.TargetCPUPercent = v
	}

	if err := s.applyConfig(cfg); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.deps.CPUBudget != nil {
		s.deps.CPUBudget.SetTargetCPU(cfg.TargetCPUPercent)
	}

	http.Redirect(w, r, "/control", http.StatusFound)
}

type touchRequest struct {
	X          int `json:"x"`
	Y          int `json:"y"`
	DurationMs int `json:"duration_ms"`
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	if s.deps.InjectTouch == nil {
		jsonError(w, "touch injection unsupported", http.StatusServiceUnavailable)
		return
	}
	var req touchRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.deps.InjectTouch(req.X, req.Y, req.DurationMs); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLEDOn(w http.ResponseWriter, r *http.Request)  { s.setLED(w, true) }
func (s *Server) handleLEDOff(w http.ResponseWriter, r *http.Request) { s.setLED(w, false) }

func (s *Server) setLED(w http.ResponseWriter, on bool) {
	if s.deps.SetLED == nil {
		jsonError(w, "LED control unsupported", http.StatusServiceUnavailable)
		return
	}
	if err := s.deps.SetLED(on); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Restart == nil {
		jsonError(w, "restart unsupported", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	go s.deps.Restart()
}
