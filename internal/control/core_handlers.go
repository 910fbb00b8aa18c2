package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"camerad/internal/config"
	"camerad/internal/version"
)

func (s *Server) registerCoreRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", s.handleLanding)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/config", s.handleConfigGet)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
}

// handleLogs returns the most recent entries of the in-memory log ring
// buffer. ?n=<count> caps how many are returned (default 200). Nothing in
// the daemon adds entries to the buffer, so the list it returns is empty.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]any{})
		return
	}
	n := 200
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.deps.Logs.GetRecent(n))
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config.Get()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := landingPage.Execute(w, map[string]any{"streaming_port": cfg.StreamingPort}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config.Get()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "version: %s\n", version.GetVersion())
	fmt.Fprintf(w, "uptime_seconds: %.0f\n", s.uptime().Seconds())
	fmt.Fprintf(w, "streaming_port: %d\n", cfg.StreamingPort)
	fmt.Fprintf(w, "control_port: %d\n", cfg.ControlPort)
	fmt.Fprintf(w, "h264_enabled: %v\n", cfg.H264Enabled)
	fmt.Fprintf(w, "skip_ratio: %d\n", cfg.SkipRatio)
	if s.deps.CPUBudget != nil {
		fmt.Fprintf(w, "effective_skip_ratio: %d\n", s.deps.CPUBudget.EffectiveRatio())
	}
	if s.deps.Recorder != nil {
		fmt.Fprintf(w, "timelapse_encode_busy: %v\n", s.deps.Recorder.EncodeBusy())
	}
	if s.deps.FaultEngine != nil {
		fmt.Fprintf(w, "fault_detect_state: %s\n", s.deps.FaultEngine.State())
	}
	if s.deps.Supervisor != nil {
		for _, c := range s.deps.Supervisor.Status() {
			fmt.Fprintf(w, "camera[%d]: pid=%d enabled=%v restarts=%d error=%q\n", c.CameraID, c.PID, c.Enabled, c.Restarts, c.Error)
		}
	}
}

// statsResponse is GET /api/stats's payload: live fps/CPU/client counts and
// the fault-detect verdict summary (§6.2).
type statsResponse struct {
	UptimeSeconds float64         `json:"uptime_seconds"`
	Latest        *statsLatest    `json:"latest,omitempty"`
	History       []jsonDataPoint `json:"history"`
}

type statsLatest struct {
	CPUTotal     float64 `json:"cpu_total_percent"`
	CPUSelf      float64 `json:"cpu_self_percent"`
	SkipRatio    int     `json:"skip_ratio"`
	MJPEGClients int     `json:"mjpeg_clients"`
	FLVClients   int     `json:"flv_clients"`
}

type jsonDataPoint struct {
	TimestampUnix   int64   `json:"timestamp_unix"`
	CaptureFPS      float64 `json:"capture_fps"`
	EffectiveFPS    float64 `json:"effective_fps"`
	CPUTotal        float64 `json:"cpu_total_percent"`
	CPUSelf         float64 `json:"cpu_self_percent"`
	SkipRatio       int     `json:"skip_ratio"`
	MJPEGClients    int     `json:"mjpeg_clients"`
	FLVClients      int     `json:"flv_clients"`
	FaultVerdict    string  `json:"fault_verdict,omitempty"`
	FaultConfidence float64 `json:"fault_confidence,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{UptimeSeconds: s.uptime().Seconds()}

	if s.deps.Stats != nil {
		for _, dp := range s.deps.Stats.History() {
			resp.History = append(resp.History, jsonDataPoint{
				TimestampUnix:   dp.Timestamp.Unix(),
				CaptureFPS:      dp.CaptureFPS,
				EffectiveFPS:    dp.EffectiveFPS,
				CPUTotal:        dp.CPUTotal,
				CPUSelf:         dp.CPUSelf,
				SkipRatio:       dp.SkipRatio,
				MJPEGClients:    dp.MJPEGClients,
				FLVClients:      dp.FLVClients,
				FaultVerdict:    dp.FaultVerdict,
				FaultConfidence: dp.FaultConfidence,
			})
		}
		if latest, ok := s.deps.Stats.Latest(); ok {
			resp.Latest = &statsLatest{
				CPUTotal:     latest.CPUTotal,
				CPUSelf:      latest.CPUSelf,
				SkipRatio:    latest.SkipRatio,
				MJPEGClients: latest.MJPEGClients,
				FLVClients:   latest.FLVClients,
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config.Get()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

// applyConfig validates and persists cfg, invoking the change callback
// (§4.J's "mutates the shared configuration under its lock; writes the
// config to disk; invokes an optional config-changed callback").
func (s *Server) applyConfig(cfg config.EncoderConfig) error {
	return s.deps.Config.Update(cfg)
}
