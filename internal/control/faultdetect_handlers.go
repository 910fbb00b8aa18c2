package control

import (
	"encoding/json"
	"net/http"

	"camerad/internal/config"
	"camerad/internal/faultdetect"
)

func (s *Server) registerFaultDetectRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/fault_detect/models", s.handleFaultDetectModels)
	mux.HandleFunc("POST /api/fault_detect/settings", s.handleFaultDetectSettings)
}

func (s *Server) handleFaultDetectModels(w http.ResponseWriter, r *http.Request) {
	if s.deps.ModelManifestPath == "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"model_sets": []string{}})
		return
	}
	manifest, err := faultdetect.LoadManifest(s.deps.ModelManifestPath)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	names := make([]string, 0, len(manifest.Sets))
	for _, set := range manifest.Sets {
		names = append(names, set.Name)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"model_sets": names})
}

// faultDetectSettingsRequest mirrors config.FaultDetectConfig plus an
// optional hex-encoded Z-mask override (§3's per-Z-bucket base mask,
// 7 uint64 words serialized as a hex string by faultdetect.Mask.ToHex/FromHex).
type faultDetectSettingsRequest struct {
	config.FaultDetectConfig
	BaseMaskHex string `json:"base_mask_hex,omitempty"`
}

func (s *Server) handleFaultDetectSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.FaultEngine == nil {
		jsonError(w, "fault detect unsupported", http.StatusServiceUnavailable)
		return
	}
	var req faultDetectSettingsRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	current := s.deps.FaultEngine.Config()
	baseMask := current.BaseMask
	if req.BaseMaskHex != "" {
		m, err := faultdetect.FromHex(req.BaseMaskHex)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		baseMask = m
	}

	cfg := s.deps.Config.Get()
	cfg.FaultDetect = req.FaultDetectConfig
	if err := s.applyConfig(cfg); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.deps.FaultEngine.SetConfig(faultdetect.FromPersisted(req.FaultDetectConfig, current.ZTable, baseMask))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":        "updated",
		"base_mask_hex": baseMask.ToHex(),
	})
}
