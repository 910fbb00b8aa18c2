package control

import (
	"encoding/json"
	"net/http"
	"testing"

	"camerad/internal/faultdetect"
)

func TestHandleFaultDetectModels_NoManifestConfigured(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "GET", "/api/fault_detect/models", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string][]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp["model_sets"]) != 0 {
		t.Fatalf("expected no model sets, got %v", resp["model_sets"])
	}
}

func TestHandleFaultDetectSettings_UnavailableWhenNotWired(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "POST", "/api/fault_detect/settings", `{"enabled":true}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleFaultDetectSettings_UpdatesEngineAndMask(t *testing.T) {
	s := newTestServer(t)
	engine := faultdetect.NewEngine(faultdetect.FromPersisted(s.deps.Config.Get().FaultDetect, nil, faultdetect.Mask{}), faultdetect.Dependencies{
		Backend: faultdetect.UnavailableBackend{},
	})
	s.deps.FaultEngine = engine

	var mask faultdetect.Mask
	mask.Set(3)
	body := `{"enabled":true,"strategy":"or","cnn_threshold":0.6,"base_mask_hex":"` + mask.ToHex() + `"}`

	w := do(t, s, "POST", "/api/fault_detect/settings", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["base_mask_hex"] != mask.ToHex() {
		t.Fatalf("expected mask roundtrip, got %v", resp)
	}

	current := engine.Config()
	if !current.Enabled || current.CNNThreshold != 0.6 {
		t.Fatalf("expected engine config updated, got %+v", current)
	}
	if !current.BaseMask.IsSet(3) {
		t.Fatalf("expected base mask bit 3 set")
	}

	cfg := s.deps.Config.Get()
	if !cfg.FaultDetect.Enabled || cfg.FaultDetect.CNNThreshold != 0.6 {
		t.Fatalf("expected persisted config updated, got %+v", cfg.FaultDetect)
	}
}
