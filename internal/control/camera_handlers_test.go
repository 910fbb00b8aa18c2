package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"camerad/internal/camera"
	"camerad/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mgr := config.NewManager(filepath.Join(t.TempDir(), "config.json"))
	if err := mgr.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	scanner := camera.NewScanner("", nil)
	if _, err := scanner.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return New(Dependencies{
		Config:  mgr,
		Cameras: scanner,
	})
}

func do(t *testing.T, s *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, r)
	return w
}

func TestHandleCameraList_Empty(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "GET", "/api/cameras", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out []any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty camera list, got %v", out)
	}
}

func TestHandleCameraControls_UnknownCamera(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "GET", "/api/camera/controls?camera_id=9", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleCameraEnable_UnknownCamera(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "POST", "/api/camera/enable", `{"camera_id":9}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleCameraSettings_StoresOverride(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "POST", "/api/camera/settings", `{"camera_id":2,"width":640,"height":360,"fps":10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cfg := s.deps.Config.Get()
	ov, ok := cfg.CameraOverrides[2]
	if !ok {
		t.Fatalf("expected override recorded for camera 2")
	}
	if ov.Width != 640 || ov.Height != 360 || ov.FPS != 10 {
		t.Fatalf("unexpected override: %+v", ov)
	}
}
