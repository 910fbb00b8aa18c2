package control

import (
	"encoding/json"
	"net/http"
	"testing"

	"camerad/internal/flvproxy"
)

func TestHandleNetworkInterfaces_ReturnsArray(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "GET", "/api/network/interfaces", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out []any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHandleMoonrakerCameras_RoundTrip(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "POST", "/api/moonraker/cameras", `{"camera_id":2,"url":"http://host/cam2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = do(t, s, "GET", "/api/moonraker/cameras", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var cams map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &cams); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cams["2"] != "http://host/cam2" {
		t.Fatalf("expected stored camera url, got %v", cams)
	}
}

func TestHandleFLVAnnounce_UnavailableWhenNotWired(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "POST", "/api/acproxycam/flv", `{"url":"http://x/flv"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleFLVAnnounce_MissingURL(t *testing.T) {
	s := newTestServer(t)
	s.deps.FLVProxy = flvproxy.New()
	w := do(t, s, "POST", "/api/acproxycam/flv", `{"url":""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleFLVStatus_ReflectsAnnounce(t *testing.T) {
	s := newTestServer(t)
	proxy := flvproxy.New()
	s.deps.FLVProxy = proxy
	proxy.Announce("http://host/flv")

	w := do(t, s, "GET", "/api/acproxycam/flv", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["url"] != "http://host/flv" {
		t.Fatalf("unexpected status response: %v", resp)
	}
}
