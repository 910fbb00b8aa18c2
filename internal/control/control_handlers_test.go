package control

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestHandleControlPage_ShowsCurrentConfig(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "GET", "/control", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `value="1280"`) {
		t.Fatalf("expected default h264_width 1280 in page, got %s", w.Body.String())
	}
}

func TestHandleControlSubmit_UpdatesConfigAndRedirects(t *testing.T) {
	s := newTestServer(t)
	form := url.Values{
		"h264_width":         {"960"},
		"h264_height":        {"540"},
		"h264_bitrate_kbps":  {"2000"},
		"mjpeg_fps_cap":      {"20"},
		"target_cpu_percent": {"60"},
	}
	r := httptest.NewRequest("POST", "/control", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/control" {
		t.Fatalf("expected redirect to /control, got %q", loc)
	}

	cfg := s.deps.Config.Get()
	if cfg.H264Width != 960 || cfg.H264Height != 540 {
		t.Fatalf("expected resolution updated, got %dx%d", cfg.H264Width, cfg.H264Height)
	}
	if cfg.H264BitrateKbps != 2000 || cfg.MJPEGFPSCap != 20 || cfg.TargetCPUPercent != 60 {
		t.Fatalf("unexpected config after submit: %+v", cfg)
	}
}

func TestHandleTouch_UnavailableWhenNotWired(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "POST", "/api/touch", `{"x":1,"y":2,"duration_ms":100}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleLED_UnavailableWhenNotWired(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "GET", "/api/led/on", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleRestart_UnavailableWhenNotWired(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "GET", "/api/restart", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
