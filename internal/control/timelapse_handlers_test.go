package control

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func newTimelapseTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := newTestServer(t)
	dir := t.TempDir()
	s.deps.InternalDir = dir
	return s, dir
}

func TestHandleTimelapseList_PairsThumbnails(t *testing.T) {
	s, dir := newTimelapseTestServer(t)
	writeFile(t, filepath.Join(dir, "print1_01.mp4"), "video")
	writeFile(t, filepath.Join(dir, "print1_01_42.jpg"), "thumb")

	w := do(t, s, "GET", "/api/timelapse/list", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out []timelapseEntry
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Thumbnail != "print1_01_42.jpg" {
		t.Fatalf("expected one entry with paired thumbnail, got %+v", out)
	}
}

func TestHandleTimelapseThumb_RejectsPathTraversal(t *testing.T) {
	s, _ := newTimelapseTestServer(t)
	// "..foo" has no path separator so the mux won't path-clean it away
	// before it reaches validateFilename's ".." check.
	w := do(t, s, "GET", "/api/timelapse/thumb/..foo", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleTimelapseDelete_RemovesVideoAndThumbnail(t *testing.T) {
	s, dir := newTimelapseTestServer(t)
	writeFile(t, filepath.Join(dir, "print1_01.mp4"), "video")
	writeFile(t, filepath.Join(dir, "print1_01_42.jpg"), "thumb")

	w := do(t, s, "DELETE", "/api/timelapse/delete/print1_01.mp4", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if _, err := os.Stat(filepath.Join(dir, "print1_01.mp4")); !os.IsNotExist(err) {
		t.Fatalf("expected video removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "print1_01_42.jpg")); !os.IsNotExist(err) {
		t.Fatalf("expected thumbnail removed")
	}
}

func TestHandleTimelapseStorage_ReportsInternalFreeBytes(t *testing.T) {
	s, dir := newTimelapseTestServer(t)
	w := do(t, s, "GET", "/api/timelapse/storage", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]storageInfo
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	info, ok := resp["internal"]
	if !ok || info.Path != dir {
		t.Fatalf("expected internal storage info for %s, got %+v", dir, resp)
	}
}

func TestHandleTimelapseBrowse_RejectsEscapingPrefix(t *testing.T) {
	s := newTestServer(t)
	s.deps.USBMountPrefix = t.TempDir()
	w := do(t, s, "GET", "/api/timelapse/browse?path=../../etc", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleTimelapseMkdir_CreatesUnderPrefix(t *testing.T) {
	s := newTestServer(t)
	prefix := t.TempDir()
	s.deps.USBMountPrefix = prefix

	w := do(t, s, "POST", "/api/timelapse/mkdir", `{"path":"subdir"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if info, err := os.Stat(filepath.Join(prefix, "subdir")); err != nil || !info.IsDir() {
		t.Fatalf("expected subdir created under prefix")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
