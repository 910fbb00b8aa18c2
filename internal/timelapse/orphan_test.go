package timelapse

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCountContiguousFrames(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeTestFrame(t, dir, i)
	}
	// gap from frame_0005.jpg; frame_0010.jpg lies beyond it
	writeTestFrame(t, dir, 10)

	if got := countContiguousFrames(dir); got != 5 {
		t.Fatalf("countContiguousFrames = %d, want 5", got)
	}
}

func TestProcessAliveDetectsDeadPID(t *testing.T) {
	// A pid this large is virtually guaranteed not to exist on any system.
	if processAlive(1 << 30) {
		t.Fatalf("expected pid 2^30 to be reported dead")
	}
	if !processAlive(os.Getpid()) {
		t.Fatalf("expected own pid to be reported alive")
	}
}

func TestRecoverOrphansEncodesDeadSiblingDir(t *testing.T) {
	r, dir := newTestRecorder(t, true)

	deadPID := 1 << 30
	orphanDir := filepath.Join(dir, fmt.Sprintf("job_%d", deadPID))
	if err := os.MkdirAll(orphanDir, 0o755); err != nil {
		t.Fatalf("mkdir orphan dir: %v", err)
	}
	for i := 0; i < 3; i++ {
		writeTestFrame(t, orphanDir, i)
	}

	r.RecoverOrphans(time.Now())

	running, detail := r.RecoveryStatus()
	if running {
		t.Fatalf("recovery should have completed synchronously")
	}
	if detail == "" {
		t.Fatalf("expected a non-empty recovery detail message")
	}
	if _, err := os.Stat(orphanDir); !os.IsNotExist(err) {
		t.Fatalf("expected orphan dir to be removed after recovery, err=%v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	sawRecovered := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".mp4" {
			sawRecovered = true
		}
	}
	if !sawRecovered {
		t.Fatalf("expected a recovered mp4 in %s, got %v", dir, entries)
	}
}

func TestRecoverOrphansIgnoresLiveSiblingDir(t *testing.T) {
	r, dir := newTestRecorder(t, true)

	livePID := os.Getpid()
	liveDir := filepath.Join(dir, fmt.Sprintf("job_%d", livePID))
	if err := os.MkdirAll(liveDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeTestFrame(t, liveDir, 0)

	r.RecoverOrphans(time.Now())

	if _, err := os.Stat(liveDir); err != nil {
		t.Fatalf("live sibling dir should be left alone, got err=%v", err)
	}
}
