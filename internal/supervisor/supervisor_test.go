package supervisor

import (
	"os/exec"
	"testing"
	"time"

	"camerad/internal/camera"
)

func oneSecondarySleeper() []*camera.Descriptor {
	return []*camera.Descriptor{
		{CameraID: 2, DevicePath: "/dev/video2", StreamPort: 8082, Enabled: true, IsPrimary: false},
	}
}

func sleepBinary(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep binary not available")
	}
	return path
}

func TestSupervisorStartsNonPrimaryCamera(t *testing.T) {
	bin := sleepBinary(t)
	s := New(Dependencies{
		BinaryPath: bin,
		Cameras:    oneSecondarySleeper,
	})

	stop := make(chan struct{})
	go s.Run(stop, 20*time.Millisecond)
	defer close(stop)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		status := s.Status()
		if len(status) == 1 && status[0].PID != 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected camera 2's child to be started")
}

func TestSupervisorIgnoresPrimaryAndDisabled(t *testing.T) {
	bin := sleepBinary(t)
	s := New(Dependencies{
		BinaryPath: bin,
		Cameras: func() []*camera.Descriptor {
			return []*camera.Descriptor{
				{CameraID: 1, IsPrimary: true, Enabled: true},
				{CameraID: 3, IsPrimary: false, Enabled: false},
			}
		},
	})
	s.reconcile()
	if len(s.Status()) != 0 {
		t.Fatalf("expected no children for primary/disabled cameras, got %+v", s.Status())
	}
}

func TestSupervisorDisablesAfterRestartStorm(t *testing.T) {
	bin := sleepBinary(t)
	var disabledReason string
	s := New(Dependencies{
		BinaryPath: bin,
		DisableCamera: func(id int, reason string) {
			disabledReason = reason
		},
	})

	d := &camera.Descriptor{CameraID: 2, DevicePath: "/dev/video2", Enabled: true}
	// Simulate six rapid restarts, each counted within the crash-loop window.
	for i := 0; i < 6; i++ {
		s.start(d)
	}
	// Force the next ensureRunning to see a recently-started, non-running child.
	s.mu.Lock()
	s.children[2].LastStart = time.Now()
	s.mu.Unlock()

	s.ensureRunning(d)

	if disabledReason == "" {
		t.Fatalf("expected camera 2 to be disabled after restart storm")
	}
	s.mu.Lock()
	enabled := s.children[2].Enabled
	s.mu.Unlock()
	if enabled {
		t.Fatalf("expected child record to be marked disabled")
	}
}

func TestIsCrashLoopingPrunesOldEntries(t *testing.T) {
	s := New(Dependencies{})
	s.restartLog[1] = []time.Time{
		time.Now().Add(-10 * time.Minute),
		time.Now().Add(-9 * time.Minute),
	}
	if s.isCrashLooping(1) {
		t.Fatalf("stale restarts outside the window should not count")
	}
	if len(s.restartLog[1]) != 0 {
		t.Fatalf("expected stale entries to be pruned, got %v", s.restartLog[1])
	}
}
