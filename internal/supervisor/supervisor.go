// Package supervisor implements the Multi-Camera Supervisor (§4.I): for
// each non-primary enabled camera, fork+exec a copy of this binary in
// secondary mode, reap exited children on a tick, and disable a camera
// that restart-storms.
package supervisor

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"camerad/internal/camera"
	"camerad/internal/config"
	"camerad/internal/logger"
	"camerad/internal/process"
)

var log = logger.WithComponent("SUPERVISOR")

const (
	restartWindow      = 5 * time.Minute
	maxRestarts        = 5
	crashLoopThreshold = 10 * time.Second
	killWait           = 3 * time.Second
)

// Child is the Managed Child Process record of §3.
type Child struct {
	CameraID  int
	PID       int
	Enabled   bool
	Restarts  int
	LastStart time.Time
	Override  config.CameraOverride
	Error     string
}

// Dependencies lets the supervisor launch children without hardcoding the
// running binary's path, and learn which cameras exist.
type Dependencies struct {
	BinaryPath string
	Cameras    func() []*camera.Descriptor
	Overrides  func(cameraID int) config.CameraOverride
	// DisableCamera is invoked when a camera restart-storms, so the
	// Control HTTP Server's descriptor view reflects the disable (§4.J).
	DisableCamera func(cameraID int, reason string)
}

// Supervisor owns one process.Process per non-primary camera.
type Supervisor struct {
	deps Dependencies

	mu       sync.Mutex
	children map[int]*Child
	procs    map[int]*process.Process

	restartLog map[int][]time.Time
}

func New(deps Dependencies) *Supervisor {
	return &Supervisor{
		deps:       deps,
		children:   make(map[int]*Child),
		procs:      make(map[int]*process.Process),
		restartLog: make(map[int][]time.Time),
	}
}

// Run drives the supervisor loop: reconcile desired children against the
// camera list every tick, reap and restart as needed, until stop is closed.
func (s *Supervisor) Run(stop <-chan struct{}, tick time.Duration) {
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			s.stopAll()
			return
		case <-ticker.C:
			s.reconcile()
		}
	}
}

func (s *Supervisor) reconcile() {
	if s.deps.Cameras == nil {
		return
	}
	for _, d := range s.deps.Cameras() {
		if d.IsPrimary || !d.Enabled {
			continue
		}
		s.ensureRunning(d)
	}
}

func (s *Supervisor) ensureRunning(d *camera.Descriptor) {
	s.mu.Lock()
	proc, exists := s.procs[d.CameraID]
	child := s.children[d.CameraID]
	s.mu.Unlock()

	if exists && proc.State() == process.StateRunning {
		return
	}

	if exists && child != nil && !child.LastStart.IsZero() && time.Since(child.LastStart) < crashLoopThreshold {
		if s.isCrashLooping(d.CameraID) {
			s.disable(d.CameraID, "restart storm: exceeded 5 restarts in 5 minutes")
			return
		}
	}

	s.start(d)
}

func (s *Supervisor) start(d *camera.Descriptor) {
	override := config.CameraOverride{}
	if s.deps.Overrides != nil {
		override = s.deps.Overrides(d.CameraID)
	}

	args := []string{
		"-mode=secondary",
		fmt.Sprintf("-camera-id=%d", d.CameraID),
		fmt.Sprintf("-device=%s", d.DevicePath),
		fmt.Sprintf("-streaming-port=%d", d.StreamPort),
	}
	if override.Width > 0 && override.Height > 0 {
		args = append(args, fmt.Sprintf("-width=%d", override.Width), fmt.Sprintf("-height=%d", override.Height))
	}
	if override.ForceMJPEG {
		args = append(args, "-force-mjpeg")
	}
	if override.FPS > 0 {
		args = append(args, fmt.Sprintf("-fps=%d", override.FPS))
	}

	proc := process.New(fmt.Sprintf("camera-%d", d.CameraID))
	now := time.Now()

	s.mu.Lock()
	s.procs[d.CameraID] = proc
	child := s.children[d.CameraID]
	if child == nil {
		child = &Child{CameraID: d.CameraID}
		s.children[d.CameraID] = child
	}
	child.Enabled = true
	child.LastStart = now
	child.Override = override
	s.restartLog[d.CameraID] = append(s.restartLog[d.CameraID], now)
	s.mu.Unlock()

	if err := proc.Start(s.deps.BinaryPath, args...); err != nil {
		log.Error("camera %d start failed: %v", d.CameraID, err)
		s.mu.Lock()
		child.Error = err.Error()
		s.mu.Unlock()
		return
	}

	log.Info("camera %d started on %s (port %d)", d.CameraID, d.DevicePath, d.StreamPort)
	s.mu.Lock()
	child.Restarts++
	child.Error = ""
	s.mu.Unlock()
}

// isCrashLooping reports whether cameraID has restarted more than
// maxRestarts times within restartWindow, per §4.I.
func (s *Supervisor) isCrashLooping(cameraID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-restartWindow)
	var kept []time.Time
	for _, t := range s.restartLog[cameraID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restartLog[cameraID] = kept
	return len(kept) > maxRestarts
}

// disable tears the child down (SIGTERM, wait 3s, SIGKILL) and reports the
// disable reason on the child record.
func (s *Supervisor) disable(cameraID int, reason string) {
	s.mu.Lock()
	proc := s.procs[cameraID]
	child := s.children[cameraID]
	if child != nil {
		child.Enabled = false
		child.Error = reason
	}
	s.mu.Unlock()
	log.Warn("camera %d disabled: %s", cameraID, reason)

	if proc != nil {
		teardown(proc)
	}
	if s.deps.DisableCamera != nil {
		s.deps.DisableCamera(cameraID, reason)
	}
}

// teardown implements §4.I's SIGTERM-then-wait-then-SIGKILL sequence.
func teardown(proc *process.Process) {
	proc.Signal(syscall.SIGTERM)
	deadline := time.Now().Add(killWait)
	for time.Now().Before(deadline) {
		if proc.State() != process.StateRunning {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	proc.Signal(syscall.SIGKILL)
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	procs := make([]*process.Process, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.Unlock()
	for _, p := range procs {
		teardown(p)
	}
}

// Status returns a snapshot of every managed child, for the Control HTTP
// Server's camera list (§4.J).
func (s *Supervisor) Status() []Child {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Child, 0, len(s.children))
	for _, c := range s.children {
		cp := *c
		if p, ok := s.procs[c.CameraID]; ok {
			cp.PID = p.PID()
		}
		out = append(out, cp)
	}
	return out
}
