package timelapse

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"camerad/internal/config"
	"camerad/internal/errkind"
	"camerad/internal/framebus"
	"camerad/internal/hwenc"
	"camerad/internal/logger"
)

var log = logger.WithComponent("TIMELAPSE")

// Dependencies are the cross-component seams the Recorder needs.
type Dependencies struct {
	Bus *framebus.Bus

	// NewEncoder returns a fresh Encoder for the preferred hardware-encode
	// path, or nil if no encoder is available (forcing the ffmpeg fallback).
	NewEncoder func() hwenc.Encoder

	FFmpegPath string // defaults to "ffmpeg" when empty
}

// Recorder implements the Time-lapse Recorder (§4.G): one active Session at
// a time, guarded by its own mutex, driven by print events and an optional
// hyperlapse ticker.
type Recorder struct {
	cfgMu sync.RWMutex
	cfg   config.TimelapseConfig

	internalDir string
	deps        Dependencies

	sessMu  sync.Mutex
	session *Session

	encoding atomic.Bool // cross-component encode_status busy flag

	recovering atomic.Bool
	recoverMsg atomic.Value // string
}

// New constructs a Recorder. internalDir is the output directory used when
// cfg.Storage == StorageInternal.
func New(cfg config.TimelapseConfig, internalDir string, deps Dependencies) *Recorder {
	if deps.FFmpegPath == "" {
		deps.FFmpegPath = "ffmpeg"
	}
	r := &Recorder{cfg: cfg, internalDir: internalDir, deps: deps}
	r.recoverMsg.Store("")
	return r
}

// SetConfig replaces the active configuration.
func (r *Recorder) SetConfig(cfg config.TimelapseConfig) {
	r.cfgMu.Lock()
	r.cfg = cfg
	r.cfgMu.Unlock()
}

func (r *Recorder) config() config.TimelapseConfig {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.cfg
}

// outputDir resolves the configured output directory: the USB path when
// storage is usb, otherwise the process-provided internal directory.
func (r *Recorder) outputDir() string {
	cfg := r.config()
	if cfg.Storage == config.StorageUSB && cfg.USBPath != "" {
		return cfg.USBPath
	}
	return r.internalDir
}

// EncodeBusy reports whether a deferred encode is pending or running,
// implementing the NPU/VENC mutual-exclusion flag of §9 consumed by the
// Fault-Detect Engine.
func (r *Recorder) EncodeBusy() bool { return r.encoding.Load() }

// Session returns a shallow copy of the active session's visible fields, or
// nil if none is active.
func (r *Recorder) Session() *Session {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	if r.session == nil {
		return nil
	}
	cp := *r.session
	return &cp
}

// baseNameFromPrint strips a gcode/print filename down to its base name,
// matching §3's "derived from the print filename with extension stripped".
func baseNameFromPrint(name string) string {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

// PrintStart creates a new session on the print_start(name) event (§4.G).
// If a session is already active and owned by an external source
// (custom_mode), this call is a no-op unless owner (the call comes from the
// same external owner) is set.
func (r *Recorder) PrintStart(name string, owner bool) error {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()

	if r.session != nil && r.session.Active && r.session.CustomMode && !owner {
		return nil // legacy initiation ignored while custom_mode owns the session
	}

	base := baseNameFromPrint(name)
	dir := r.outputDir()
	seq := findNextSequence(dir, base)
	tempDir := filepath.Join(dir, fmt.Sprintf("%s_%d", base, os.Getpid()))
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return fmt.Errorf("timelapse: create temp dir: %w", err)
	}

	r.session = &Session{
		BaseName:  base,
		Seq:       seq,
		TempDir:   tempDir,
		Active:    true,
		Status:    StatusIdle,
		CustomMode: owner,
		startedAt: time.Now(),
	}
	log.Info("session started: %s seq=%d owner=%v", base, seq, owner)
	return nil
}

// LayerChange handles layer_change(current, total). In layer mode, captures
// one frame whenever current > 1 (skipping the first layer, per §4.G).
func (r *Recorder) LayerChange(current, total int) {
	cfg := r.config()
	if cfg.Mode != config.TimelapseModeLayer {
		return
	}
	if current <= 1 {
		return
	}
	_ = r.CaptureFrame()
}

// PrintEnd finalizes the active session on print_end(reason) (§4.G).
func (r *Recorder) PrintEnd(reason string) {
	r.sessMu.Lock()
	sess := r.session
	if sess == nil || !sess.Active {
		r.sessMu.Unlock()
		return
	}
	sess.Active = false
	sess.Detail = reason
	r.session = nil
	r.sessMu.Unlock()

	log.Info("session ending: %s seq=%d reason=%q", sess.BaseName, sess.Seq, reason)
	r.finalizeAsync(sess)
}

// ReleaseCustomMode changes no state. The ownership marker is the active
// Session's CustomMode; per §4.G, releasing while a session is active is a
// no-op, and the marker goes away when PrintEnd discards the session.
func (r *Recorder) ReleaseCustomMode() {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	if r.session == nil || !r.session.Active {
		return
	}
	// session active: no-op, preserves ownership until PrintEnd.
}

// CaptureFrame implements capture_frame(): snapshot the jpeg slot, reject
// duplicates and structurally invalid JPEGs, write frame_NNNN.jpg.
func (r *Recorder) CaptureFrame() error {
	r.sessMu.Lock()
	sess := r.session
	r.sessMu.Unlock()
	if sess == nil || !sess.Active {
		return fmt.Errorf("timelapse: no active session")
	}

	buf := make([]byte, r.deps.Bus.JPEG.MaxSize())
	n, seq, _, ok := r.deps.Bus.JPEG.Snapshot(buf)
	if !ok {
		return fmt.Errorf("timelapse: no jpeg frame published yet")
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if seq == sess.lastCapturedSeq {
		return nil // duplicate suppression, not an error
	}
	data := buf[:n]
	if !validJPEG(data) {
		return errkind.New(errkind.FrameCorrupt, "timelapse: invalid jpeg at capture")
	}

	name := fmt.Sprintf("frame_%04d.jpg", sess.FrameCount)
	path := filepath.Join(sess.TempDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("timelapse: write frame: %w", err)
	}

	sess.lastCapturedSeq = seq
	sess.FrameCount++
	return nil
}

// RunHyperlapseTicker drives the hyperlapse mode's dedicated capture tick
// between session start and end, until stop is closed.
func (r *Recorder) RunHyperlapseTicker(stop <-chan struct{}) {
	for {
		cfg := r.config()
		if cfg.Mode != config.TimelapseModeHyperlapse {
			select {
			case <-stop:
				return
			case <-time.After(time.Second):
				continue
			}
		}
		interval := time.Duration(cfg.HyperlapseInterval) * time.Second
		if interval <= 0 {
			interval = time.Second
		}
		select {
		case <-stop:
			return
		case <-time.After(interval):
			r.sessMu.Lock()
			active := r.session != nil && r.session.Active
			r.sessMu.Unlock()
			if active {
				_ = r.CaptureFrame()
			}
		}
	}
}
