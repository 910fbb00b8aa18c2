package timelapse

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"syscall"
	"time"
)

var orphanDirRe = regexp.MustCompile(`^(.+)_(\d+)$`)

// RecoverOrphans implements §4.G's orphan recovery: on process start, scan
// the temp-directory parent for sibling {prefix}_{pid} directories whose pid
// references a dead process, and finalize each into a timestamped output.
// Runs on the caller's goroutine; callers should invoke it via `go`.
func (r *Recorder) RecoverOrphans(now time.Time) {
	r.recovering.Store(true)
	defer r.recovering.Store(false)

	dir := r.outputDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		r.recoverMsg.Store(fmt.Sprintf("orphan scan failed: %v", err))
		return
	}

	selfPID := os.Getpid()
	found := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := orphanDirRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		pid, err := strconv.Atoi(m[2])
		if err != nil || pid == selfPID {
			continue
		}
		if processAlive(pid) {
			continue
		}
		found++
		r.recoverOrphan(filepath.Join(dir, e.Name()), now)
	}

	if found == 0 {
		r.recoverMsg.Store("no orphans found")
	}
}

// processAlive probes liveness via signal 0, the standard no-op kill probe.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != syscall.ESRCH
}

func (r *Recorder) recoverOrphan(dir string, now time.Time) {
	count := countContiguousFrames(dir)
	if count == 0 {
		os.RemoveAll(dir)
		return
	}

	stamp := now.Format("20060102_150405")
	cfg := r.config()
	fps := resolveFPS(cfg, count)
	frames := listFrames(dir, count)
	outDir := r.outputDir()
	outPath := filepath.Join(outDir, fmt.Sprintf("recovered_%s.mp4", stamp))

	err := r.encodeHW(frames, fps, outPath)
	if err != nil {
		err = r.encodeFFmpeg(dir, fps, cfg, outPath, true)
	}
	if err != nil {
		err = r.encodeFFmpeg(dir, fps, cfg, outPath, false)
	}

	if err != nil {
		r.rescueFrames(dir, frames, stamp, count)
		r.recoverMsg.Store(fmt.Sprintf("recovered %d orphan frames to rescue folder (%v)", count, err))
	} else {
		r.recoverMsg.Store(fmt.Sprintf("recovered orphan session into %s", filepath.Base(outPath)))
	}
	os.RemoveAll(dir)
}

// rescueFrames preserves frames under the USB rescue folder per §6's
// "Orphan rescue" path, used when every encoder path has failed.
func (r *Recorder) rescueFrames(dir string, frames []string, stamp string, count int) {
	cfg := r.config()
	usbPrefix := cfg.USBPath
	if usbPrefix == "" {
		usbPrefix = r.internalDir
	}
	rescueDir := filepath.Join(usbPrefix, "Time-lapse-Frames-Recovery", fmt.Sprintf("frames_%s_%d", stamp, count))
	if err := os.MkdirAll(rescueDir, 0o755); err != nil {
		return
	}
	for i, src := range frames {
		dst := filepath.Join(rescueDir, fmt.Sprintf("frame_%04d.jpg", i))
		copyFile(src, dst)
	}
}

// countContiguousFrames counts frame_0000.jpg, frame_0001.jpg, ... until the
// first gap, matching the finalize pipeline's sequential naming assumption.
func countContiguousFrames(dir string) int {
	count := 0
	for {
		path := filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", count))
		if _, err := os.Stat(path); err != nil {
			break
		}
		count++
	}
	return count
}

// RecoveryStatus exposes the background recovery thread's status to the
// Control HTTP Server (§4.J).
func (r *Recorder) RecoveryStatus() (running bool, detail string) {
	msg, _ := r.recoverMsg.Load().(string)
	return r.recovering.Load(), msg
}
