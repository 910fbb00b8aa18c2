// Package hwenc implements the Hardware Encoder Sink (§4.C) as a scoped
// acquisition (Init/Release, never a bare pointer, per §9's guidance on
// arenas). No real VENC cgo binding is buildable in this environment: the
// sink is an Encoder interface with a software-fallback implementation that
// shells to ffmpeg (grounded on internal/process/ffmpeg.go's encoder-argv
// and subprocess idiom) and a stub that demonstrates the real-hardware seam.
package hwenc

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"camerad/internal/errkind"
	"camerad/internal/flv"
	"camerad/internal/logger"
)

var log = logger.WithComponent("HWENC")

// Encoder is the contract of §4.C: init, encode, reconfigure, release.
type Encoder interface {
	Init(width, height, bitrateKbps, fps int) error
	// Encode accepts one raw or MJPEG source frame and returns the NAL units
	// it produced, which may be empty if the encoder is still buffering.
	Encode(frame []byte) ([]flv.NALUnit, error)
	Reconfigure(width, height, bitrateKbps int) error
	// RequestKeyframe asks for an IDR on the next Encode call.
	RequestKeyframe()
	// SPS/PPS return the most recently cached parameter sets, or nil if none
	// has been produced yet.
	SPS() []byte
	PPS() []byte
	Release() error
}

// SoftwareFallbackEncoder drives a persistent ffmpeg subprocess: MJPEG
// frames are piped to its stdin, Annex-B H.264 is read back from stdout and
// parsed with internal/flv's Annex-B splitter so SPS/PPS caching and
// keyframe detection are shared code with the FLV server.
type SoftwareFallbackEncoder struct {
	mu sync.Mutex

	width, height, bitrateKbps, fps int
	cmd                             *exec.Cmd
	stdin                           io.WriteCloser
	cache                           flv.Cache
	pending                         []flv.NALUnit
	forceKeyframe                   bool
	lastIDR                         time.Time

	readErr  chan error
	nalCh    chan []flv.NALUnit
	stopOnce sync.Once
}

// Init allocates the subprocess. Per §4.C's keyframe policy, the first
// encode after Init forces an intra-refresh.
func (e *SoftwareFallbackEncoder) Init(width, height, bitrateKbps, fps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd != nil {
		return errkind.New(errkind.EncoderInit, "hwenc: already initialized")
	}

	args := []string{
		"-y",
		"-f", "mjpeg",
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-x264-params", "keyint=30:min-keyint=10:scenecut=0:bframes=0:ref=1:rc-lookahead=0:threads=1",
		"-b:v", fmt.Sprintf("%dk", bitrateKbps),
		"-r", fmt.Sprintf("%d", fps),
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-pix_fmt", "yuv420p",
		"-f", "h264",
		"pipe:1",
	}
	cmd := exec.Command("ffmpeg", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errkind.New(errkind.EncoderInit, "hwenc: stdin pipe: "+err.Error())
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errkind.New(errkind.EncoderInit, "hwenc: stdout pipe: "+err.Error())
	}
	if err := cmd.Start(); err != nil {
		log.Error("ffmpeg start failed: %v", err)
		return fmt.Errorf("%w: %v", errkind.ErrEncoderUnavailable, err)
	}
	log.Info("encoder started %dx%d @%dkbps %dfps", width, height, bitrateKbps, fps)

	e.cmd = cmd
	e.stdin = stdin
	e.width, e.height, e.bitrateKbps, e.fps = width, height, bitrateKbps, fps
	e.cache = flv.Cache{}
	e.forceKeyframe = true // first encode after init
	e.nalCh = make(chan []flv.NALUnit, 32)
	e.readErr = make(chan error, 1)

	go e.readLoop(bufio.NewReaderSize(stdout, 1<<20))
	return nil
}

func (e *SoftwareFallbackEncoder) readLoop(r *bufio.Reader) {
	buf := make([]byte, 0, 1<<20)
	chunk := make([]byte, 64*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			units := flv.SplitAnnexB(buf)
			if len(units) > 1 {
				// keep the tail (possibly incomplete trailing NAL) for next read
				last := units[len(units)-1]
				keep := append([]byte(nil), last.Data...)
				forward, _ := e.cache.Observe(units[:len(units)-1])
				if len(forward) > 0 {
					select {
					case e.nalCh <- forward:
					default:
					}
				}
				buf = keep
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Warn("ffmpeg stdout closed: %v", err)
			}
			e.readErr <- err
			return
		}
	}
}

// Encode writes one MJPEG source frame to the subprocess and drains
// whatever NAL units have become available since the last call; it does not
// block waiting for this exact frame's output (the subprocess pipeline has
// its own latency), matching the bounded, lossy nature of this pipeline.
func (e *SoftwareFallbackEncoder) Encode(frame []byte) ([]flv.NALUnit, error) {
	e.mu.Lock()
	stdin := e.stdin
	e.mu.Unlock()
	if stdin == nil {
		return nil, errkind.New(errkind.EncoderInit, "hwenc: not initialized")
	}

	if _, err := stdin.Write(frame); err != nil {
		return nil, fmt.Errorf("hwenc: write frame: %w", err)
	}

	var out []flv.NALUnit
	select {
	case units := <-e.nalCh:
		out = units
	default:
	}

	e.mu.Lock()
	sps, pps := e.cache.SPS, e.cache.PPS
	e.mu.Unlock()
	for _, u := range out {
		if u.Type == flv.NALTypeIDR {
			e.mu.Lock()
			e.lastIDR = time.Now()
			e.mu.Unlock()
		}
	}
	_ = sps
	_ = pps
	return out, nil
}

// Reconfigure tears down and re-inits with new parameters, forcing a
// keyframe per §4.C's policy.
func (e *SoftwareFallbackEncoder) Reconfigure(width, height, bitrateKbps int) error {
	e.mu.Lock()
	fps := e.fps
	e.mu.Unlock()

	if err := e.Release(); err != nil {
		return err
	}
	return e.Init(width, height, bitrateKbps, fps)
}

// RequestKeyframe is honored on a best-effort basis: the software path has
// no direct "force IDR" control once ffmpeg is running with a closed GOP, so
// this simply notes intent; the fixed keyint already bounds IDR latency.
func (e *SoftwareFallbackEncoder) RequestKeyframe() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forceKeyframe = true
}

// SPS returns the most recently cached SPS NAL body, or nil.
func (e *SoftwareFallbackEncoder) SPS() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.SPS
}

// PPS returns the most recently cached PPS NAL body, or nil.
func (e *SoftwareFallbackEncoder) PPS() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.PPS
}

// Release closes stdin (signaling EOF to ffmpeg), waits for exit, and frees
// all subprocess resources. Safe to call more than once.
func (e *SoftwareFallbackEncoder) Release() error {
	e.mu.Lock()
	cmd := e.cmd
	stdin := e.stdin
	e.cmd = nil
	e.stdin = nil
	e.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil {
		done := make(chan struct{})
		go func() { cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
		}
	}
	return nil
}

// cmaEncoder documents the seam where a real VENC cgo binding would plug in:
// CMA-backed contiguous-memory allocation, hardware-queue submission, and
// interrupt-driven completion. No SoC toolchain exists in this environment,
// so every call fails with ErrEncoderUnavailable, exercising §7's
// EncoderInit failure path end-to-end (callers fall back to
// SoftwareFallbackEncoder or disable H.264 for the cycle).
type cmaEncoder struct{}

func (cmaEncoder) Init(int, int, int, int) error        { return errkind.ErrEncoderUnavailable }
func (cmaEncoder) Encode([]byte) ([]flv.NALUnit, error)  { return nil, errkind.ErrEncoderUnavailable }
func (cmaEncoder) Reconfigure(int, int, int) error       { return errkind.ErrEncoderUnavailable }
func (cmaEncoder) RequestKeyframe()                      {}
func (cmaEncoder) SPS() []byte                           { return nil }
func (cmaEncoder) PPS() []byte                           { return nil }
func (cmaEncoder) Release() error                        { return nil }

// NewCMAEncoder returns the hardware-VENC stub described above.
func NewCMAEncoder() Encoder { return cmaEncoder{} }
