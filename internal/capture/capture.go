// Package capture implements the Capture Pump (§4.B): the V4L2
// DQBUF/QBUF loop, format selection, per-frame skip decision, and
// publication into the Frame Bus. Grounded on
// internal/usbcam/controller.go's state machine and format-selection logic
// (teacher), generalized from "stream to ffmpeg" into "publish to the frame
// bus and hand frames to the hardware encoder sink."
package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"camerad/internal/camera"
	"camerad/internal/errkind"
	"camerad/internal/framebus"
	"camerad/internal/hwenc"
	"camerad/internal/logger"
)

var log = logger.WithComponent("CAPTURE")

// SkipRatioSource reports the currently effective skip ratio (§4.B), which
// may be overridden by the CPU Budget Controller when auto_skip is on.
type SkipRatioSource func() int

// reconfigureRequest is applied at the next frame boundary (never
// mid-frame), per the contract's "takes effect at the next frame boundary."
type reconfigureRequest struct {
	width, height, fps int
}

// Pump owns one open V4L2 device and drives frames into a Bus, optionally
// feeding a hardware encoder sink for the H.264 path.
type Pump struct {
	bus      *framebus.Bus
	scanner  *camera.Scanner
	encoder  hwenc.Encoder // nil disables H.264 output
	skipFrom SkipRatioSource
	quality  func() int

	h264Width, h264Height int

	devicePath   string
	preferredFmt string
	maxW, maxH   int

	mu       sync.Mutex
	device   *camera.Device
	reconfig chan reconfigureRequest

	frameIndex       int64
	needFrame        atomic.Bool
	healthy          atomic.Bool
	lastDequeueError string

	// fdCopyOnce is not read or written by the pump; the fault-detect
	// need_frame handoff is carried by needFrame.
	fdCopyOnce atomic.Bool
}

// New creates a Pump bound to bus, able to fall back to scanner for
// format selection and reopen.
func New(bus *framebus.Bus, scanner *camera.Scanner, skipFrom SkipRatioSource, quality func() int) *Pump {
	p := &Pump{
		bus:      bus,
		scanner:  scanner,
		skipFrom: skipFrom,
		quality:  quality,
		reconfig: make(chan reconfigureRequest, 1),
	}
	p.healthy.Store(true)
	return p
}

// SetEncoder installs (or clears, with nil) the hardware encoder sink frames
// are handed to after skip/downscale.
func (p *Pump) SetEncoder(enc hwenc.Encoder, width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encoder = enc
	p.h264Width, p.h264Height = width, height
}

// RequestFDFrame arms the fault-detect frame handoff (§4.B step 4): the
// next captured cycle copies the current JPEG into the fd_source slot once.
func (p *Pump) RequestFDFrame() {
	p.needFrame.Store(true)
}

// Healthy reports the process-wide health flag §4.B's failure semantics
// describe: false once the capture thread has given up after two
// consecutive re-open failures.
func (p *Pump) Healthy() bool { return p.healthy.Load() }

// LastError returns the most recent dequeue/reopen error message.
func (p *Pump) LastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastDequeueError
}

// Open negotiates a format on devicePath (preferring preferredFmt if the
// device supports it) and starts streaming. maxW/maxH (0 = uncapped) bound
// the selected resolution per §4.B's format-selection rule.
func (p *Pump) Open(devicePath, preferredFmt string, maxW, maxH int) error {
	p.devicePath, p.preferredFmt, p.maxW, p.maxH = devicePath, preferredFmt, maxW, maxH

	desc, ok := p.lookupDescriptor(devicePath)
	var pixFmt string
	var width, height, fps int
	if ok {
		pixFmt, width, height, fps = desc.SelectFormat(maxW, maxH)
		if preferredFmt != "" && desc.SupportsFormat(preferredFmt) {
			pixFmt = preferredFmt
		}
	} else {
		pixFmt, width, height = preferredFmt, maxW, maxH
	}
	if pixFmt == "" {
		pixFmt = "YUYV"
	}

	dev, err := camera.Open(devicePath, width, height, pixFmt)
	if err != nil {
		return errkind.New(errkind.DeviceUnavailable, fmt.Sprintf("capture: open %s: %v", devicePath, err))
	}
	if err := dev.Start(); err != nil {
		dev.Close()
		return errkind.New(errkind.DeviceUnavailable, fmt.Sprintf("capture: start %s: %v", devicePath, err))
	}

	p.mu.Lock()
	p.device = dev
	p.mu.Unlock()
	_ = fps
	return nil
}

func (p *Pump) lookupDescriptor(devicePath string) (*camera.Descriptor, bool) {
	if p.scanner == nil {
		return nil, false
	}
	for _, d := range p.scanner.Cameras() {
		if d.DevicePath == devicePath {
			return d, true
		}
	}
	return nil, false
}

// Reconfigure queues a resolution/fps change, applied at the next frame
// boundary (§4.B contract).
func (p *Pump) Reconfigure(width, height, fps int) {
	select {
	case p.reconfig <- reconfigureRequest{width, height, fps}:
	default:
		// drop stale pending request, keep the newest
		select {
		case <-p.reconfig:
		default:
		}
		p.reconfig <- reconfigureRequest{width, height, fps}
	}
}

// Run drives RunOnce in a loop until stop fires.
func (p *Pump) Run(stop <-chan struct{}) {
	consecutiveFailures := 0
	reopenFailed := false

	for {
		select {
		case <-stop:
			return
		default:
		}

		p.applyPendingReconfigure()

		if err := p.RunOnce(); err != nil {
			consecutiveFailures++
			p.mu.Lock()
			p.lastDequeueError = err.Error()
			p.mu.Unlock()

			if consecutiveFailures > 5 {
				if reopenErr := p.reopen(); reopenErr != nil {
					log.Warn("reopen %s failed: %v", p.devicePath, reopenErr)
					if reopenFailed {
						log.Error("%s unhealthy after second consecutive reopen failure", p.devicePath)
						p.healthy.Store(false)
						return // fatal per §4.B: second consecutive re-open failure
					}
					reopenFailed = true
				} else {
					log.Info("reopened %s", p.devicePath)
					reopenFailed = false
				}
				consecutiveFailures = 0
			}
			continue
		}
		consecutiveFailures = 0
	}
}

func (p *Pump) applyPendingReconfigure() {
	select {
	case req := <-p.reconfig:
		p.mu.Lock()
		dev := p.device
		p.mu.Unlock()
		if dev == nil {
			return
		}
		dev.Stop()
		if err := p.Open(p.devicePath, p.preferredFmt, req.width, req.height); err != nil {
			p.mu.Lock()
			p.lastDequeueError = err.Error()
			p.mu.Unlock()
		}
	default:
	}
}

func (p *Pump) reopen() error {
	p.mu.Lock()
	if p.device != nil {
		p.device.Close()
		p.device = nil
	}
	p.mu.Unlock()
	return p.Open(p.devicePath, p.preferredFmt, p.maxW, p.maxH)
}

// RunOnce performs one DQBUF/skip-decide/publish/QBUF cycle (§4.B's
// "Algorithm per frame").
func (p *Pump) RunOnce() error {
	p.mu.Lock()
	dev := p.device
	p.mu.Unlock()
	if dev == nil {
		return errkind.New(errkind.DeviceUnavailable, "capture: device not open")
	}

	frame, err := dev.Dequeue()
	if err != nil {
		if isTransient(err) {
			return nil // transient: §4.B says retry, not an error cycle
		}
		return errkind.New(errkind.DeviceTransient, "capture: dequeue: "+err.Error())
	}
	defer dev.Requeue(frame.Index)

	idx := atomic.AddInt64(&p.frameIndex, 1)
	ratio := 1
	if p.skipFrom != nil {
		if r := p.skipFrom(); r > 0 {
			ratio = r
		}
	}
	if idx%int64(ratio) != 0 {
		return nil // skipped per the configured/auto ratio
	}

	jpegBytes, err := p.toJPEG(dev, frame.Data)
	if err != nil {
		return errkind.New(errkind.FrameCorrupt, "capture: encode jpeg: "+err.Error())
	}

	if err := p.bus.JPEG.Publish(jpegBytes, time.Now()); err != nil {
		// oversized payload: one-line diagnostic, no backpressure (§4.A)
		log.Warn("jpeg publish: %v", err)
	}

	if p.needFrame.CompareAndSwap(true, false) {
		p.bus.FDSource.Publish(jpegBytes, time.Now())
	}

	p.mu.Lock()
	enc := p.encoder
	w, h := p.h264Width, p.h264Height
	p.mu.Unlock()
	if enc != nil {
		h264Frame := jpegBytes
		if w > 0 && h > 0 && (w != dev.Width() || h != dev.Height()) {
			if scaled, err := downscaleJPEG(jpegBytes, w, h, p.qualityOrDefault()); err == nil {
				h264Frame = scaled
			}
		}
		if nals, err := enc.Encode(h264Frame); err == nil && len(nals) > 0 {
			var burst []byte
			for _, n := range nals {
				burst = append(burst, 0, 0, 0, 1)
				burst = append(burst, n.Data...)
			}
			p.bus.H264.Publish(burst, time.Now())
		}
	}

	return nil
}

func (p *Pump) qualityOrDefault() int {
	if p.quality != nil {
		if q := p.quality(); q > 0 {
			return q
		}
	}
	return 80
}

// toJPEG returns a JPEG payload for the dequeued frame: passthrough for an
// MJPEG-format device, or a YUYV-plane-walk + image/jpeg encode otherwise
// (§4.B step 3; no ecosystem YUYV codec exists in the retrieved pack, so
// this one conversion uses the standard library).
func (p *Pump) toJPEG(dev *camera.Device, data []byte) ([]byte, error) {
	if dev.PixelFormat() == "MJPEG" {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	img := yuyvToImage(data, dev.Width(), dev.Height())
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.qualityOrDefault()}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// yuyvToImage walks a packed YUYV (4:2:2) plane into an image.YCbCr, two
// luma samples and one shared chroma pair per four input bytes.
func yuyvToImage(data []byte, width, height int) *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for row := 0; row < height; row++ {
		rowOff := row * width * 2
		for col := 0; col < width; col += 2 {
			off := rowOff + col*2
			if off+3 >= len(data) {
				break
			}
			y0, u, y1, v := data[off], data[off+1], data[off+2], data[off+3]

			yi0 := img.YOffset(col, row)
			yi1 := img.YOffset(col+1, row)
			ci := img.COffset(col, row)

			img.Y[yi0] = y0
			if col+1 < width {
				img.Y[yi1] = y1
			}
			img.Cb[ci] = u
			img.Cr[ci] = v
		}
	}
	return img
}

// downscaleJPEG decodes src, scales it to width x height with a bilinear
// filter (golang.org/x/image/draw, carried from the pack's
// Reece-Reklai-learn_go_cam_dashboard dependency), and re-encodes as JPEG.
func downscaleJPEG(src []byte, width, height, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isTransient(err error) bool {
	// golang.org/x/sys/unix dequeue errors surface EAGAIN/EINTR as syscall.Errno;
	// the capture loop treats any such error as a retry, not a failure.
	type temporary interface{ Temporary() bool }
	if t, ok := err.(temporary); ok {
		return t.Temporary()
	}
	return false
}

// Shutdown stops and closes the device.
func (p *Pump) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return nil
	}
	err := p.device.Close()
	p.device = nil
	return err
}
