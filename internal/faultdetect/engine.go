package faultdetect

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"camerad/internal/logger"
)

var log = logger.WithComponent("FAULTDETECT")

const (
	cropWidth, cropHeight = 448, 224

	ledMandatoryOnInterval = 300 * time.Second
	ledOffCheckInterval    = 60 * time.Second
	ledStabilizeDelay      = 3 * time.Second

	frameRequestTimeout = 3 * time.Second

	heatmapMaxGate    = 0.45
	heatmapCellMargin = 0.3
	heatmapMinStrong  = 3
	leaningFraction   = 0.5
)

// Dependencies are the cross-component seams the engine needs: pulling a
// frame from the Capture Pump, reading free memory and the current Z
// height, checking whether the Hardware Encoder Sink / Time-lapse Recorder
// currently hold the encode_status busy flag, and driving the status LED
// and buzzer.
type Dependencies struct {
	Backend InferenceBackend

	// RequestFrame signals need_frame to the capture pump and blocks up to
	// timeout for a fresh fd_source JPEG. ok is false on timeout.
	RequestFrame func(timeout time.Duration) (jpegBytes []byte, ok bool)

	AvailableMemMB func() int
	EncodeBusy     func() bool
	CurrentZMM     func() float64

	SetLED func(on bool)
	Buzz   func(pattern string)
}

// Engine is the Fault-Detect Engine of §4.H: a single dedicated goroutine
// that wakes on a dual interval, gates on memory and encoder activity,
// pulls one frame, runs the configured model heads, combines them, applies
// the spatial heatmap boost, and publishes one Result per cycle.
type Engine struct {
	deps Dependencies

	cfgMu sync.RWMutex
	cfg   Config

	mu         sync.Mutex
	result     *Result
	state      State
	emaCNN      float64
	emaCNNValid bool
	emaMulti    float64
	emaMultiValid bool
	okStreak   int
	verifyMode bool

	ledMu       sync.Mutex
	ledOn       bool
	lastForceOn time.Time
	lastOffChk  time.Time

	lastBuzzMu sync.Mutex
	lastBuzzAt time.Time
}

// NewEngine constructs an Engine in its idle state.
func NewEngine(cfg Config, deps Dependencies) *Engine {
	return &Engine{
		cfg:   cfg,
		deps:  deps,
		state: StateIdle,
	}
}

// SetConfig replaces the active configuration and resets EMA/dual-interval
// state, per §4.H's "reset on config change" rule.
func (e *Engine) SetConfig(cfg Config) {
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()

	e.mu.Lock()
	e.emaCNNValid = false
	e.emaMultiValid = false
	e.okStreak = 0
	e.verifyMode = false
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Config returns the engine's active configuration, letting callers (the
// control server's settings endpoint) merge in a new persisted
// FaultDetectConfig without losing the resolved ZTable/BaseMask/grid.
func (e *Engine) Config() Config { return e.config() }

// Result returns the most recently published Result, or nil before the
// first completed cycle.
func (e *Engine) Result() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// State returns the engine's current visible state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// nextInterval implements the dual-interval rule: a fault cycle switches to
// the verify interval; three consecutive ok cycles return to the base
// interval.
func (e *Engine) nextInterval() time.Duration {
	cfg := e.config()
	e.mu.Lock()
	verify := e.verifyMode
	e.mu.Unlock()
	if verify {
		return durationFromSeconds(cfg.VerifyIntervalSec)
	}
	return durationFromSeconds(cfg.IntervalSeconds)
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		return time.Second
	}
	return time.Duration(s * float64(time.Second))
}

// Run drives the cycle loop until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.nextInterval()):
			e.Cycle()
		}
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	if prev != s {
		log.Info("state transition %s -> %s", prev, s)
	}
}

// Cycle runs exactly one inference cycle: gating, LED keep-alive, frame
// acquisition, head inference, combine, heatmap boost, and publish. It
// never returns an error for expected gated/skipped conditions; it returns
// one only for frame-decode or backend failures so callers can log it.
func (e *Engine) Cycle() error {
	cfg := e.config()
	if !cfg.Enabled {
		e.setState(StateIdle)
		return nil
	}
	if !e.deps.Backend.Ready() {
		e.setState(StateNoNPU)
		return nil
	}

	e.maintainLED(time.Now())

	if e.deps.AvailableMemMB != nil && e.deps.AvailableMemMB() < cfg.MinFreeMemMB {
		e.setState(StateIdle)
		return nil
	}
	if e.deps.EncodeBusy != nil && e.deps.EncodeBusy() {
		e.setState(StateIdle)
		return nil
	}

	e.setState(StateRunning)

	raw, ok := e.deps.RequestFrame(frameRequestTimeout)
	if !ok {
		e.setState(StateIdle)
		return nil
	}

	img, rect, err := decodeAndPrepare(raw)
	if err != nil {
		e.setState(StateError)
		return fmt.Errorf("faultdetect: decode frame: %w", err)
	}

	result, err := e.runCycle(cfg, img, rect)
	if err != nil {
		e.setState(StateError)
		return err
	}

	e.publish(result)
	e.setState(StateIdle)
	return nil
}

// runCycle implements steps 8-10 of §4.H over an already-prepared
// 448x224x3 RGB buffer: run heads, combine by strategy, apply heatmap
// boost, compute confidence.
func (e *Engine) runCycle(cfg Config, img []byte, crop CropRect) (*Result, error) {
	strategy := cfg.strategy()

	cnn, proto, multi, multiRan, label, err := e.runHeads(cfg, strategy, img, cropWidth, cropHeight)
	if err != nil {
		return nil, err
	}

	cnnThreshold := resolveCNNThreshold(strategy, proto.FaultLike, cfg)
	cnnV := vote(cnn, cnnThreshold)
	protoV := vote(proto, cfg.ProtoThreshold)
	multiV := vote(multi, cfg.MulticlassThreshold)

	verdict := combine(strategy, cnnV, protoV, multiV, multiRan)

	var heatmap *Heatmap
	boost := Boost{}
	if cfg.HeatmapEnabled && e.deps.Backend.Ready() {
		if hm, herr := e.deps.Backend.RunSpatial(img, cropWidth, cropHeight, cfg.GridRows, cfg.GridCols); herr == nil {
			heatmap = hm
		}
	}

	var z float64
	if e.deps.CurrentZMM != nil {
		z = e.deps.CurrentZMM()
	}
	activeMask := cfg.ZTable.MaskForZ(z, cfg.BaseMask)

	if heatmap != nil {
		strong, total := countStrongCells(heatmap, activeMask, cfg.GridCols)
		boost.StrongCells = strong
		boost.TotalCells = total

		if verdict == VerdictOK && heatmap.MaxValue > heatmapMaxGate && strong >= heatmapMinStrong {
			heatmapOnly := heatmap.MaxValue > cfg.HeatmapBoostThresh &&
				(cnnV.leaning || protoV.leaning || multiV.leaning)
			strategyAware := strategyAwareCorroboration(strategy, cnnV, protoV, multiV)

			if heatmapOnly || strategyAware {
				boost.Active = true
				boost.Overrode = true
				verdict = VerdictFault

				// §9: post-boost multiclass additionally respects the
				// encode_status exclusion flag, run only if idle/success/failed.
				if !multiRan && (e.deps.EncodeBusy == nil || !e.deps.EncodeBusy()) {
					if hs, lbl, herr := e.deps.Backend.RunMulticlass(img, cropWidth, cropHeight); herr == nil {
						multi = hs
						label = lbl
						multiV = vote(multi, cfg.MulticlassThreshold)
						multiRan = true
					}
				}
			}
		}
	}

	heads := activeHeadsFor(strategy, cnn, proto, multi, multiRan)
	confidence := confidenceFor(verdict, heads)
	if boost.Overrode {
		if multiRan {
			confidence = multi.FaultLike
		} else {
			confidence = max64(cnn.FaultLike, proto.FaultLike)
		}
		if confidence < 0.5 {
			confidence = 0.5
		}
	}

	e.updateDualInterval(verdict)
	e.maybeBuzz(cfg, verdict)

	totalMs := cnn.InferMs + proto.InferMs
	if multiRan {
		totalMs += multi.InferMs
	}

	if !multiRan {
		label = ""
	}

	return &Result{
		Verdict:      verdict,
		Confidence:   confidence,
		Label:        label,
		CNN:          cnn,
		ProtoNet:     proto,
		Multiclass:   multi,
		TotalInferMs: totalMs,
		Heatmap:      heatmap,
		Boost:        boost,
		Crop:         crop,
		CycledAt:     time.Now(),
	}, nil
}

// runHeads runs whichever heads the strategy requires, applying EMA
// smoothing (CNN, Multiclass) across cycles.
func (e *Engine) runHeads(cfg Config, strategy Strategy, img []byte, w, h int) (cnn, proto, multi HeadScore, multiRan bool, label Label, err error) {
	needCNN, needProto, needMultiAlways := requiredHeads(strategy)

	if needCNN {
		cnn, err = e.deps.Backend.RunCNN(img, w, h)
		if err != nil {
			return HeadScore{}, HeadScore{}, HeadScore{}, false, "", fmt.Errorf("faultdetect: cnn head: %w", err)
		}
		cnn.Raw, cnn.FaultLike = e.smoothCNN(cnn.Raw)
	}
	if needProto {
		proto, err = e.deps.Backend.RunProtoNet(img, w, h)
		if err != nil {
			return HeadScore{}, HeadScore{}, HeadScore{}, false, "", fmt.Errorf("faultdetect: protonet head: %w", err)
		}
	}

	runMulti := needMultiAlways
	if strategy == StrategyVerify {
		cnnFlag := cnn.Ran && cnn.FaultLike >= resolveCNNThreshold(strategy, proto.FaultLike, cfg)
		protoFlag := proto.Ran && proto.FaultLike >= cfg.ProtoThreshold
		runMulti = cnnFlag || protoFlag
	}
	if runMulti {
		var hs HeadScore
		hs, label, err = e.deps.Backend.RunMulticlass(img, w, h)
		if err != nil {
			return HeadScore{}, HeadScore{}, HeadScore{}, false, "", fmt.Errorf("faultdetect: multiclass head: %w", err)
		}
		hs.Raw, hs.FaultLike = e.smoothMulticlass(hs.Raw)
		multi = hs
		multiRan = true
	}

	return cnn, proto, multi, multiRan, label, nil
}

// requiredHeads reports which heads a strategy always runs (before
// verify's conditional multiclass rule and the heatmap boost's post-boost
// rule are layered on top).
func requiredHeads(strategy Strategy) (cnn, proto, multiAlways bool) {
	switch strategy {
	case StrategyCNNOnly:
		return true, false, false
	case StrategyProtoNet:
		return false, true, false
	case StrategyMulticlass:
		return false, false, true
	case StrategyVerify:
		return true, true, false
	case StrategyClassify, StrategyClassifyAnd, StrategyAND:
		return true, true, false
	default: // or, all, majority
		return true, true, true
	}
}

func (e *Engine) smoothCNN(raw float64) (float64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	smoothed := applyEMA(e.emaCNN, e.emaCNNValid, raw)
	e.emaCNN = smoothed
	e.emaCNNValid = true
	return smoothed, smoothed
}

func (e *Engine) smoothMulticlass(raw float64) (float64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	smoothed := applyEMA(e.emaMulti, e.emaMultiValid, raw)
	e.emaMulti = smoothed
	e.emaMultiValid = true
	return smoothed, smoothed
}

func (e *Engine) updateDualInterval(verdict Verdict) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if verdict == VerdictFault {
		e.verifyMode = true
		e.okStreak = 0
		return
	}
	if e.verifyMode {
		e.okStreak++
		if e.okStreak >= 3 {
			e.verifyMode = false
			e.okStreak = 0
		}
	}
}

func (e *Engine) publish(r *Result) {
	e.mu.Lock()
	e.result = r
	e.mu.Unlock()
}

func (e *Engine) maybeBuzz(cfg Config, verdict Verdict) {
	if !cfg.BuzzerEnabled || verdict != VerdictFault || e.deps.Buzz == nil {
		return
	}
	e.lastBuzzMu.Lock()
	defer e.lastBuzzMu.Unlock()
	e.lastBuzzAt = time.Now()
	e.deps.Buzz(cfg.BuzzerPattern)
}

// maintainLED implements the LED keep-alive rule: the status LED is forced
// on at least every 300s, with an off-state check (and 3s restabilize
// delay before re-sampling) every 60s.
func (e *Engine) maintainLED(now time.Time) {
	if e.deps.SetLED == nil {
		return
	}
	e.ledMu.Lock()
	defer e.ledMu.Unlock()

	if e.lastForceOn.IsZero() || now.Sub(e.lastForceOn) >= ledMandatoryOnInterval {
		e.deps.SetLED(true)
		e.ledOn = true
		e.lastForceOn = now
		e.lastOffChk = now
		return
	}

	if now.Sub(e.lastOffChk) >= ledOffCheckInterval {
		e.lastOffChk = now
		if !e.ledOn {
			e.deps.SetLED(true)
			e.ledOn = true
			time.Sleep(ledStabilizeDelay)
		}
	}
}

// decodeAndPrepare decodes a JPEG frame and fused resize+crops it to a
// 448x224x3 RGB buffer via bilinear scaling, returning the normalized
// center-crop rectangle used.
func decodeAndPrepare(jpegBytes []byte) ([]byte, CropRect, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		return nil, CropRect{}, err
	}
	return fuseResizeCrop(img)
}

// fuseResizeCrop scales img to fill a cropWidth x cropHeight frame
// (preserving aspect ratio, cropping the excess dimension symmetrically)
// and returns the RGB bytes plus the normalized source crop rectangle.
func fuseResizeCrop(img image.Image) ([]byte, CropRect, error) {
	b := img.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw == 0 || sh == 0 {
		return nil, CropRect{}, fmt.Errorf("faultdetect: empty source image")
	}

	targetAspect := float64(cropWidth) / float64(cropHeight)
	srcAspect := float64(sw) / float64(sh)

	srcRect := b
	var rect CropRect
	if srcAspect > targetAspect {
		// source is wider than target: crop left/right
		wantW := int(float64(sh) * targetAspect)
		x0 := b.Min.X + (sw-wantW)/2
		srcRect = image.Rect(x0, b.Min.Y, x0+wantW, b.Max.Y)
		rect = CropRect{X0: float64(x0-b.Min.X) / float64(sw), Y0: 0, X1: float64(x0-b.Min.X+wantW) / float64(sw), Y1: 1}
	} else {
		// source is taller than target: crop top/bottom
		wantH := int(float64(sw) / targetAspect)
		y0 := b.Min.Y + (sh-wantH)/2
		srcRect = image.Rect(b.Min.X, y0, b.Max.X, y0+wantH)
		rect = CropRect{X0: 0, Y0: float64(y0-b.Min.Y) / float64(sh), X1: 1, Y1: float64(y0-b.Min.Y+wantH) / float64(sh)}
	}

	dst := image.NewRGBA(image.Rect(0, 0, cropWidth, cropHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, srcRect, draw.Src, nil)

	out := make([]byte, cropWidth*cropHeight*3)
	for y := 0; y < cropHeight; y++ {
		for x := 0; x < cropWidth; x++ {
			i := dst.PixOffset(x, y)
			o := (y*cropWidth + x) * 3
			out[o], out[o+1], out[o+2] = dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2]
		}
	}
	return out, rect, nil
}

// countStrongCells counts cells with margin > heatmapCellMargin inside the
// active Z-mask, plus the total number of cells the mask activates.
func countStrongCells(h *Heatmap, mask Mask, gridCols int) (strong, total int) {
	for r := 0; r < h.Rows; r++ {
		for c := 0; c < h.Cols; c++ {
			idx := r*gridCols + c
			if !mask.IsSet(idx) {
				continue
			}
			total++
			if h.At(r, c) > heatmapCellMargin {
				strong++
			}
		}
	}
	return strong, total
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
