package faultdetect

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"camerad/internal/config"
)

// scriptedBackend returns fixed, per-call-index scores so tests can drive
// exact scenarios without real model files.
type scriptedBackend struct {
	ready      bool
	cnn        []HeadScore
	proto      []HeadScore
	multi      []HeadScore
	multiLabel []Label
	heatmap    *Heatmap
	cnnIdx, protoIdx, multiIdx int
}

func (b *scriptedBackend) Ready() bool { return b.ready }

func (b *scriptedBackend) RunCNN([]byte, int, int) (HeadScore, error) {
	v := b.cnn[b.cnnIdx]
	if b.cnnIdx < len(b.cnn)-1 {
		b.cnnIdx++
	}
	return v, nil
}

func (b *scriptedBackend) RunProtoNet([]byte, int, int) (HeadScore, error) {
	v := b.proto[b.protoIdx]
	if b.protoIdx < len(b.proto)-1 {
		b.protoIdx++
	}
	return v, nil
}

func (b *scriptedBackend) RunMulticlass([]byte, int, int) (HeadScore, Label, error) {
	v := b.multi[b.multiIdx]
	lbl := b.multiLabel[b.multiIdx]
	if b.multiIdx < len(b.multi)-1 {
		b.multiIdx++
	}
	return v, lbl, nil
}

func (b *scriptedBackend) RunSpatial([]byte, int, int, int, int) (*Heatmap, error) {
	if b.heatmap == nil {
		return nil, nil
	}
	return b.heatmap, nil
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 2), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestEngineScenarioMajority(t *testing.T) {
	cfg := newTestConfig(StrategyMajority)
	backend := &scriptedBackend{
		ready: true,
		cnn:   []HeadScore{{Ran: true, Raw: 0.72, FaultLike: 0.72}},
		proto: []HeadScore{{Ran: true, Raw: 0.40, FaultLike: 0.40}},
		multi: []HeadScore{{Ran: true, Raw: 0.75, FaultLike: 0.75}},
		multiLabel: []Label{LabelSuccess},
	}
	jpg := testJPEG(t)

	e := NewEngine(cfg, Dependencies{
		Backend: backend,
		RequestFrame: func(time.Duration) ([]byte, bool) { return jpg, true },
	})

	if err := e.Cycle(); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	r := e.Result()
	if r == nil {
		t.Fatal("no result published")
	}
	if r.Verdict != VerdictOK {
		t.Fatalf("verdict = %v, want ok", r.Verdict)
	}
	if diff := r.Confidence - 0.377; diff > 0.005 || diff < -0.005 {
		t.Fatalf("confidence = %v, want ~0.377", r.Confidence)
	}
}

func TestEngineScenarioHeatmapBoost(t *testing.T) {
	cfg := newTestConfig(StrategyOR)
	cfg.HeatmapBoostThresh = 0.6
	var mask Mask
	for i := 0; i < cfg.GridRows*cfg.GridCols; i++ {
		mask.Set(i)
	}
	cfg.BaseMask = mask

	cells := make([]float64, cfg.GridRows*cfg.GridCols)
	strong := 0
	for i := range cells {
		if strong < 7 {
			cells[i] = 0.5
			strong++
		} else {
			cells[i] = 0.1
		}
	}
	heatmap := &Heatmap{Rows: cfg.GridRows, Cols: cfg.GridCols, Cells: cells, MaxValue: 1.72}

	backend := &scriptedBackend{
		ready:      true,
		cnn:        []HeadScore{{Ran: true, Raw: 0.30, FaultLike: 0.30}},
		proto:      []HeadScore{{Ran: true, Raw: 0.10, FaultLike: 0.10}},
		multi:      []HeadScore{{Ran: true, Raw: 0.62, FaultLike: 0.62}},
		multiLabel: []Label{LabelSpaghetti},
		heatmap:    heatmap,
	}
	jpg := testJPEG(t)

	e := NewEngine(cfg, Dependencies{
		Backend:      backend,
		RequestFrame: func(time.Duration) ([]byte, bool) { return jpg, true },
		CurrentZMM:   func() float64 { return 0 },
	})

	if err := e.Cycle(); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	r := e.Result()
	if r == nil {
		t.Fatal("no result published")
	}
	if r.Verdict != VerdictFault {
		t.Fatalf("verdict = %v, want fault (boost should override)", r.Verdict)
	}
	if !r.Boost.Overrode {
		t.Fatal("expected boost.Overrode = true")
	}
	if r.Label != LabelSpaghetti {
		t.Fatalf("label = %v, want Spaghetti", r.Label)
	}
	if diff := r.Confidence - 0.62; diff > 0.005 || diff < -0.005 {
		t.Fatalf("confidence = %v, want 0.62", r.Confidence)
	}
}

func TestEngineAndStrategyBothAboveThreshold(t *testing.T) {
	cfg := newTestConfig(StrategyAND)
	backend := &scriptedBackend{
		ready: true,
		cnn:   []HeadScore{{Ran: true, Raw: 0.9, FaultLike: 0.9}},
		proto: []HeadScore{{Ran: true, Raw: 0.9, FaultLike: 0.9}},
	}
	jpg := testJPEG(t)
	e := NewEngine(cfg, Dependencies{
		Backend:      backend,
		RequestFrame: func(time.Duration) ([]byte, bool) { return jpg, true },
	})
	if err := e.Cycle(); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if got := e.Result().Verdict; got != VerdictFault {
		t.Fatalf("verdict = %v, want fault", got)
	}
}

func TestEngineAndStrategyOnlyOneAboveThreshold(t *testing.T) {
	cfg := newTestConfig(StrategyAND)
	backend := &scriptedBackend{
		ready: true,
		cnn:   []HeadScore{{Ran: true, Raw: 0.9, FaultLike: 0.9}},
		proto: []HeadScore{{Ran: true, Raw: 0.1, FaultLike: 0.1}},
	}
	jpg := testJPEG(t)
	e := NewEngine(cfg, Dependencies{
		Backend:      backend,
		RequestFrame: func(time.Duration) ([]byte, bool) { return jpg, true },
	})
	if err := e.Cycle(); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if got := e.Result().Verdict; got != VerdictOK {
		t.Fatalf("verdict = %v, want ok", got)
	}
}

func TestEngineHeatmapBoostNeverDemotes(t *testing.T) {
	cfg := newTestConfig(StrategyOR)
	backend := &scriptedBackend{
		ready:      true,
		cnn:        []HeadScore{{Ran: true, Raw: 0.9, FaultLike: 0.9}},
		proto:      []HeadScore{{Ran: true, Raw: 0.9, FaultLike: 0.9}},
		multi:      []HeadScore{{Ran: true, Raw: 0.9, FaultLike: 0.9}},
		multiLabel: []Label{LabelCracking},
		// no heatmap configured: boost pass cannot run at all, so a
		// pre-boost fault verdict must survive unchanged.
	}
	jpg := testJPEG(t)
	e := NewEngine(cfg, Dependencies{
		Backend:      backend,
		RequestFrame: func(time.Duration) ([]byte, bool) { return jpg, true },
	})
	if err := e.Cycle(); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if got := e.Result().Verdict; got != VerdictFault {
		t.Fatalf("verdict = %v, want fault (no demotion)", got)
	}
}

func TestEngineGatesOnLowMemory(t *testing.T) {
	cfg := newTestConfig(StrategyOR)
	backend := &scriptedBackend{ready: true}
	jpg := testJPEG(t)
	called := false
	e := NewEngine(cfg, Dependencies{
		Backend:        backend,
		RequestFrame:   func(time.Duration) ([]byte, bool) { called = true; return jpg, true },
		AvailableMemMB: func() int { return 1 },
	})
	if err := e.Cycle(); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if called {
		t.Fatal("RequestFrame should not be called when memory gate trips")
	}
	if e.State() != StateIdle {
		t.Fatalf("state = %v, want idle", e.State())
	}
}

func TestEngineNoNPUState(t *testing.T) {
	cfg := newTestConfig(StrategyOR)
	e := NewEngine(cfg, Dependencies{Backend: UnavailableBackend{}})
	if err := e.Cycle(); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if e.State() != StateNoNPU {
		t.Fatalf("state = %v, want no_npu", e.State())
	}
}

func TestEngineDualIntervalSwitchesAndRecovers(t *testing.T) {
	cfg := newTestConfig(StrategyCNNOnly)
	cfg.IntervalSeconds = 5
	cfg.VerifyIntervalSec = 1
	// CNN scores are EMA-smoothed (alpha 0.3), so the faulting score is kept
	// low enough that the next raw 0.1 already smooths below 0.5.
	backend := &scriptedBackend{
		ready: true,
		cnn: []HeadScore{
			{Ran: true, Raw: 0.6, FaultLike: 0.6},
			{Ran: true, Raw: 0.1, FaultLike: 0.1},
			{Ran: true, Raw: 0.1, FaultLike: 0.1},
			{Ran: true, Raw: 0.1, FaultLike: 0.1},
		},
	}
	jpg := testJPEG(t)
	e := NewEngine(cfg, Dependencies{
		Backend:      backend,
		RequestFrame: func(time.Duration) ([]byte, bool) { return jpg, true },
	})

	e.Cycle() // fault -> verify mode
	if got := e.nextInterval(); got != time.Second {
		t.Fatalf("interval after fault = %v, want 1s (verify)", got)
	}
	e.Cycle() // ok 1
	e.Cycle() // ok 2
	if got := e.nextInterval(); got != time.Second {
		t.Fatalf("interval after 2 ok = %v, want still verify", got)
	}
	e.Cycle() // ok 3 -> back to base interval
	if got := e.nextInterval(); got != 5*time.Second {
		t.Fatalf("interval after 3 ok = %v, want 5s (base)", got)
	}
}

// newTestConfig builds an engine Config with the documented default
// thresholds and the given strategy, bypassing internal/config's Manager.
func newTestConfig(strategy Strategy) Config {
	return Config{
		FaultDetectConfig: config.FaultDetectConfig{
			Enabled:             true,
			Strategy:            string(strategy),
			IntervalSeconds:     5,
			VerifyIntervalSec:   1,
			MinFreeMemMB:        64,
			CNNThreshold:        0.5,
			CNNDynamicThreshold: 0.35,
			ProtoThreshold:      0.5,
			ProtoDynamicTrigger: 0.6,
			MulticlassThreshold: 0.81,
			HeatmapEnabled:      true,
			HeatmapBoostThresh:  0.6,
			BuzzerEnabled:       false,
		},
		GridRows: 14,
		GridCols: 28,
	}
}
