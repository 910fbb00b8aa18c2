package timelapse

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"camerad/internal/config"
	"camerad/internal/flv"
	"camerad/internal/framebus"
	"camerad/internal/hwenc"
)

func testJPEGBytes(t *testing.T, w, h int, fill color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func testConfig() config.TimelapseConfig {
	return config.TimelapseConfig{
		Mode:       config.TimelapseModeLayer,
		Storage:    config.StorageInternal,
		OutputFPS:  10,
		CRF:        23,
		VariableFPSMin: 10,
		VariableFPSMax: 60,
		TargetLength:   20,
	}
}

// fakeEncoder is a scripted hwenc.Encoder that emits one slice NAL per call,
// with an IDR on the first call.
type fakeEncoder struct {
	calls int
}

func (f *fakeEncoder) Init(width, height, bitrateKbps, fps int) error { return nil }
func (f *fakeEncoder) Reconfigure(width, height, bitrateKbps int) error { return nil }
func (f *fakeEncoder) Encode(frame []byte) ([]flv.NALUnit, error) {
	f.calls++
	typ := byte(flv.NALTypeSlice)
	if f.calls == 1 {
		typ = flv.NALTypeIDR
	}
	return []flv.NALUnit{{Type: typ, Data: []byte{0x01, 0x02, 0x03}}}, nil
}
func (f *fakeEncoder) RequestKeyframe()  {}
func (f *fakeEncoder) SPS() []byte       { return []byte{0x67, 0x42} }
func (f *fakeEncoder) PPS() []byte       { return []byte{0x68, 0xCE} }
func (f *fakeEncoder) Release() error    { return nil }

func newTestRecorder(t *testing.T, withEncoder bool) (*Recorder, string) {
	t.Helper()
	dir := t.TempDir()
	bus := &framebus.Bus{JPEG: framebus.NewJPEGSlot()}
	deps := Dependencies{Bus: bus}
	if withEncoder {
		deps.NewEncoder = func() hwenc.Encoder { return &fakeEncoder{} }
	}
	return New(testConfig(), dir, deps), dir
}

func TestRecorderPrintLifecycle(t *testing.T) {
	r, dir := newTestRecorder(t, true)

	if err := r.PrintStart("Test_PLA_0.2.gcode", false); err != nil {
		t.Fatalf("PrintStart: %v", err)
	}

	frame := testJPEGBytes(t, 64, 32, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	for i := 0; i < 3; i++ {
		frame[10] = byte(i) // vary bytes so seq differs each publish
		if err := r.deps.Bus.JPEG.Publish(frame, time.Now()); err != nil {
			t.Fatalf("publish: %v", err)
		}
		if err := r.CaptureFrame(); err != nil {
			t.Fatalf("CaptureFrame %d: %v", i, err)
		}
	}

	sess := r.Session()
	if sess == nil || sess.FrameCount != 3 {
		t.Fatalf("expected 3 captured frames, got %+v", sess)
	}

	r.PrintEnd("done")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !r.EncodeBusy() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if r.EncodeBusy() {
		t.Fatalf("finalize did not complete in time")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	sawMP4 := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".mp4" {
			sawMP4 = true
		}
	}
	if !sawMP4 {
		t.Fatalf("expected an mp4 output in %s, got entries %v", dir, entries)
	}
}

func TestRecorderDuplicateFrameSuppressed(t *testing.T) {
	r, _ := newTestRecorder(t, false)
	if err := r.PrintStart("job.gcode", false); err != nil {
		t.Fatalf("PrintStart: %v", err)
	}
	frame := testJPEGBytes(t, 32, 16, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	if err := r.deps.Bus.JPEG.Publish(frame, time.Now()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := r.CaptureFrame(); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if err := r.CaptureFrame(); err != nil {
		t.Fatalf("duplicate capture should be a no-op, got error: %v", err)
	}
	sess := r.Session()
	if sess.FrameCount != 1 {
		t.Fatalf("expected duplicate suppressed, frame count = %d", sess.FrameCount)
	}
}

func TestRecorderCustomModeBlocksLegacyStart(t *testing.T) {
	r, _ := newTestRecorder(t, false)
	if err := r.PrintStart("a.gcode", true); err != nil {
		t.Fatalf("PrintStart owner: %v", err)
	}
	first := r.Session()

	if err := r.PrintStart("b.gcode", false); err != nil {
		t.Fatalf("PrintStart legacy: %v", err)
	}
	second := r.Session()
	if second.BaseName != first.BaseName {
		t.Fatalf("legacy print_start should be ignored while custom_mode owns the session, got base=%s", second.BaseName)
	}
}

func TestRecorderLayerChangeSkipsFirstLayer(t *testing.T) {
	r, _ := newTestRecorder(t, false)
	if err := r.PrintStart("job.gcode", false); err != nil {
		t.Fatalf("PrintStart: %v", err)
	}
	frame := testJPEGBytes(t, 32, 16, color.RGBA{R: 5, G: 6, B: 7, A: 255})
	if err := r.deps.Bus.JPEG.Publish(frame, time.Now()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	r.LayerChange(1, 10) // first layer: no capture
	if sess := r.Session(); sess.FrameCount != 0 {
		t.Fatalf("layer 1 should not capture, got %d frames", sess.FrameCount)
	}
	r.LayerChange(2, 10)
	if sess := r.Session(); sess.FrameCount != 1 {
		t.Fatalf("layer 2 should capture, got %d frames", sess.FrameCount)
	}
}

func TestFindNextSequenceIncrements(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "Test_01.mp4"), []byte{}, 0o644)
	os.WriteFile(filepath.Join(dir, "Test_02.mp4"), []byte{}, 0o644)
	if got := findNextSequence(dir, "Test"); got != 3 {
		t.Fatalf("findNextSequence = %d, want 3", got)
	}
	if got := findNextSequence(dir, "Other"); got != 1 {
		t.Fatalf("findNextSequence for unseen name = %d, want 1", got)
	}
}

func TestValidJPEGRejectsTruncatedAndExtraMarkers(t *testing.T) {
	good := testJPEGBytes(t, 16, 16, color.RGBA{R: 1, G: 1, B: 1, A: 255})
	if !validJPEG(good) {
		t.Fatalf("well-formed jpeg rejected")
	}
	truncated := good[:len(good)-4]
	if validJPEG(truncated) {
		t.Fatalf("truncated jpeg accepted")
	}
	withExtraSOI := append([]byte{0xFF, 0xD8}, good...)
	if validJPEG(withExtraSOI) {
		t.Fatalf("jpeg with intermediate SOI accepted")
	}
}
