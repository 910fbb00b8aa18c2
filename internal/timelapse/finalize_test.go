package timelapse

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

func sequencedFrameName(idx int) string {
	return fmt.Sprintf("frame_%04d.jpg", idx)
}

func writeTestFrame(t *testing.T, dir string, idx int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: byte(idx), G: 1, B: 1, A: 255})
		}
	}
	f, err := os.Create(filepath.Join(dir, sequencedFrameName(idx)))
	if err != nil {
		t.Fatalf("create frame: %v", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func TestResolveFPSFixed(t *testing.T) {
	cfg := testConfig()
	cfg.VariableFPS = false
	cfg.OutputFPS = 12
	if got := resolveFPS(cfg, 100); got != 12 {
		t.Fatalf("resolveFPS fixed = %v, want 12", got)
	}
}

func TestResolveFPSVariableClamped(t *testing.T) {
	cfg := testConfig()
	cfg.VariableFPS = true
	cfg.TargetLength = 10
	cfg.VariableFPSMin = 10
	cfg.VariableFPSMax = 60

	if got := resolveFPS(cfg, 5); got != 10 {
		t.Fatalf("low frame count should clamp to min, got %v", got)
	}
	if got := resolveFPS(cfg, 10000); got != 60 {
		t.Fatalf("high frame count should clamp to max, got %v", got)
	}
	if got := resolveFPS(cfg, 300); got != 30 {
		t.Fatalf("resolveFPS(300, target 10) = %v, want 30", got)
	}
}

func TestFlipFilter(t *testing.T) {
	cases := []struct {
		x, y bool
		want string
	}{
		{false, false, ""},
		{true, false, "hflip"},
		{false, true, "vflip"},
		{true, true, "hflip,vflip"},
	}
	for _, c := range cases {
		if got := flipFilter(c.x, c.y); got != c.want {
			t.Fatalf("flipFilter(%v,%v) = %q, want %q", c.x, c.y, got, c.want)
		}
	}
}

func TestDuplicateLastFrame(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		writeTestFrame(t, dir, i)
	}
	sess := &Session{TempDir: dir, FrameCount: 3}
	if err := duplicateLastFrame(sess, 2); err != nil {
		t.Fatalf("duplicateLastFrame: %v", err)
	}
	if sess.FrameCount != 5 {
		t.Fatalf("frame count after duplication = %d, want 5", sess.FrameCount)
	}
	for i := 3; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, sequencedFrameName(i))); err != nil {
			t.Fatalf("expected duplicated frame %d to exist: %v", i, err)
		}
	}
}

func TestEncodeHWProducesMP4(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 4; i++ {
		writeTestFrame(t, dir, i)
	}
	frames := listFrames(dir, 4)
	outPath := filepath.Join(dir, "out.mp4")

	rec, _ := newTestRecorder(t, true)
	if err := rec.encodeHW(frames, 10, outPath); err != nil {
		t.Fatalf("encodeHW: %v", err)
	}
	info, err := os.Stat(outPath)
	if err != nil {
		t.Fatalf("expected mp4 output: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("mp4 output is empty")
	}
}

func TestEncodeHWMissingEncoderReturnsError(t *testing.T) {
	dir := t.TempDir()
	writeTestFrame(t, dir, 0)
	rec, _ := newTestRecorder(t, false)
	err := rec.encodeHW(listFrames(dir, 1), 10, filepath.Join(dir, "out.mp4"))
	if err == nil {
		t.Fatalf("expected error with no encoder configured")
	}
}
