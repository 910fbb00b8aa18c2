package timelapse

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"os"
	"os/exec"
	"path/filepath"

	"camerad/internal/config"
	"camerad/internal/errkind"
	"camerad/internal/flv"
	"camerad/internal/mp4"
	"camerad/internal/numeric"
)

// finalizeAsync runs the deferred-encode pipeline in the background,
// per §4.G: "Finalize (deferred encode)".
func (r *Recorder) finalizeAsync(sess *Session) {
	r.encoding.Store(true)
	go r.finalize(sess)
}

// finalize implements the full finalize pipeline over sess's temp
// directory, always removing the temp directory on exit regardless of
// outcome (§4.G's failure semantics).
func (r *Recorder) finalize(sess *Session) {
	r.encoding.Store(true)
	sess.Status = StatusRunning
	defer func() {
		r.encoding.Store(false)
		os.RemoveAll(sess.TempDir)
	}()

	if sess.FrameCount == 0 {
		sess.Status = StatusFailed
		sess.Detail = "no frames captured"
		return
	}

	cfg := r.config()
	if cfg.DuplicateLastFrame > 0 {
		if err := duplicateLastFrame(sess, cfg.DuplicateLastFrame); err != nil {
			sess.Status = StatusFailed
			sess.Detail = err.Error()
			return
		}
	}

	fps := resolveFPS(cfg, sess.FrameCount)
	frames := listFrames(sess.TempDir, sess.FrameCount)

	outDir := r.outputDir()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		sess.Status = StatusFailed
		sess.Detail = err.Error()
		return
	}
	outPath := filepath.Join(outDir, sequencedName(sess.BaseName, sess.Seq))

	err := r.encodeHW(frames, fps, outPath)
	if err != nil && r.deps.NewEncoder != nil {
		sess.Detail = fmt.Sprintf("hw encode failed: %v; falling back", err)
	}
	if err != nil {
		err = r.encodeFFmpeg(sess.TempDir, fps, cfg, outPath, true)
	}
	if err != nil {
		err = r.encodeFFmpeg(sess.TempDir, fps, cfg, outPath, false)
	}

	if err != nil {
		sess.Status = StatusFailed
		sess.Detail = err.Error()
		log.Error("finalize %s seq=%d failed: %v", sess.BaseName, sess.Seq, err)
		return
	}

	if err := copyFile(frames[len(frames)-1], filepath.Join(outDir, thumbnailName(sess.BaseName, sess.Seq, sess.FrameCount))); err != nil {
		sess.Detail = fmt.Sprintf("thumbnail copy failed: %v", err)
	}

	sess.Status = StatusSuccess
	sess.Detail = outPath
	log.Info("finalized %s seq=%d -> %s (%d frames @%.2ffps)", sess.BaseName, sess.Seq, outPath, sess.FrameCount, fps)
}

// resolveFPS implements §4.G's output-fps rule.
func resolveFPS(cfg config.TimelapseConfig, frameCount int) float64 {
	if !cfg.VariableFPS {
		return cfg.OutputFPS
	}
	if cfg.TargetLength <= 0 {
		return cfg.OutputFPS
	}
	return numeric.Clamp(float64(frameCount)/cfg.TargetLength, cfg.VariableFPSMin, cfg.VariableFPSMax)
}

func listFrames(dir string, count int) []string {
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", i)))
	}
	return out
}

func duplicateLastFrame(sess *Session, k int) error {
	last := filepath.Join(sess.TempDir, fmt.Sprintf("frame_%04d.jpg", sess.FrameCount-1))
	for i := 0; i < k; i++ {
		next := filepath.Join(sess.TempDir, fmt.Sprintf("frame_%04d.jpg", sess.FrameCount+i))
		if err := copyFile(last, next); err != nil {
			return err
		}
	}
	sess.FrameCount += k
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// encodeHW is the preferred path: initialize the hardware encoder sink
// with the first frame's dimensions and the computed fps, push each
// decoded frame in order, and mux the resulting H.264 into MP4 (§4.G).
func (r *Recorder) encodeHW(frames []string, fps float64, outPath string) error {
	if r.deps.NewEncoder == nil {
		return errkind.ErrEncoderUnavailable
	}
	enc := r.deps.NewEncoder()
	if enc == nil {
		return errkind.ErrEncoderUnavailable
	}
	defer enc.Release()

	w, h, err := decodeJPEGDims(frames[0])
	if err != nil {
		return err
	}
	if err := enc.Init(w, h, 2000, int(fps+0.5)); err != nil {
		return err
	}
	enc.RequestKeyframe()

	duration := uint32(1000 / fps)
	var samples []mp4.Sample
	for _, path := range frames {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		nals, err := enc.Encode(data)
		if err != nil {
			return err
		}
		var payload []byte
		keyframe := false
		for _, n := range nals {
			switch n.Type {
			case flv.NALTypeSPS, flv.NALTypePPS:
				continue
			case flv.NALTypeIDR:
				keyframe = true
			}
			payload = flv.AppendLengthPrefixedNAL(payload, n.Data)
		}
		if len(payload) == 0 {
			continue
		}
		samples = append(samples, mp4.Sample{Data: payload, Duration: duration, Keyframe: keyframe})
	}
	if len(samples) == 0 {
		return fmt.Errorf("timelapse: hw encoder produced no samples")
	}

	track := mp4.Track{Width: w, Height: h, Timescale: 1000, SPS: enc.SPS(), PPS: enc.PPS()}
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return mp4.Mux(f, track, samples)
}

func decodeJPEGDims(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// flipFilter resolves §6.3's -vf value from the flip flags.
func flipFilter(flipX, flipY bool) string {
	switch {
	case flipX && flipY:
		return "hflip,vflip"
	case flipX:
		return "hflip"
	case flipY:
		return "vflip"
	default:
		return ""
	}
}

// encodeFFmpeg invokes the external software encoder per §6.3's exact argv
// shape: primary (libx264) when primary is true, second-tier (mpeg4)
// fallback otherwise. Invocation is fork+execv, no shell.
func (r *Recorder) encodeFFmpeg(dir string, fps float64, cfg config.TimelapseConfig, outPath string, primary bool) error {
	args := []string{
		"-y",
		"-framerate", fmt.Sprintf("%g", fps),
		"-i", filepath.Join(dir, "frame_%04d.jpg"),
	}
	if filter := flipFilter(cfg.FlipX, cfg.FlipY); filter != "" {
		args = append(args, "-vf", filter)
	}
	if primary {
		args = append(args,
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-tune", "zerolatency",
			"-x264-params", "keyint=30:min-keyint=10:scenecut=0:bframes=0:ref=1:rc-lookahead=0:threads=1",
			"-crf", fmt.Sprintf("%d", cfg.CRF),
			"-pix_fmt", "yuv420p",
		)
	} else {
		args = append(args, "-c:v", "mpeg4", "-q:v", "5")
	}
	args = append(args, outPath)

	path := r.deps.FFmpegPath
	cmd := exec.Command(path, args...)
	return cmd.Run()
}
