package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"camerad/internal/capture"
	"camerad/internal/flvsrv"
	"camerad/internal/framebus"
	"camerad/internal/hwenc"
	"camerad/internal/logger"
	"camerad/internal/mjpegsrv"
)

// secondaryArgs mirrors the argv the supervisor builds in
// internal/supervisor/supervisor.go's start().
type secondaryArgs struct {
	cameraID      int
	device        string
	streamingPort int
	width, height int
	forceMJPEG    bool
	fps           int
}

// runSecondary runs the capture/encode/stream pipeline for one non-primary
// camera. It carries no control server, supervisor, or fault-detect engine
// of its own — those are the primary process's job.
func runSecondary(args secondaryArgs) {
	logger.Info("camerad starting in secondary mode, camera_id=%d device=%s port=%d", args.cameraID, args.device, args.streamingPort)

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	stop := ctx.Done()

	width, height := args.width, args.height
	if width == 0 || height == 0 {
		width, height = 1280, 720
	}
	fps := args.fps
	if fps == 0 {
		fps = 15
	}

	bus := framebus.New()
	pump := capture.New(bus, nil, func() int { return 1 }, func() int { return 80 })
	if err := pump.Open(args.device, "", width, height); err != nil {
		logger.Error("secondary camera %d open failed: %v", args.cameraID, err)
	}

	var encoder hwenc.Encoder
	if !args.forceMJPEG {
		encoder = &hwenc.SoftwareFallbackEncoder{}
		if err := encoder.Init(width, height, 1500, fps); err != nil {
			logger.Error("secondary camera %d h264 init failed: %v", args.cameraID, err)
			encoder = nil
		} else {
			pump.SetEncoder(encoder, width, height)
		}
	}

	mjpeg := mjpegsrv.New(bus.JPEG)
	flv := flvsrv.New(bus.H264, width, height, fps, "libx264")
	flv.RequestKeyframe = func() {
		if encoder != nil {
			encoder.RequestKeyframe()
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/", mjpeg.Handler())
	mux.Handle("/flv", flv.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", args.streamingPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go pump.Run(stop)
	go flv.Run(stop)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("secondary camera %d streaming server failed: %v", args.cameraID, err)
		}
	}()

	<-stop
	logger.Info("camerad secondary camera %d shutting down", args.cameraID)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = pump.Shutdown()
	if encoder != nil {
		_ = encoder.Release()
	}
}
