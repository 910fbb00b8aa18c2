package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camerad/internal/camera"
	"camerad/internal/capture"
	"camerad/internal/config"
	"camerad/internal/control"
	"camerad/internal/cpubudget"
	"camerad/internal/faultdetect"
	"camerad/internal/flvproxy"
	"camerad/internal/flvsrv"
	"camerad/internal/framebus"
	"camerad/internal/hwenc"
	"camerad/internal/logger"
	"camerad/internal/mjpegsrv"
	"camerad/internal/printevent"
	"camerad/internal/stats"
	"camerad/internal/supervisor"
	"camerad/internal/timelapse"
)

const (
	internalTimelapseDir     = "/var/lib/camerad/timelapse"
	defaultModelManifestPath = "/etc/camerad/models.yaml"
)

var printEventURL = flag.String("print-event-url", "ws://127.0.0.1:7125/websocket", "moonraker websocket URL for print events")

// runPrimary owns camera 1's capture pipeline plus every process-wide
// singleton: the control server, the supervisor of non-primary cameras, the
// fault-detect engine, the time-lapse recorder, and the print-event hook.
func runPrimary(configPath string) {
	cfgManager := loadConfig(configPath)
	cfg := cfgManager.Get()

	logger.Info("camerad starting in primary mode, streaming_port=%d control_port=%d", cfg.StreamingPort, cfg.ControlPort)

	scanner := camera.NewScanner(cfg.PrimaryUSBPort, nil)
	descriptors, err := scanner.Scan()
	if err != nil {
		logger.Error("camera scan failed: %v", err)
	}

	var primary *camera.Descriptor
	for _, d := range descriptors {
		if d.IsPrimary {
			primary = d
			break
		}
	}
	if primary == nil {
		logger.Warn("no primary camera found at startup; capture pipeline idles until one appears")
		primary = &camera.Descriptor{CameraID: 1, StreamPort: cfg.StreamingPort, IsPrimary: true}
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	stop := ctx.Done()

	bus := framebus.New()
	cpuBudget := cpubudget.New(cfg.SkipRatio, cfg.TargetCPUPercent, 5.0, nil)
	cpuBudget.SetAutoSkip(cfg.AutoSkip)

	pump := capture.New(bus, scanner, cpuBudget.EffectiveRatio, func() int { return cfgManager.Get().JPEGQuality })
	if err := pump.Open(primary.DevicePath, "", cfg.H264Width, cfg.H264Height); err != nil {
		logger.Error("primary camera open failed: %v", err)
	}

	var encoder hwenc.Encoder
	if cfg.H264Enabled {
		encoder = &hwenc.SoftwareFallbackEncoder{}
		if err := encoder.Init(cfg.H264Width, cfg.H264Height, cfg.H264BitrateKbps, cfg.MJPEGFPSCap); err != nil {
			logger.Error("h264 encoder init failed: %v", err)
		} else {
			pump.SetEncoder(encoder, cfg.H264Width, cfg.H264Height)
		}
	}

	mjpeg := mjpegsrv.New(bus.JPEG)
	flv := flvsrv.New(bus.H264, cfg.H264Width, cfg.H264Height, cfg.MJPEGFPSCap, "libx264")
	flv.RequestKeyframe = func() {
		if encoder != nil {
			encoder.RequestKeyframe()
		}
	}
	flvProxy := flvproxy.New()

	statsCollector := stats.NewCollector()
	logBuffer := stats.NewLogBuffer(1000)

	timelapseRecorder := timelapse.New(cfg.Timelapse, internalTimelapseDir, timelapse.Dependencies{
		Bus: bus,
		NewEncoder: func() hwenc.Encoder {
			if cfg.H264Enabled {
				return &hwenc.SoftwareFallbackEncoder{}
			}
			return nil
		},
	})

	faultEngine := faultdetect.NewEngine(
		faultdetect.FromPersisted(cfg.FaultDetect, nil, faultdetect.Mask{}),
		faultdetect.Dependencies{
			Backend: faultdetect.UnavailableBackend{},
			RequestFrame: func(timeout time.Duration) ([]byte, bool) {
				pump.RequestFDFrame()
				buf := make([]byte, bus.FDSource.MaxSize())
				deadline := time.Now().Add(timeout)
				for time.Now().Before(deadline) {
					if n, _, _, ok := bus.FDSource.Snapshot(buf); ok {
						return append([]byte(nil), buf[:n]...), true
					}
					time.Sleep(10 * time.Millisecond)
				}
				return nil, false
			},
			EncodeBusy: timelapseRecorder.EncodeBusy,
		},
	)

	sup := supervisor.New(supervisor.Dependencies{
		BinaryPath: os.Args[0],
		Cameras:    scanner.Cameras,
		Overrides: func(cameraID int) config.CameraOverride {
			return cfgManager.Get().CameraOverrides[cameraID]
		},
		DisableCamera: func(cameraID int, reason string) {
			scanner.SetEnabled(cameraID, false)
			scanner.SetError(cameraID, reason)
		},
	})

	printClient := printevent.New(*printEventURL, timelapseRecorder)

	modelManifestPath := ""
	if _, err := os.Stat(defaultModelManifestPath); err == nil {
		modelManifestPath = defaultModelManifestPath
	} else {
		logger.Info("no model manifest at %s; fault detect model_set list will be empty", defaultModelManifestPath)
	}

	controlServer := control.New(control.Dependencies{
		Config:      cfgManager,
		Cameras:     scanner,
		Supervisor:  sup,
		Recorder:    timelapseRecorder,
		FaultEngine: faultEngine,
		CPUBudget:   cpuBudget,
		FLVProxy:    flvProxy,
		Stats:       statsCollector,
		Logs:        logBuffer,
		MJPEG:       mjpeg,
		FLV:         flv,

		USBMountPrefix:    cfg.Timelapse.USBPath,
		InternalDir:       internalTimelapseDir,
		ModelManifestPath: modelManifestPath,

		Restart: func() {
			logger.Info("restart requested via control API")
			os.Exit(0)
		},
	})

	cfgManager.SetChangeCallback(func(c config.EncoderConfig) {
		cpuBudget.SetAutoSkip(c.AutoSkip)
		cpuBudget.SetTargetCPU(c.TargetCPUPercent)
		timelapseRecorder.SetConfig(c.Timelapse)
	})

	streamMux := http.NewServeMux()
	streamMux.Handle("/", mjpeg.Handler())
	streamMux.Handle("/flv", flv.Handler())
	streamMux.Handle("/acproxycam/flv", flvProxy.Handler())
	streamServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.StreamingPort),
		Handler:      streamMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming handlers hold the connection open
		IdleTimeout:  60 * time.Second,
	}

	go pump.Run(stop)
	go cpuBudget.Run(stop)
	go flv.Run(stop)
	go faultEngine.Run(ctx)
	go sup.Run(stop, time.Second)
	go printClient.Run(stop)
	go controlServer.RunTicks(stop)
	go func() {
		if err := streamServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("streaming server failed: %v", err)
		}
	}()
	go func() {
		if err := controlServer.ListenAndServe(fmt.Sprintf(":%d", cfg.ControlPort)); err != nil {
			logger.Error("control server failed: %v", err)
		}
	}()

	<-stop
	logger.Info("camerad shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = streamServer.Shutdown(shutdownCtx)
	_ = controlServer.Shutdown(shutdownCtx)
	_ = pump.Shutdown()
	if encoder != nil {
		_ = encoder.Release()
	}
	logger.Info("camerad stopped")
}
