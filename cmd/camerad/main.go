// Command camerad is the on-device camera encoder and print-supervision
// daemon. It runs in primary mode (capture pipeline for camera 1, the
// control server, supervisor, fault-detect engine, and time-lapse
// recorder) or in secondary mode (-mode=secondary, spawned by the
// supervisor to run capture/encode/stream for one additional camera).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"camerad/internal/config"
	"camerad/internal/logger"
	"camerad/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version information and exit")
	mode := flag.String("mode", "primary", "primary or secondary")
	configPath := flag.String("config", "/etc/camerad/config.json", "path to the encoder config file")
	cameraID := flag.Int("camera-id", 0, "camera id (secondary mode only)")
	device := flag.String("device", "", "V4L2 device path (secondary mode only)")
	streamingPort := flag.Int("streaming-port", 0, "streaming HTTP port override (secondary mode only)")
	width := flag.Int("width", 0, "encode width override (secondary mode only)")
	height := flag.Int("height", 0, "encode height override (secondary mode only)")
	forceMJPEG := flag.Bool("force-mjpeg", false, "disable H264 for this camera (secondary mode only)")
	fps := flag.Int("fps", 0, "fps override (secondary mode only)")
	logFile := flag.String("log-file", "", "log file path (empty: stdout only)")
	logMaxSizeMB := flag.Int("log-max-size-mb", 10, "log file rotation size")
	logMaxBackups := flag.Int("log-max-backups", 5, "log file rotation backup count")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.DetailedInfo())
		return
	}

	if err := logger.Init(*logFile, *logMaxSizeMB, *logMaxBackups, *debug); err != nil {
		log.Fatalf("camerad: init logger: %v", err)
	}
	defer logger.Get().Close()

	switch *mode {
	case "primary":
		runPrimary(*configPath)
	case "secondary":
		if *cameraID == 0 || *device == "" {
			fmt.Fprintln(os.Stderr, "camerad: -camera-id and -device are required in secondary mode")
			os.Exit(2)
		}
		runSecondary(secondaryArgs{
			cameraID:      *cameraID,
			device:        *device,
			streamingPort: *streamingPort,
			width:         *width,
			height:        *height,
			forceMJPEG:    *forceMJPEG,
			fps:           *fps,
		})
	default:
		fmt.Fprintf(os.Stderr, "camerad: unknown -mode %q\n", *mode)
		os.Exit(2)
	}
}

func loadConfig(path string) *config.Manager {
	mgr := config.NewManager(path)
	if err := mgr.Load(); err != nil {
		logger.Warn("config load failed, using defaults: %v", err)
	}
	return mgr
}
