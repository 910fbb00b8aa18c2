// Package config holds the process-wide EncoderConfig (§3) behind one
// mutex. Apply is atomic: stage a new value, swap under the lock, persist
// to disk, then invoke the change-callback outside the lock (§9).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ExposureAuto matches §3's exposure_auto enum: 1=manual, 3=auto.
type ExposureAuto int

const (
	ExposureManual ExposureAuto = 1
	ExposureAuto3  ExposureAuto = 3
)

// PowerLineFreq matches §3's power-line enum.
type PowerLineFreq int

const (
	PowerLineOff PowerLineFreq = 0
	PowerLine50  PowerLineFreq = 1
	PowerLine60  PowerLineFreq = 2
)

// TimelapseMode selects between layer-change and interval triggering.
type TimelapseMode string

const (
	TimelapseModeLayer     TimelapseMode = "layer"
	TimelapseModeHyperlapse TimelapseMode = "hyperlapse"
)

// TimelapseStorage selects the output filesystem.
type TimelapseStorage string

const (
	StorageInternal TimelapseStorage = "internal"
	StorageUSB      TimelapseStorage = "usb"
)

// ImageControls is the per-camera control set of §3.
type ImageControls struct {
	Brightness       int           `json:"brightness"`
	Contrast         int           `json:"contrast"`
	Saturation       int           `json:"saturation"`
	Hue              int           `json:"hue"`
	Gamma            int           `json:"gamma"`
	Sharpness        int           `json:"sharpness"`
	Gain             int           `json:"gain"`
	Backlight        int           `json:"backlight"`
	WhiteBalanceAuto bool          `json:"white_balance_auto"`
	WhiteBalanceTemp int           `json:"white_balance_temp"`
	ExposureAuto     ExposureAuto  `json:"exposure_auto"`
	Exposure         int           `json:"exposure"`
	ExposurePriority bool          `json:"exposure_priority"`
	PowerLine        PowerLineFreq `json:"power_line"`
}

// TimelapseConfig is the time-lapse sub-configuration of §3.
type TimelapseConfig struct {
	Mode               TimelapseMode    `json:"mode"`
	HyperlapseInterval int              `json:"hyperlapse_interval_seconds"`
	Storage            TimelapseStorage `json:"storage"`
	USBPath            string           `json:"usb_path"`
	OutputFPS          float64          `json:"output_fps"`
	VariableFPS        bool             `json:"variable_fps"`
	VariableFPSMin     float64          `json:"variable_fps_min"`
	VariableFPSMax     float64          `json:"variable_fps_max"`
	TargetLength       float64          `json:"target_length_seconds"`
	CRF                int              `json:"crf"`
	DuplicateLastFrame int              `json:"duplicate_last_frame"`
	StreamDelay        int              `json:"stream_delay_seconds"`
	EndDelay           int              `json:"end_delay_seconds"`
	FlipX              bool             `json:"flip_x"`
	FlipY              bool             `json:"flip_y"`
}

// FaultDetectConfig is the fault-detect sub-configuration referenced by §3;
// the full field set is defined here and embedded by internal/faultdetect's
// Config, and it is persisted as part of EncoderConfig so it round-trips
// through the same config file.
type FaultDetectConfig struct {
	Enabled             bool    `json:"enabled"`
	ModelSet            string  `json:"model_set"`
	Strategy            string  `json:"strategy"`
	IntervalSeconds     float64 `json:"interval_seconds"`
	VerifyIntervalSec   float64 `json:"verify_interval_seconds"`
	MinFreeMemMB        int     `json:"min_free_mem_mb"`
	CNNThreshold        float64 `json:"cnn_threshold"`
	CNNDynamicThreshold float64 `json:"cnn_dynamic_threshold"`
	ProtoThreshold      float64 `json:"proto_threshold"`
	ProtoDynamicTrigger float64 `json:"proto_dynamic_trigger"`
	MulticlassThreshold float64 `json:"multiclass_threshold"`
	HeatmapEnabled      bool    `json:"heatmap_enabled"`
	HeatmapBoostThresh  float64 `json:"heatmap_boost_threshold"`
	BuzzerEnabled       bool    `json:"buzzer_enabled"`
	BuzzerPattern       string  `json:"buzzer_pattern"`
}

// CameraOverride is a per-camera encoder override applied by the Control
// HTTP server and read by the Supervisor when spawning children.
type CameraOverride struct {
	Width      int  `json:"width"`
	Height     int  `json:"height"`
	ForceMJPEG bool `json:"force_mjpeg"`
	FPS        int  `json:"fps"`
}

// EncoderConfig is the process-wide configuration record of §3.
type EncoderConfig struct {
	StreamingPort     int                       `json:"streaming_port"`
	ControlPort       int                       `json:"control_port"`
	H264Enabled       bool                      `json:"h264_enabled"`
	H264Width         int                       `json:"h264_width"`
	H264Height        int                       `json:"h264_height"`
	H264BitrateKbps   int                       `json:"h264_bitrate_kbps"`
	MJPEGFPSCap       int                       `json:"mjpeg_fps_cap"`
	JPEGQuality       int                       `json:"jpeg_quality"`
	SkipRatio         int                       `json:"skip_ratio"`
	AutoSkip          bool                      `json:"auto_skip"`
	TargetCPUPercent  int                       `json:"target_cpu_percent"`
	DisplayEnabled    bool                      `json:"display_enabled"`
	DisplayFPS        int                       `json:"display_fps"`
	ImageControls     ImageControls             `json:"image_controls"`
	Timelapse         TimelapseConfig           `json:"timelapse"`
	FaultDetect       FaultDetectConfig         `json:"fault_detect"`
	CameraOverrides   map[int]CameraOverride    `json:"camera_overrides"`
	FLVProxyEnabled   bool                      `json:"flv_proxy_enabled"`
	PrimaryUSBPort    string                    `json:"primary_usb_port"`
}

// h264ResolutionSet is the closed set §3 allows for H264Width/H264Height.
var h264ResolutionSet = [][2]int{{1280, 720}, {960, 540}, {640, 360}}

// Validate checks EncoderConfig fields against the documented ranges in §3.
func (c *EncoderConfig) Validate() error {
	var errs []string

	if c.StreamingPort < 1 || c.StreamingPort > 65535 {
		errs = append(errs, fmt.Sprintf("streaming_port %d out of range", c.StreamingPort))
	}
	if c.ControlPort < 1 || c.ControlPort > 65535 {
		errs = append(errs, fmt.Sprintf("control_port %d out of range", c.ControlPort))
	}
	if c.H264Enabled {
		ok := false
		for _, r := range h264ResolutionSet {
			if r[0] == c.H264Width && r[1] == c.H264Height {
				ok = true
				break
			}
		}
		if !ok {
			errs = append(errs, fmt.Sprintf("h264 resolution %dx%d not in {1280x720,960x540,640x360}", c.H264Width, c.H264Height))
		}
		if c.H264BitrateKbps < 100 || c.H264BitrateKbps > 4000 {
			errs = append(errs, fmt.Sprintf("h264_bitrate_kbps %d out of range [100,4000]", c.H264BitrateKbps))
		}
	}
	if c.MJPEGFPSCap < 2 || c.MJPEGFPSCap > 30 {
		errs = append(errs, fmt.Sprintf("mjpeg_fps_cap %d out of range [2,30]", c.MJPEGFPSCap))
	}
	if c.SkipRatio < 1 {
		errs = append(errs, "skip_ratio must be >= 1")
	}
	if c.TargetCPUPercent < 25 || c.TargetCPUPercent > 90 {
		errs = append(errs, fmt.Sprintf("target_cpu_percent %d out of range [25,90]", c.TargetCPUPercent))
	}
	if c.DisplayEnabled && (c.DisplayFPS < 1 || c.DisplayFPS > 10) {
		errs = append(errs, fmt.Sprintf("display_fps %d out of range [1,10]", c.DisplayFPS))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config invalid:\n  - %s", joinLines(errs))
	}
	return nil
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n  - "
		}
		out += l
	}
	return out
}

// ChangeCallback is invoked outside the config lock after a successful
// Update, so B/C/H can reconfigure at the next safe boundary.
type ChangeCallback func(cfg EncoderConfig)

// Manager owns the single mutable EncoderConfig record behind one lock and
// persists it to a fixed JSON path (§6.4).
type Manager struct {
	mu       sync.RWMutex
	cfg      EncoderConfig
	filePath string
	onChange ChangeCallback
}

// NewManager creates a Manager rooted at filePath.
func NewManager(filePath string) *Manager {
	return &Manager{filePath: filePath, cfg: DefaultConfig()}
}

// SetChangeCallback installs the callback fired after every successful Update.
func (m *Manager) SetChangeCallback(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = cb
}

// Load reads the config file, writing out defaults if it does not exist yet.
func (m *Manager) Load() error {
	m.mu.Lock()
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.cfg = DefaultConfig()
			cfg := m.cfg
			m.mu.Unlock()
			return m.persist(cfg)
		}
		m.mu.Unlock()
		return err
	}

	var cfg EncoderConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("parse config: %w", err)
	}
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current config.
func (m *Manager) Get() EncoderConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Update validates cfg, swaps it in under the lock, persists it, then
// invokes the change callback outside the lock (§9's "apply is atomic").
func (m *Manager) Update(cfg EncoderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	cb := m.onChange
	m.mu.Unlock()

	if err := m.persist(cfg); err != nil {
		return err
	}
	if cb != nil {
		cb(cfg)
	}
	return nil
}

func (m *Manager) persist(cfg EncoderConfig) error {
	if m.filePath == "" {
		return nil
	}
	if dir := filepath.Dir(m.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.filePath, data, 0o644)
}

// DefaultConfig returns the documented defaults: only streaming_port 8080
// (camera 1's fixed port), skip_ratio 1, target_cpu 70, MJPEG cap 15 fps.
func DefaultConfig() EncoderConfig {
	return EncoderConfig{
		StreamingPort:    8080,
		ControlPort:      8081,
		H264Enabled:      false,
		H264Width:        1280,
		H264Height:       720,
		H264BitrateKbps:  1500,
		MJPEGFPSCap:      15,
		JPEGQuality:      80,
		SkipRatio:        1,
		AutoSkip:         true,
		TargetCPUPercent: 70,
		DisplayEnabled:   false,
		DisplayFPS:       4,
		ImageControls: ImageControls{
			ExposureAuto: ExposureAuto3,
			PowerLine:    PowerLine60,
		},
		Timelapse: TimelapseConfig{
			Mode:         TimelapseModeLayer,
			Storage:      StorageInternal,
			OutputFPS:    30,
			VariableFPSMin: 10,
			VariableFPSMax: 60,
			TargetLength: 20,
			CRF:          23,
		},
		FaultDetect: FaultDetectConfig{
			Enabled:             false,
			Strategy:            "or",
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
			BuzzerEnabled:       true,
			BuzzerPattern:       "triple",
		},
		CameraOverrides: make(map[int]CameraOverride),
	}
}
