//go:build linux

package camera

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// StablePathResolver derives the stable hardware-path identifier for a
// device node. USB-topology walking is an out-of-scope external
// collaborator per §1; the default resolver below is a cheap sysfs read,
// and tests substitute a fake.
type StablePathResolver func(devicePath string) string

// DefaultStablePathResolver reads the /sys/class/video4linux/<dev>/device
// symlink target, which encodes the USB bus/port topology the kernel
// assigned the device.
func DefaultStablePathResolver(devicePath string) string {
	base := filepath.Base(devicePath)
	link := filepath.Join("/sys/class/video4linux", base, "device")
	target, err := os.Readlink(link)
	if err != nil {
		return base
	}
	return filepath.Clean(target)
}

// Scanner enumerates /dev/video* nodes into Descriptors, assigning
// camera_id/streaming_port/enabled/is_primary per §3.
type Scanner struct {
	mu             sync.RWMutex
	cameras        map[string]*Descriptor
	resolveStable  StablePathResolver
	primaryUSBPort string // operator-supplied internal USB port, matches IsPrimary
}

// NewScanner creates a Scanner. primaryUSBPort is the configured internal
// port whose camera becomes primary; an empty string means "first found."
func NewScanner(primaryUSBPort string, resolver StablePathResolver) *Scanner {
	if resolver == nil {
		resolver = DefaultStablePathResolver
	}
	return &Scanner{
		cameras:        make(map[string]*Descriptor),
		resolveStable:  resolver,
		primaryUSBPort: primaryUSBPort,
	}
}

// Scan probes every /dev/video* node and returns the discovered capture
// devices, largest-resolution-first within each, camera_id 1..4 assigned in
// StableID order so restarts keep a stable mapping.
func (s *Scanner) Scan() ([]*Descriptor, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}

	var found []*Descriptor
	for _, p := range paths {
		desc, err := s.probe(p)
		if err != nil || desc == nil {
			continue
		}
		found = append(found, desc)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].StableID < found[j].StableID })

	primarySeen := false
	for i, d := range found {
		if i >= 4 {
			break // camera_id is bounded to [1..4]
		}
		d.CameraID = i + 1
		d.StreamPort = portForCameraID(d.CameraID)
		d.Enabled = d.CameraID == 1
		if s.primaryUSBPort != "" {
			d.IsPrimary = d.USBPort == s.primaryUSBPort
		} else if !primarySeen {
			d.IsPrimary = true
			primarySeen = true
		}
	}

	s.mu.Lock()
	s.cameras = make(map[string]*Descriptor, len(found))
	for _, d := range found {
		s.cameras[d.StableID] = d
	}
	s.mu.Unlock()

	return found, nil
}

func (s *Scanner) probe(devPath string) (*Descriptor, error) {
	info, err := os.Stat(devPath)
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		return nil, err
	}

	cap, err := queryCapability(devPath)
	if err != nil {
		return nil, nil // not a usable V4L2 node
	}
	if !isVideoCaptureDevice(cap) {
		return nil, nil
	}

	formats, err := enumFormats(devPath)
	if err != nil || len(formats) == 0 {
		return nil, nil
	}

	d := &Descriptor{
		StableID:   s.resolveStable(devPath),
		DevicePath: devPath,
		Name:       bytesToString(cap.Card[:]),
		USBPort:    strings.TrimPrefix(bytesToString(cap.BusInfo[:]), "usb-"),
		Formats:    formats,
	}
	d.Resolutions = distinctResolutions(formats)
	if len(d.Resolutions) > 0 {
		d.MaxFPS = maxFPSAt(formats, d.Resolutions[0])
	}
	return d, nil
}

// Cameras returns the last scanned descriptor set.
func (s *Scanner) Cameras() []*Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Descriptor, 0, len(s.cameras))
	for _, d := range s.cameras {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// ByCameraID finds a descriptor by its assigned camera_id.
func (s *Scanner) ByCameraID(id int) (*Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.cameras {
		if d.CameraID == id {
			return d, true
		}
	}
	return nil, false
}

// SetEnabled flips the enabled flag for cameraID, used by the Control HTTP
// Server's camera enable/disable endpoint and the Supervisor's restart-storm
// disable path (§4.I/§4.J). Returns false if no such camera exists.
func (s *Scanner) SetEnabled(cameraID int, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.cameras {
		if d.CameraID == cameraID {
			d.Enabled = enabled
			if enabled {
				d.Error = ""
			}
			return true
		}
	}
	return false
}

// SetError records a descriptor-visible error string for cameraID (e.g. a
// Supervisor restart-storm disable reason).
func (s *Scanner) SetError(cameraID int, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.cameras {
		if d.CameraID == cameraID {
			d.Error = msg
			return true
		}
	}
	return false
}

func distinctResolutions(formats []VideoFormat) [][2]int {
	seen := make(map[[2]int]bool)
	var out [][2]int
	for _, f := range formats {
		key := [2]int{f.Width, f.Height}
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0]*out[i][1] > out[j][0]*out[j][1] })
	return out
}

func maxFPSAt(formats []VideoFormat, res [2]int) int {
	best := 0
	for _, f := range formats {
		if f.Width != res[0] || f.Height != res[1] {
			continue
		}
		for _, fps := range f.FPS {
			if fps > best {
				best = fps
			}
		}
	}
	return best
}

// SelectFormat implements §4.B's format-selection rule: prefer MJPEG over
// YUYV, the largest discrete resolution not exceeding maxW/maxH (0 means no
// cap), and the largest discrete frame rate at that resolution.
func (d *Descriptor) SelectFormat(maxW, maxH int) (pixFmt string, width, height, fps int) {
	pixFmt = "YUYV"
	if d.SupportsFormat("MJPEG") {
		pixFmt = "MJPEG"
	}

	var best *VideoFormat
	for i := range d.Formats {
		f := &d.Formats[i]
		if f.PixelFormat != pixFmt {
			continue
		}
		if maxW > 0 && f.Width > maxW {
			continue
		}
		if maxH > 0 && f.Height > maxH {
			continue
		}
		if best == nil || f.Width*f.Height > best.Width*best.Height {
			best = f
		}
	}
	if best == nil {
		return pixFmt, 0, 0, 0
	}
	bestFPS := 0
	for _, v := range best.FPS {
		if v > bestFPS {
			bestFPS = v
		}
	}
	return pixFmt, best.Width, best.Height, bestFPS
}
