//go:build linux

package camera

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// V4L2_CID control IDs for the image-control set of §3's Encoder Config.
const (
	cidBrightness      = 0x00980900 + 0
	cidContrast        = 0x00980900 + 1
	cidSaturation      = 0x00980900 + 2
	cidHue             = 0x00980900 + 3
	cidGamma           = 0x00980900 + 0x10 // V4L2_CID_GAMMA
	cidSharpness       = 0x00980900 + 0x1B
	cidGain            = 0x00980900 + 0x13
	cidBacklightComp   = 0x00980900 + 0x1C
	cidWhiteBalAuto    = 0x00980900 + 0x0C
	cidWhiteBalTemp    = 0x00980900 + 0x1A
	cidExposureAuto    = 0x009A0900 + 0x01
	cidExposure        = 0x009A0900 + 0x02
	cidExposurePrio    = 0x009A0900 + 0x03
	cidPowerLineFreq   = 0x00980900 + 0x18 // V4L2_CID_POWER_LINE_FREQUENCY
)

// ControlName identifies one image control by the names used in §3.
type ControlName string

const (
	CtrlBrightness    ControlName = "brightness"
	CtrlContrast      ControlName = "contrast"
	CtrlSaturation    ControlName = "saturation"
	CtrlHue           ControlName = "hue"
	CtrlGamma         ControlName = "gamma"
	CtrlSharpness     ControlName = "sharpness"
	CtrlGain          ControlName = "gain"
	CtrlBacklight     ControlName = "backlight"
	CtrlWBAuto        ControlName = "white_balance_auto"
	CtrlWBTemp        ControlName = "white_balance_temp"
	CtrlExposureAuto  ControlName = "exposure_auto"
	CtrlExposure      ControlName = "exposure"
	CtrlExposurePrio  ControlName = "exposure_priority"
	CtrlPowerLineFreq ControlName = "power_line"
)

var controlIDs = map[ControlName]uint32{
	CtrlBrightness:    cidBrightness,
	CtrlContrast:      cidContrast,
	CtrlSaturation:    cidSaturation,
	CtrlHue:           cidHue,
	CtrlGamma:         cidGamma,
	CtrlSharpness:     cidSharpness,
	CtrlGain:          cidGain,
	CtrlBacklight:     cidBacklightComp,
	CtrlWBAuto:        cidWhiteBalAuto,
	CtrlWBTemp:        cidWhiteBalTemp,
	CtrlExposureAuto:  cidExposureAuto,
	CtrlExposure:      cidExposure,
	CtrlExposurePrio:  cidExposurePrio,
	CtrlPowerLineFreq: cidPowerLineFreq,
}

// ControlRange is the queried VIDIOC_QUERYCTRL range for one control.
type ControlRange struct {
	Name    ControlName `json:"name"`
	Min     int32       `json:"min"`
	Max     int32       `json:"max"`
	Step    int32       `json:"step"`
	Default int32       `json:"default"`
	Current int32       `json:"current"`
}

// QueryControlRanges runs VIDIOC_QUERYCTRL + VIDIOC_G_CTRL for every
// control in the image-control set, skipping any the device does not
// support, for the /api/camera/controls endpoint.
func QueryControlRanges(devPath string) ([]ControlRange, error) {
	fd, err := unix.Open(devPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devPath, err)
	}
	defer unix.Close(fd)

	var ranges []ControlRange
	for name, id := range controlIDs {
		var q v4l2QueryCtrl
		q.ID = id
		if err := ioctlPtr(fd, vidiocQueryctrl, unsafe.Pointer(&q)); err != nil {
			continue // not supported on this device
		}

		var ctrl v4l2Control
		ctrl.ID = id
		cur := q.DefaultValue
		if err := ioctlPtr(fd, vidiocGCtrl, unsafe.Pointer(&ctrl)); err == nil {
			cur = ctrl.Value
		}

		ranges = append(ranges, ControlRange{
			Name:    name,
			Min:     q.Minimum,
			Max:     q.Maximum,
			Step:    q.Step,
			Default: q.DefaultValue,
			Current: cur,
		})
	}
	return ranges, nil
}

// SetControl applies one VIDIOC_S_CTRL.
func SetControl(devPath string, name ControlName, value int32) error {
	id, ok := controlIDs[name]
	if !ok {
		return fmt.Errorf("camera: unknown control %q", name)
	}

	fd, err := unix.Open(devPath, unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", devPath, err)
	}
	defer unix.Close(fd)

	ctrl := v4l2Control{ID: id, Value: value}
	if err := ioctlPtr(fd, vidiocSCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return fmt.Errorf("VIDIOC_S_CTRL %s=%d on %s: %w", name, value, devPath, err)
	}
	return nil
}
