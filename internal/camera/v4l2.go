//go:build linux

package camera

import (
	"encoding/binary"
	"fmt"
	"sort"
	"unsafe"

	"golang.org/x/sys/unix"
)

// V4L2 ioctl request codes (Linux, 64-bit).
const (
	vidiocQuerycap           = 0x80685600
	vidiocEnumFmt            = 0xC0405602
	vidiocEnumFramesizes     = 0xC02C564A
	vidiocEnumFrameintervals = 0xC034564B
	vidiocSFmt               = 0xC0D05605
	vidiocGFmt               = 0xC0D05604
	vidiocReqbufs            = 0xC0145608
	vidiocQuerybuf           = 0xC0585609
	vidiocQbuf               = 0xC058560F
	vidiocDqbuf              = 0xC0585611
	vidiocStreamon           = 0x40045612
	vidiocStreamoff          = 0x40045613
	vidiocQueryctrl          = 0xC0445624
	vidiocGCtrl              = 0xC008561B
	vidiocSCtrl              = 0xC008561C
)

const (
	v4l2CapVideoCapture       = 0x00000001
	v4l2CapVideoCaptureMplane = 0x00001000
	v4l2CapDeviceCaps         = 0x80000000

	v4l2BufTypeVideoCapture = 1
	v4l2FrmsizeTypeDiscrete = 1
	v4l2FrmivalTypeDiscrete = 1
	v4l2MemoryMmap          = 1
	v4l2FieldAny            = 0
)

// FourCC pixel-format codes used when requesting a capture format.
const (
	fourCCMJPEG = 0x47504A4D // 'MJPG'
	fourCCYUYV  = 0x56595559 // 'YUYV'
)

type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

type v4l2FmtDesc struct {
	Index       uint32
	Type        uint32
	Flags       uint32
	Description [32]byte
	PixelFormat uint32
	MbusCode    uint32
	Reserved    [3]uint32
}

type v4l2FrmSizeEnum struct {
	Index       uint32
	PixelFormat uint32
	Type        uint32
	Union       [24]byte
	Reserved    [2]uint32
}

type v4l2FrmIvalEnum struct {
	Index       uint32
	PixelFormat uint32
	Width       uint32
	Height      uint32
	Type        uint32
	Union       [24]byte
	Reserved    [2]uint32
}

// v4l2PixFormat mirrors struct v4l2_pix_format (48 bytes) for the fields we
// set/read via VIDIOC_S_FMT/G_FMT (wrapped in struct v4l2_format below).
type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// v4l2Format is struct v4l2_format with the fmt union big enough to hold
// v4l2_pix_format (the union is 200 bytes in the kernel header; we only need
// the leading pix_format fields, so pad to the real union size for a safe
// ioctl transfer).
type v4l2Format struct {
	Type uint32
	_    [4]byte // alignment padding matching the kernel struct layout
	Fmt  [200]byte
}

type v4l2RequestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
	Reserved     [1]uint32
}

type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	Timestamp [16]byte
	Timecode  [16]byte
	Sequence  uint32
	Memory    uint32
	MOffset   uint32 // union: offset (mmap) — first 4 bytes suffice on 32-bit offsets
	_         [4]byte
	Length    uint32
	Reserved2 uint32
	Reserved  uint32
}

type v4l2QueryCtrl struct {
	ID           uint32
	Type         uint32
	Name         [32]byte
	Minimum      int32
	Maximum      int32
	Step         int32
	DefaultValue int32
	Flags        uint32
	Reserved     [2]uint32
}

type v4l2Control struct {
	ID    uint32
	Value int32
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func queryCapability(devPath string) (*v4l2Capability, error) {
	fd, err := unix.Open(devPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devPath, err)
	}
	defer unix.Close(fd)

	var cap v4l2Capability
	if err := ioctlPtr(fd, vidiocQuerycap, unsafe.Pointer(&cap)); err != nil {
		return nil, fmt.Errorf("VIDIOC_QUERYCAP on %s: %w", devPath, err)
	}
	return &cap, nil
}

func isVideoCaptureDevice(cap *v4l2Capability) bool {
	caps := cap.Capabilities
	if caps&v4l2CapDeviceCaps != 0 {
		caps = cap.DeviceCaps
	}
	return caps&v4l2CapVideoCapture != 0 || caps&v4l2CapVideoCaptureMplane != 0
}

func enumFormats(devPath string) ([]VideoFormat, error) {
	fd, err := unix.Open(devPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devPath, err)
	}
	defer unix.Close(fd)

	var formats []VideoFormat

	for fmtIdx := uint32(0); ; fmtIdx++ {
		var desc v4l2FmtDesc
		desc.Index = fmtIdx
		desc.Type = v4l2BufTypeVideoCapture

		if err := ioctlPtr(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			break
		}

		pixFmt := normalizeFourCC(desc.PixelFormat)
		if pixFmt != "MJPEG" && pixFmt != "YUYV" {
			continue // only these two are in scope per §3
		}

		for sizeIdx := uint32(0); ; sizeIdx++ {
			var frmSize v4l2FrmSizeEnum
			frmSize.Index = sizeIdx
			frmSize.PixelFormat = desc.PixelFormat

			if err := ioctlPtr(fd, vidiocEnumFramesizes, unsafe.Pointer(&frmSize)); err != nil {
				break
			}
			if frmSize.Type != v4l2FrmsizeTypeDiscrete {
				continue
			}

			width := binary.LittleEndian.Uint32(frmSize.Union[0:4])
			height := binary.LittleEndian.Uint32(frmSize.Union[4:8])

			var fpsList []int
			for ivalIdx := uint32(0); ; ivalIdx++ {
				var frmIval v4l2FrmIvalEnum
				frmIval.Index = ivalIdx
				frmIval.PixelFormat = desc.PixelFormat
				frmIval.Width = width
				frmIval.Height = height

				if err := ioctlPtr(fd, vidiocEnumFrameintervals, unsafe.Pointer(&frmIval)); err != nil {
					break
				}
				if frmIval.Type != v4l2FrmivalTypeDiscrete {
					continue
				}
				numerator := binary.LittleEndian.Uint32(frmIval.Union[0:4])
				denominator := binary.LittleEndian.Uint32(frmIval.Union[4:8])
				if numerator > 0 {
					if fps := int(denominator / numerator); fps > 0 {
						fpsList = append(fpsList, fps)
					}
				}
			}
			fpsList = dedupDescending(fpsList)

			formats = append(formats, VideoFormat{
				PixelFormat: pixFmt,
				Width:       int(width),
				Height:      int(height),
				FPS:         fpsList,
			})
		}
	}

	sort.Slice(formats, func(i, j int) bool {
		ri, rj := formats[i].Width*formats[i].Height, formats[j].Width*formats[j].Height
		if ri != rj {
			return ri > rj
		}
		return formats[i].PixelFormat < formats[j].PixelFormat
	})
	return formats, nil
}

func normalizeFourCC(fourcc uint32) string {
	switch fourCCString(fourcc) {
	case "MJPG":
		return "MJPEG"
	case "YUYV":
		return "YUYV"
	default:
		return fourCCString(fourcc)
	}
}

func fourCCString(fourcc uint32) string {
	return string([]byte{
		byte(fourcc), byte(fourcc >> 8), byte(fourcc >> 16), byte(fourcc >> 24),
	})
}

func bytesToString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func dedupDescending(in []int) []int {
	if len(in) == 0 {
		return in
	}
	seen := make(map[int]bool, len(in))
	out := in[:0:0]
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

func pixFmtToFourCC(pixFmt string) uint32 {
	if pixFmt == "YUYV" {
		return fourCCYUYV
	}
	return fourCCMJPEG
}
