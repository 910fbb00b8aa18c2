//go:build linux

package camera

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// NumBuffers is the V4L2 mmap buffer queue depth.
const NumBuffers = 4

// Buffer is one mmap'd V4L2 capture buffer.
type Buffer struct {
	data   []byte
	length uint32
}

// Bytes returns the portion of the buffer the driver filled on the most
// recent DQBUF (capped by BytesUsed, not the full mmap length).
func (b *Buffer) Bytes(n uint32) []byte {
	if n > uint32(len(b.data)) {
		n = uint32(len(b.data))
	}
	return b.data[:n]
}

// Device is an open V4L2 capture device with its buffer queue mapped and
// ready to stream. It implements open/start/dqbuf/qbuf/stop/close, the
// operations internal/capture.Pump drives per frame.
type Device struct {
	fd          int
	path        string
	width       int
	height      int
	pixelFormat string // "MJPEG" or "YUYV"
	buffers     []Buffer
	streaming   bool
}

// Open opens devPath and negotiates the capture format: width/height/pixFmt
// as selected by the caller (Scanner.SelectFormat), via VIDIOC_S_FMT.
func Open(devPath string, width, height int, pixFmt string) (*Device, error) {
	fd, err := unix.Open(devPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devPath, err)
	}

	d := &Device{fd: fd, path: devPath, width: width, height: height, pixelFormat: pixFmt}

	if err := d.setFormat(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return d, nil
}

func (d *Device) setFormat() error {
	var format v4l2Format
	format.Type = v4l2BufTypeVideoCapture

	pix := (*v4l2PixFormat)(unsafe.Pointer(&format.Fmt[0]))
	pix.Width = uint32(d.width)
	pix.Height = uint32(d.height)
	pix.PixelFormat = pixFmtToFourCC(d.pixelFormat)
	pix.Field = v4l2FieldAny

	if err := ioctlPtr(d.fd, vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		return fmt.Errorf("VIDIOC_S_FMT on %s: %w", d.path, err)
	}
	// The driver may adjust width/height; read them back.
	d.width = int(pix.Width)
	d.height = int(pix.Height)
	return nil
}

// Width and Height return the negotiated capture resolution.
func (d *Device) Width() int  { return d.width }
func (d *Device) Height() int { return d.height }

// PixelFormat returns the negotiated pixel format ("MJPEG" or "YUYV").
func (d *Device) PixelFormat() string { return d.pixelFormat }

// Start requests NumBuffers mmap buffers, maps them, queues them all, and
// issues VIDIOC_STREAMON.
func (d *Device) Start() error {
	var req v4l2RequestBuffers
	req.Count = NumBuffers
	req.Type = v4l2BufTypeVideoCapture
	req.Memory = v4l2MemoryMmap

	if err := ioctlPtr(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("VIDIOC_REQBUFS on %s: %w", d.path, err)
	}

	d.buffers = make([]Buffer, req.Count)
	for i := uint32(0); i < req.Count; i++ {
		var buf v4l2Buffer
		buf.Index = i
		buf.Type = v4l2BufTypeVideoCapture
		buf.Memory = v4l2MemoryMmap

		if err := ioctlPtr(d.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("VIDIOC_QUERYBUF[%d] on %s: %w", i, d.path, err)
		}

		data, err := unix.Mmap(d.fd, int64(buf.MOffset), int(buf.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("mmap buffer %d on %s: %w", i, d.path, err)
		}
		d.buffers[i] = Buffer{data: data, length: buf.Length}

		if err := d.queueBuffer(i); err != nil {
			return err
		}
	}

	bufType := uint32(v4l2BufTypeVideoCapture)
	if err := ioctlPtr(d.fd, vidiocStreamon, unsafe.Pointer(&bufType)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON on %s: %w", d.path, err)
	}
	d.streaming = true
	return nil
}

func (d *Device) queueBuffer(index uint32) error {
	var buf v4l2Buffer
	buf.Index = index
	buf.Type = v4l2BufTypeVideoCapture
	buf.Memory = v4l2MemoryMmap
	if err := ioctlPtr(d.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("VIDIOC_QBUF[%d] on %s: %w", index, d.path, err)
	}
	return nil
}

// Frame is one dequeued V4L2 buffer, valid until the matching Requeue call.
type Frame struct {
	Index uint32
	Data  []byte
}

// Dequeue blocks on VIDIOC_DQBUF (the suspension point §5 names for
// capture) and returns the filled buffer's contents. Transient errors
// (EAGAIN, EINTR) are returned as-is; the caller decides how to retry.
func (d *Device) Dequeue() (Frame, error) {
	var buf v4l2Buffer
	buf.Type = v4l2BufTypeVideoCapture
	buf.Memory = v4l2MemoryMmap

	if err := ioctlPtr(d.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		return Frame{}, err
	}

	b := &d.buffers[buf.Index]
	return Frame{Index: buf.Index, Data: b.Bytes(buf.BytesUsed)}, nil
}

// Requeue returns a dequeued buffer to the driver's incoming queue.
func (d *Device) Requeue(index uint32) error {
	return d.queueBuffer(index)
}

// Stop issues VIDIOC_STREAMOFF and unmaps all buffers.
func (d *Device) Stop() error {
	if !d.streaming {
		return nil
	}
	bufType := uint32(v4l2BufTypeVideoCapture)
	err := ioctlPtr(d.fd, vidiocStreamoff, unsafe.Pointer(&bufType))
	d.streaming = false

	for i := range d.buffers {
		if d.buffers[i].data != nil {
			unix.Munmap(d.buffers[i].data)
			d.buffers[i].data = nil
		}
	}
	d.buffers = nil
	if err != nil {
		return fmt.Errorf("VIDIOC_STREAMOFF on %s: %w", d.path, err)
	}
	return nil
}

// Close stops streaming (if active) and closes the underlying file
// descriptor. Safe to call more than once.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	_ = d.Stop()
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

// Fd exposes the raw descriptor for select/poll-based callers; the pump
// itself drives DQBUF directly since it is a single-consumer blocking call.
func (d *Device) Fd() int { return d.fd }
