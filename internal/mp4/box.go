// Package mp4 writes a minimal ISO base media file (MP4) container holding a
// single AVC ("avc1") video track, the shape the time-lapse recorder needs to
// mux its deferred H.264 output. It is a from-scratch box writer: no
// importable Go MP4 muxer exists in the pack, so the box-by-box layout here
// follows the same ftyp/moov/mdat writing order a hand-rolled muxer uses,
// reproduced as original code rather than copied from any one file.
package mp4

import (
	"bytes"
	"encoding/binary"
)

// box buffers one ISO-BMFF box body and knows how to wrap it with its
// 4-byte size + 4-byte fourcc header once the body is complete.
type box struct {
	fourcc string
	body   bytes.Buffer
}

func newBox(fourcc string) *box {
	return &box{fourcc: fourcc}
}

func (b *box) writeU8(v uint8)   { b.body.WriteByte(v) }
func (b *box) writeU16(v uint16) { var t [2]byte; binary.BigEndian.PutUint16(t[:], v); b.body.Write(t[:]) }
func (b *box) writeU24(v uint32) { b.body.Write([]byte{byte(v >> 16), byte(v >> 8), byte(v)}) }
func (b *box) writeU32(v uint32) { var t [4]byte; binary.BigEndian.PutUint32(t[:], v); b.body.Write(t[:]) }
func (b *box) writeU64(v uint64) { var t [8]byte; binary.BigEndian.PutUint64(t[:], v); b.body.Write(t[:]) }
func (b *box) writeBytes(p []byte) { b.body.Write(p) }
func (b *box) writeFixed(s string, n int) {
	p := make([]byte, n)
	copy(p, s)
	b.body.Write(p)
}
func (b *box) writeChild(c *box) { b.writeBytes(c.encode()) }

// encode returns the full box including its size+fourcc header.
func (b *box) encode() []byte {
	size := uint32(8 + b.body.Len())
	var out bytes.Buffer
	var sz [4]byte
	binary.BigEndian.PutUint32(sz[:], size)
	out.Write(sz[:])
	out.WriteString(b.fourcc)
	out.Write(b.body.Bytes())
	return out.Bytes()
}
