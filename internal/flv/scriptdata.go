package flv

import (
	"encoding/binary"
	"math"
)

// AMF0 type markers used by the onMetaData SCRIPTDATA tag.
const (
	amf0Number    byte = 0x00
	amf0String    byte = 0x02
	amf0ECMAArray byte = 0x08
	amf0ObjectEnd byte = 0x09
)

// Metadata is the set of onMetaData keys this server announces.
type Metadata struct {
	Width       int
	Height      int
	FrameRate   float64
	VideoCodecID int // always 7 (AVC)
	Duration    float64 // always 0 (live)
	Encoder     string
}

// BuildOnMetaData encodes an onMetaData SCRIPTDATA tag payload: an AMF0
// string "onMetaData" followed by an AMF0 ECMA array of the metadata keys.
func BuildOnMetaData(m Metadata) []byte {
	var out []byte
	out = appendAMF0String(out, "onMetaData")

	entries := []struct {
		key string
		val float64
		str string
		isStr bool
	}{
		{key: "width", val: float64(m.Width)},
		{key: "height", val: float64(m.Height)},
		{key: "framerate", val: m.FrameRate},
		{key: "videocodecid", val: float64(m.VideoCodecID)},
		{key: "duration", val: m.Duration},
		{key: "encoder", str: m.Encoder, isStr: true},
	}

	out = append(out, amf0ECMAArray)
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(entries)))
	out = append(out, count[:]...)

	for _, e := range entries {
		out = appendAMF0PropertyName(out, e.key)
		if e.isStr {
			out = appendAMF0String(out, e.str)
		} else {
			out = appendAMF0Number(out, e.val)
		}
	}

	// ECMA array terminator: empty name + object-end marker.
	out = appendAMF0PropertyName(out, "")
	out = append(out, amf0ObjectEnd)

	return out
}

func appendAMF0Number(dst []byte, v float64) []byte {
	dst = append(dst, amf0Number)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return append(dst, b[:]...)
}

func appendAMF0String(dst []byte, s string) []byte {
	dst = append(dst, amf0String)
	return appendAMF0PropertyName(dst, s)
}

// appendAMF0PropertyName writes a bare UTF-8 string prefixed by its 16-bit
// big-endian length, the encoding AMF0 uses for object/array property names
// (and for top-level strings, just without the leading length-only form).
func appendAMF0PropertyName(dst []byte, s string) []byte {
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(s)))
	dst = append(dst, length[:]...)
	return append(dst, s...)
}
