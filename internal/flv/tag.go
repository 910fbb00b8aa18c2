package flv

import (
	"bytes"
	"encoding/binary"
)

// TagType identifies the FLV tag payload kind.
type TagType byte

const (
	TagAudio      TagType = 8
	TagVideo      TagType = 9
	TagScriptData TagType = 18
)

// Video frame types, packed into the high nibble of the first VIDEO tag
// data byte together with the AVC codec id (7) in the low nibble.
const (
	FrameTypeKey   byte = 1
	FrameTypeInter byte = 2
	codecIDAVC     byte = 7
)

// AVC packet types, the second byte of AVC VIDEO tag data.
const (
	AVCPacketTypeSequenceHeader byte = 0
	AVCPacketTypeNALU           byte = 1
)

// WriteTag appends one complete FLV tag (11-byte header + data + trailing
// PreviousTagSize) for data of type tagType at timestamp ms to buf.
func WriteTag(buf *bytes.Buffer, tagType TagType, data []byte, timestampMs uint32) {
	var hdr [11]byte
	hdr[0] = byte(tagType)
	putUint24(hdr[1:4], uint32(len(data)))
	putUint24(hdr[4:7], timestampMs&0x00FFFFFF)
	hdr[7] = byte(timestampMs >> 24) // extended timestamp high byte
	putUint24(hdr[8:11], 0)          // stream id, always 0

	buf.Write(hdr[:])
	buf.Write(data)

	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], uint32(11+len(data)))
	buf.Write(trailer[:])
}

func putUint24(dst []byte, v uint32) {
	dst[0] = byte(v >> 16)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v)
}

// VideoTagData builds the payload of an AVC VIDEO tag: frame type/codec id
// byte, AVC packet type, 24-bit composition time, then payload (either the
// sequence-header AVCDecoderConfigurationRecord or length-prefixed NALUs).
func VideoTagData(keyframe bool, packetType byte, compositionTime int32, payload []byte) []byte {
	out := make([]byte, 5+len(payload))
	frameType := FrameTypeInter
	if keyframe {
		frameType = FrameTypeKey
	}
	out[0] = frameType<<4 | codecIDAVC
	out[1] = packetType
	putUint24(out[2:5], uint32(compositionTime)&0x00FFFFFF)
	copy(out[5:], payload)
	return out
}

// AppendLengthPrefixedNAL appends a 4-byte big-endian length followed by the
// NAL body, the AVCC sample framing used inside VIDEO tag NALU payloads.
func AppendLengthPrefixedNAL(dst []byte, nal []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(nal)))
	dst = append(dst, length[:]...)
	dst = append(dst, nal...)
	return dst
}
