package flv

import (
	"bytes"
	"testing"
)

func TestFileHeaderBitExact(t *testing.T) {
	want := []byte{0x46, 0x4C, 0x56, 0x01, 0x01, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(FileHeader[:], want) {
		t.Fatalf("header = % X, want % X", FileHeader[:], want)
	}
}

func TestWriteTagLayout(t *testing.T) {
	var buf bytes.Buffer
	data := []byte{0xAA, 0xBB, 0xCC}
	WriteTag(&buf, TagVideo, data, 0x010203)

	got := buf.Bytes()
	if got[0] != byte(TagVideo) {
		t.Fatalf("tag_type = %x", got[0])
	}
	dataSize := int(got[1])<<16 | int(got[2])<<8 | int(got[3])
	if dataSize != len(data) {
		t.Fatalf("data_size = %d, want %d", dataSize, len(data))
	}
	trailer := got[len(got)-4:]
	wantPrevSize := uint32(11 + len(data))
	gotPrevSize := uint32(trailer[0])<<24 | uint32(trailer[1])<<16 | uint32(trailer[2])<<8 | uint32(trailer[3])
	if gotPrevSize != wantPrevSize {
		t.Fatalf("PreviousTagSize = %d, want %d", gotPrevSize, wantPrevSize)
	}
}

func TestSplitAnnexBAndCacheOrdering(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1F, 0xAA}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}
	idr := append([]byte{0x65}, bytes.Repeat([]byte{0x11}, 20)...)

	var stream []byte
	stream = append(stream, 0x00, 0x00, 0x00, 0x01)
	stream = append(stream, sps...)
	stream = append(stream, 0x00, 0x00, 0x00, 0x01)
	stream = append(stream, pps...)
	stream = append(stream, 0x00, 0x00, 0x01)
	stream = append(stream, idr...)

	units := SplitAnnexB(stream)
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}
	if units[0].Type != NALTypeSPS || units[1].Type != NALTypePPS || units[2].Type != NALTypeIDR {
		t.Fatalf("types = %d %d %d", units[0].Type, units[1].Type, units[2].Type)
	}

	var c Cache
	forward, hasIDR := c.Observe(units)
	if !c.Ready() {
		t.Fatal("expected SPS+PPS cached")
	}
	if !bytes.Equal(c.SPS, sps) || !bytes.Equal(c.PPS, pps) {
		t.Fatal("cached SPS/PPS mismatch")
	}
	if len(forward) != 1 || !hasIDR {
		t.Fatalf("forward = %d units, hasIDR = %v", len(forward), hasIDR)
	}
}

func TestAVCDecoderConfigurationRecordFromExactBytes(t *testing.T) {
	sps := []byte{0x67, 0x64, 0x00, 0x1F, 0x00, 0x00}
	pps := []byte{0x68, 0xEB, 0xE3, 0xCB}

	rec, err := BuildAVCDecoderConfigurationRecord(sps, pps)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rec[0] != 0x01 {
		t.Fatalf("configurationVersion = %x", rec[0])
	}
	if rec[1] != sps[1] || rec[2] != sps[2] || rec[3] != sps[3] {
		t.Fatal("profile/compat/level mismatch")
	}
}

func TestFirstTwoVideoTagsOnFreshConnection(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1F}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}
	idr := bytes.Repeat([]byte{0x65}, 15238)

	var c Cache
	var stream []byte
	stream = append(stream, 0x00, 0x00, 0x00, 0x01)
	stream = append(stream, sps...)
	stream = append(stream, 0x00, 0x00, 0x00, 0x01)
	stream = append(stream, pps...)
	stream = append(stream, 0x00, 0x00, 0x00, 0x01)
	stream = append(stream, idr...)

	units := SplitAnnexB(stream)
	forward, hasIDR := c.Observe(units)
	if !hasIDR {
		t.Fatal("expected IDR in this batch")
	}

	rec, err := BuildAVCDecoderConfigurationRecord(c.SPS, c.PPS)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var buf bytes.Buffer
	seqHeaderData := VideoTagData(true, AVCPacketTypeSequenceHeader, 0, rec)
	WriteTag(&buf, TagVideo, seqHeaderData, 0)

	var naluPayload []byte
	for _, u := range forward {
		naluPayload = AppendLengthPrefixedNAL(naluPayload, u.Data)
	}
	idrTagData := VideoTagData(true, AVCPacketTypeNALU, 0, naluPayload)
	WriteTag(&buf, TagVideo, idrTagData, 0)

	out := buf.Bytes()
	firstTagType := out[0]
	if firstTagType != byte(TagVideo) {
		t.Fatalf("first tag type = %x", firstTagType)
	}
	firstDataFirstByte := out[11]
	if firstDataFirstByte != 0x17 { // keyframe<<4 | AVC
		t.Fatalf("first tag frame/codec byte = %x, want 0x17", firstDataFirstByte)
	}
	firstAVCPacketType := out[12]
	if firstAVCPacketType != AVCPacketTypeSequenceHeader {
		t.Fatalf("first AVC packet type = %d, want sequence header", firstAVCPacketType)
	}
}
