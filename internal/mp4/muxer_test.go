package mp4

import (
	"bytes"
	"testing"
)

func TestMuxProducesFtypMoovMdat(t *testing.T) {
	tr := Track{
		Width: 640, Height: 360, Timescale: 10,
		SPS: []byte{0x67, 0x42, 0x00, 0x1F},
		PPS: []byte{0x68, 0xCE, 0x3C, 0x80},
	}
	samples := []Sample{
		{Data: bytes.Repeat([]byte{0x01}, 100), Duration: 1, Keyframe: true},
		{Data: bytes.Repeat([]byte{0x02}, 80), Duration: 1},
		{Data: bytes.Repeat([]byte{0x03}, 80), Duration: 1},
	}

	var buf bytes.Buffer
	if err := Mux(&buf, tr, samples); err != nil {
		t.Fatalf("mux: %v", err)
	}

	out := buf.Bytes()
	if !bytes.Equal(out[4:8], []byte("ftyp")) {
		t.Fatalf("expected ftyp first, got %q", out[4:8])
	}

	ftypLen := int(uint32(out[0])<<24 | uint32(out[1])<<16 | uint32(out[2])<<8 | uint32(out[3]))
	moovFourcc := out[ftypLen+4 : ftypLen+8]
	if !bytes.Equal(moovFourcc, []byte("moov")) {
		t.Fatalf("expected moov after ftyp, got %q", moovFourcc)
	}

	moovLen := int(uint32(out[ftypLen])<<24 | uint32(out[ftypLen+1])<<16 | uint32(out[ftypLen+2])<<8 | uint32(out[ftypLen+3]))
	mdatStart := ftypLen + moovLen
	mdatFourcc := out[mdatStart+4 : mdatStart+8]
	if !bytes.Equal(mdatFourcc, []byte("mdat")) {
		t.Fatalf("expected mdat after moov, got %q", mdatFourcc)
	}

	mdatPayload := out[mdatStart+8:]
	var want []byte
	for _, s := range samples {
		want = append(want, s.Data...)
	}
	if !bytes.Equal(mdatPayload, want) {
		t.Fatal("mdat payload does not match concatenated sample data")
	}
}

func TestMuxRejectsEmptySamples(t *testing.T) {
	var buf bytes.Buffer
	err := Mux(&buf, Track{Width: 10, Height: 10, Timescale: 1}, nil)
	if err == nil {
		t.Fatal("expected error for empty sample list")
	}
}
