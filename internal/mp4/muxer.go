package mp4

import (
	"fmt"
	"io"
)

// Sample is one encoded access unit to place in the mdat box.
type Sample struct {
	Data      []byte // length-prefixed NAL units (AVCC framing)
	Duration  uint32 // in Track.Timescale units
	Keyframe  bool
}

// Track describes the single video track this muxer emits.
type Track struct {
	Width, Height int
	Timescale     uint32 // ticks per second, e.g. the fps so a Duration of 1 is one frame, or 1000 for ms durations
	SPS, PPS      []byte
}

// Mux writes a complete MP4 file (ftyp, moov, mdat) to w containing one AVC
// video track built from samples, in order.
func Mux(w io.Writer, tr Track, samples []Sample) error {
	if len(samples) == 0 {
		return fmt.Errorf("mp4: no samples to mux")
	}

	mdat := newBox("mdat")
	offsets := make([]uint32, len(samples))
	// mdat payload begins after ftyp + moov; moov size must be known first,
	// so we build moov against a placeholder chunk offset of 0 and patch it
	// once mdat's absolute start is known.
	cursor := uint32(0)
	for i, s := range samples {
		offsets[i] = cursor
		mdat.writeBytes(s.Data)
		cursor += uint32(len(s.Data))
	}

	ftyp := buildFtyp()
	moov := buildMoov(tr, samples)

	mdatStart := uint32(len(ftyp) + len(moov.encode())) + 8 // +8 for mdat's own header
	for i := range offsets {
		offsets[i] += mdatStart
	}
	moov = buildMoovWithOffsets(tr, samples, offsets)

	if _, err := w.Write(ftyp); err != nil {
		return err
	}
	if _, err := w.Write(moov.encode()); err != nil {
		return err
	}
	if _, err := w.Write(mdat.encode()); err != nil {
		return err
	}
	return nil
}

func buildFtyp() []byte {
	b := newBox("ftyp")
	b.writeFixed("isom", 4)
	b.writeU32(0x200)
	b.writeFixed("isom", 4)
	b.writeFixed("iso2", 4)
	b.writeFixed("avc1", 4)
	b.writeFixed("mp41", 4)
	return b.encode()
}

// buildMoov builds the movie box with chunk offsets left at zero; used only
// to measure moov's size before mdat's start address is known.
func buildMoov(tr Track, samples []Sample) *box {
	offsets := make([]uint32, len(samples))
	return buildMoovWithOffsets(tr, samples, offsets)
}

func totalDuration(samples []Sample) uint32 {
	var total uint32
	for _, s := range samples {
		total += s.Duration
	}
	return total
}

func buildMoovWithOffsets(tr Track, samples []Sample, offsets []uint32) *box {
	moov := newBox("moov")
	moov.writeChild(buildMvhd(tr, samples))
	moov.writeChild(buildTrak(tr, samples, offsets))
	return moov
}

func buildMvhd(tr Track, samples []Sample) *box {
	b := newBox("mvhd")
	b.writeU8(0) // version
	b.writeU24(0)
	b.writeU32(0) // creation time
	b.writeU32(0) // modification time
	b.writeU32(tr.Timescale)
	b.writeU32(totalDuration(samples))
	b.writeU32(0x00010000) // rate 1.0
	b.writeU16(0x0100)     // volume 1.0
	b.writeU16(0)          // reserved
	b.writeU32(0)
	b.writeU32(0)
	for _, v := range [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000} {
		b.writeU32(v)
	}
	for i := 0; i < 6; i++ {
		b.writeU32(0) // predefined
	}
	b.writeU32(2) // next track id
	return b
}

func buildTrak(tr Track, samples []Sample, offsets []uint32) *box {
	trak := newBox("trak")
	trak.writeChild(buildTkhd(tr, samples))
	trak.writeChild(buildMdia(tr, samples, offsets))
	return trak
}

func buildTkhd(tr Track, samples []Sample) *box {
	b := newBox("tkhd")
	b.writeU8(0)
	b.writeU24(7) // flags: enabled, in-movie, in-preview
	b.writeU32(0)
	b.writeU32(0)
	b.writeU32(1) // track id
	b.writeU32(0) // reserved
	b.writeU32(totalDuration(samples))
	b.writeU32(0)
	b.writeU32(0)
	b.writeU16(0) // layer
	b.writeU16(0) // alternate group
	b.writeU16(0) // volume (video track: 0)
	b.writeU16(0) // reserved
	for _, v := range [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000} {
		b.writeU32(v)
	}
	b.writeU32(uint32(tr.Width) << 16)
	b.writeU32(uint32(tr.Height) << 16)
	return b
}

func buildMdia(tr Track, samples []Sample, offsets []uint32) *box {
	mdia := newBox("mdia")
	mdia.writeChild(buildMdhd(tr, samples))
	mdia.writeChild(buildHdlr())
	mdia.writeChild(buildMinf(tr, samples, offsets))
	return mdia
}

func buildMdhd(tr Track, samples []Sample) *box {
	b := newBox("mdhd")
	b.writeU8(0)
	b.writeU24(0)
	b.writeU32(0)
	b.writeU32(0)
	b.writeU32(tr.Timescale)
	b.writeU32(totalDuration(samples))
	b.writeU16(0x55C4) // language "und"
	b.writeU16(0)
	return b
}

func buildHdlr() *box {
	b := newBox("hdlr")
	b.writeU8(0)
	b.writeU24(0)
	b.writeU32(0)
	b.writeFixed("vide", 4)
	b.writeU32(0)
	b.writeU32(0)
	b.writeU32(0)
	b.writeBytes([]byte("camerad\x00"))
	return b
}

func buildMinf(tr Track, samples []Sample, offsets []uint32) *box {
	minf := newBox("minf")
	minf.writeChild(buildVmhd())
	minf.writeChild(buildDinf())
	minf.writeChild(buildStbl(tr, samples, offsets))
	return minf
}

func buildVmhd() *box {
	b := newBox("vmhd")
	b.writeU8(0)
	b.writeU24(1)
	b.writeU16(0)
	b.writeU16(0)
	b.writeU16(0)
	b.writeU16(0)
	return b
}

func buildDinf() *box {
	dinf := newBox("dinf")
	dref := newBox("dref")
	dref.writeU8(0)
	dref.writeU24(0)
	dref.writeU32(1)
	url := newBox("url ")
	url.writeU8(0)
	url.writeU24(1) // self-contained
	dref.writeChild(url)
	dinf.writeChild(dref)
	return dinf
}

func buildStbl(tr Track, samples []Sample, offsets []uint32) *box {
	stbl := newBox("stbl")
	stbl.writeChild(buildStsd(tr))
	stbl.writeChild(buildStts(samples))
	stbl.writeChild(buildStss(samples))
	stbl.writeChild(buildStsc(samples))
	stbl.writeChild(buildStsz(samples))
	stbl.writeChild(buildStco(offsets))
	return stbl
}

func buildStsd(tr Track) *box {
	stsd := newBox("stsd")
	stsd.writeU8(0)
	stsd.writeU24(0)
	stsd.writeU32(1) // entry count

	avc1 := newBox("avc1")
	avc1.writeBytes(make([]byte, 6)) // reserved
	avc1.writeU16(1)                 // data reference index
	avc1.writeU16(0)                 // pre-defined
	avc1.writeU16(0)                 // reserved
	for i := 0; i < 3; i++ {
		avc1.writeU32(0) // pre-defined
	}
	avc1.writeU16(uint16(tr.Width))
	avc1.writeU16(uint16(tr.Height))
	avc1.writeU32(0x00480000) // horizresolution 72dpi
	avc1.writeU32(0x00480000) // vertresolution 72dpi
	avc1.writeU32(0)          // reserved
	avc1.writeU16(1)          // frame count
	avc1.writeFixed("", 32)   // compressorname
	avc1.writeU16(0x0018)     // depth
	avc1.writeU16(0xFFFF)     // pre-defined

	avc1.writeChild(buildAvcC(tr))

	stsd.writeChild(avc1)
	return stsd
}

func buildAvcC(tr Track) *box {
	b := newBox("avcC")
	b.writeU8(1) // configurationVersion
	if len(tr.SPS) > 3 {
		b.writeU8(tr.SPS[1])
		b.writeU8(tr.SPS[2])
		b.writeU8(tr.SPS[3])
	} else {
		b.writeU8(0)
		b.writeU8(0)
		b.writeU8(0)
	}
	b.writeU8(0xFF) // lengthSizeMinusOne = 3 (4-byte lengths)
	b.writeU8(0xE1) // numOfSPS = 1
	b.writeU16(uint16(len(tr.SPS)))
	b.writeBytes(tr.SPS)
	b.writeU8(1) // numOfPPS
	b.writeU16(uint16(len(tr.PPS)))
	b.writeBytes(tr.PPS)
	return b
}

func buildStts(samples []Sample) *box {
	b := newBox("stts")
	b.writeU8(0)
	b.writeU24(0)

	type run struct {
		count    uint32
		duration uint32
	}
	var runs []run
	for _, s := range samples {
		if len(runs) > 0 && runs[len(runs)-1].duration == s.Duration {
			runs[len(runs)-1].count++
			continue
		}
		runs = append(runs, run{count: 1, duration: s.Duration})
	}

	b.writeU32(uint32(len(runs)))
	for _, r := range runs {
		b.writeU32(r.count)
		b.writeU32(r.duration)
	}
	return b
}

func buildStss(samples []Sample) *box {
	b := newBox("stss")
	b.writeU8(0)
	b.writeU24(0)

	var keyIdx []uint32
	for i, s := range samples {
		if s.Keyframe {
			keyIdx = append(keyIdx, uint32(i+1))
		}
	}
	b.writeU32(uint32(len(keyIdx)))
	for _, idx := range keyIdx {
		b.writeU32(idx)
	}
	return b
}

func buildStsc(samples []Sample) *box {
	b := newBox("stsc")
	b.writeU8(0)
	b.writeU24(0)
	b.writeU32(1) // one entry: every sample is its own chunk
	b.writeU32(1) // first chunk
	b.writeU32(1) // samples per chunk
	b.writeU32(1) // sample description index
	return b
}

func buildStsz(samples []Sample) *box {
	b := newBox("stsz")
	b.writeU8(0)
	b.writeU24(0)
	b.writeU32(0) // sample_size = 0 (variable sizes follow)
	b.writeU32(uint32(len(samples)))
	for _, s := range samples {
		b.writeU32(uint32(len(s.Data)))
	}
	return b
}

func buildStco(offsets []uint32) *box {
	b := newBox("stco")
	b.writeU8(0)
	b.writeU24(0)
	b.writeU32(uint32(len(offsets)))
	for _, off := range offsets {
		b.writeU32(off)
	}
	return b
}
