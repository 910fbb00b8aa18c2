package flv

// NAL unit type constants relevant to caching and keyframe detection.
const (
	NALTypeSlice byte = 1
	NALTypeIDR   byte = 5
	NALTypeSEI   byte = 6
	NALTypeSPS   byte = 7
	NALTypePPS   byte = 8
)

// NALUnit is one parsed Annex-B access-unit element.
type NALUnit struct {
	Type byte
	Data []byte // NAL body without its start code; Data[0] is the NAL header byte
}

// SplitAnnexB scans buf for Annex-B start codes (00 00 00 01 or 00 00 01)
// and returns the NAL units between them, each including its one-byte NAL
// header as Data[0].
func SplitAnnexB(buf []byte) []NALUnit {
	starts := findStartCodes(buf)
	if len(starts) == 0 {
		return nil
	}

	var units []NALUnit
	for i, s := range starts {
		bodyStart := s.offset + s.length
		var bodyEnd int
		if i+1 < len(starts) {
			bodyEnd = starts[i+1].offset
		} else {
			bodyEnd = len(buf)
		}
		if bodyStart >= bodyEnd {
			continue
		}
		data := buf[bodyStart:bodyEnd]
		nalType := data[0] & 0x1F
		units = append(units, NALUnit{Type: nalType, Data: data})
	}
	return units
}

type startCode struct {
	offset int
	length int // 3 or 4
}

func findStartCodes(buf []byte) []startCode {
	var codes []startCode
	for i := 0; i+2 < len(buf); {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
			length := 3
			if i > 0 && buf[i-1] == 0 {
				// the 3-byte match includes a leading zero already emitted
				// as part of the previous NAL's tail; widen to the 4-byte
				// form and back up the recorded offset accordingly.
				length = 4
				i--
			}
			codes = append(codes, startCode{offset: i, length: length})
			i += length
			continue
		}
		i++
	}
	return codes
}

// Cache holds the most recently seen SPS and PPS NAL bodies (including the
// NAL header byte), used to build decoder configuration records for new
// clients.
type Cache struct {
	SPS []byte
	PPS []byte
}

// Observe scans units, updates the cache on SPS/PPS sightings, and returns
// the subset of units that should be forwarded into an outgoing VIDEO tag
// (SEI, slice, IDR) along with whether any of them is an IDR.
func (c *Cache) Observe(units []NALUnit) (forward []NALUnit, hasIDR bool) {
	for _, u := range units {
		switch u.Type {
		case NALTypeSPS:
			c.SPS = append([]byte(nil), u.Data...)
		case NALTypePPS:
			c.PPS = append([]byte(nil), u.Data...)
		case NALTypeSEI, NALTypeSlice, NALTypeIDR:
			forward = append(forward, u)
			if u.Type == NALTypeIDR {
				hasIDR = true
			}
		}
	}
	return forward, hasIDR
}

// Ready reports whether both SPS and PPS have been cached.
func (c *Cache) Ready() bool {
	return len(c.SPS) > 0 && len(c.PPS) > 0
}
