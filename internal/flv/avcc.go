package flv

import (
	"encoding/binary"
	"errors"
)

// ErrNoSPS is returned when building a decoder configuration record before
// any SPS has been cached.
var ErrNoSPS = errors.New("flv: no SPS cached yet")

// BuildAVCDecoderConfigurationRecord builds the ISO/IEC 14496-15
// AVCDecoderConfigurationRecord from the most recently seen SPS and PPS NAL
// bodies (without start codes).
func BuildAVCDecoderConfigurationRecord(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 {
		return nil, ErrNoSPS
	}

	out := make([]byte, 0, 11+len(sps)+len(pps))
	out = append(out,
		0x01,    // configurationVersion
		sps[1],  // AVCProfileIndication
		sps[2],  // profile_compatibility
		sps[3],  // AVCLevelIndication
		0xFF,    // reserved(6)=1 + lengthSizeMinusOne(2)=3 -> 4-byte lengths
		0xE1,    // reserved(3)=1 + numOfSequenceParameterSets(5)=1
	)

	var spsLen [2]byte
	binary.BigEndian.PutUint16(spsLen[:], uint16(len(sps)))
	out = append(out, spsLen[:]...)
	out = append(out, sps...)

	out = append(out, 0x01) // numOfPictureParameterSets = 1
	var ppsLen [2]byte
	binary.BigEndian.PutUint16(ppsLen[:], uint16(len(pps)))
	out = append(out, ppsLen[:]...)
	out = append(out, pps...)

	return out, nil
}
