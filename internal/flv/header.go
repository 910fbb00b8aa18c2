// Package flv implements the FLV wire format used by the streaming server:
// the 13-byte file header, SCRIPTDATA onMetaData tag, AVC decoder
// configuration record, and per-access-unit VIDEO tags. It has no HTTP
// dependency so it is testable against literal byte sequences on its own.
package flv

// FileHeader is the fixed 13-byte FLV file header: "FLV", version 1,
// flags 0x01 (video only), header size 9 (big-endian u32), then
// PreviousTagSize0 = 0 (big-endian u32).
var FileHeader = [13]byte{
	'F', 'L', 'V',
	0x01,                   // version
	0x01,                   // flags: video present, audio absent
	0x00, 0x00, 0x00, 0x09, // header size, BE32
	0x00, 0x00, 0x00, 0x00, // PreviousTagSize0
}
