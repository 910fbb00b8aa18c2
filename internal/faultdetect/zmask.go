package faultdetect

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// GridCells is the Z-mask bit width (7 x 64 = 448), enough for the largest
// heatmap grid (§3: 14x28 = 392 cells), indexed by row*W+col.
const GridCells = 448

// Mask is a 448-bit bitset over heatmap cells, stored as 7 big-endian
// 64-bit words (word 0 is most significant, matching the wire encoding).
type Mask [7]uint64

// Set marks cell idx (0..447) active.
func (m *Mask) Set(idx int) {
	if idx < 0 || idx >= GridCells {
		return
	}
	word, bit := idx/64, idx%64
	m[word] |= 1 << uint(63-bit)
}

// IsSet reports whether cell idx is active.
func (m Mask) IsSet(idx int) bool {
	if idx < 0 || idx >= GridCells {
		return false
	}
	word, bit := idx/64, idx%64
	return m[word]&(1<<uint(63-bit)) != 0
}

// ToHex serializes m as seven colon-separated 16-hex-digit words,
// most-significant word first (§6.5), with a trailing colon so the wire
// form is exactly 119 characters (§8).
func (m Mask) ToHex() string {
	parts := make([]string, 7)
	for i, w := range m {
		parts[i] = fmt.Sprintf("%016x", w)
	}
	return strings.Join(parts, ":") + ":"
}

// FromHex parses the §6.5 wire form: seven 16-hex-digit words (current
// form) or four (legacy, accepted on input only). The legacy form's 256
// bits occupy the least-significant four words; the high three words are
// zero, since the legacy grid was a strict subset of the current one.
func FromHex(s string) (Mask, error) {
	s = strings.TrimSuffix(s, ":")
	tokens := strings.Split(s, ":")
	var m Mask
	switch len(tokens) {
	case 7:
		for i, t := range tokens {
			v, err := strconv.ParseUint(t, 16, 64)
			if err != nil {
				return Mask{}, fmt.Errorf("faultdetect: bad mask word %q: %w", t, err)
			}
			m[i] = v
		}
	case 4:
		for i, t := range tokens {
			v, err := strconv.ParseUint(t, 16, 64)
			if err != nil {
				return Mask{}, fmt.Errorf("faultdetect: bad legacy mask word %q: %w", t, err)
			}
			m[3+i] = v
		}
	default:
		return Mask{}, fmt.Errorf("faultdetect: mask must have 7 (or legacy 4) colon-separated words, got %d", len(tokens))
	}
	return m, nil
}

// ZEntry is one (z_mm, mask) pair in a Z-Mask Table, ascending by ZMM.
type ZEntry struct {
	ZMM  float64
	Mask Mask
}

// ZTable is the ordered Z-Mask Table of §3.
type ZTable []ZEntry

// MaskForZ implements fd_get_mask_for_z: the mask whose z_mm is the largest
// value <= z, the first entry's mask when z is below all entries, or
// fallback when the table is empty.
func (t ZTable) MaskForZ(z float64, fallback Mask) Mask {
	if len(t) == 0 {
		return fallback
	}
	// t is ascending by ZMM; binary search for the rightmost entry with
	// ZMM <= z.
	i := sort.Search(len(t), func(i int) bool { return t[i].ZMM > z })
	if i == 0 {
		return t[0].Mask
	}
	return t[i-1].Mask
}
