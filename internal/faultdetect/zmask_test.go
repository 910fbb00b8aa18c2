package faultdetect

import "testing"

func TestMaskHexRoundTrip(t *testing.T) {
	var m Mask
	m.Set(0)
	m.Set(63)
	m.Set(64)
	m.Set(447)

	hex := m.ToHex()
	if len(hex) != 119 {
		t.Fatalf("ToHex length = %d, want 119", len(hex))
	}

	got, err := FromHex(hex)
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch: got %v want %v", got, m)
	}
}

func TestMaskHexLegacyForm(t *testing.T) {
	var m Mask
	m[3], m[4], m[5], m[6] = 1, 2, 3, 4
	legacy := "0000000000000001:0000000000000002:0000000000000003:0000000000000004"

	got, err := FromHex(legacy)
	if err != nil {
		t.Fatalf("FromHex legacy: %v", err)
	}
	if got != m {
		t.Fatalf("legacy parse mismatch: got %v want %v", got, m)
	}
}

func TestMaskForZ(t *testing.T) {
	var m0, m1, m2 Mask
	m0.Set(1)
	m1.Set(2)
	m2.Set(3)
	table := ZTable{{ZMM: 0.2, Mask: m0}, {ZMM: 0.5, Mask: m1}, {ZMM: 0.9, Mask: m2}}
	var fallback Mask
	fallback.Set(9)

	cases := []struct {
		z    float64
		want Mask
	}{
		{0.0, m0},  // below all entries -> first entry's mask
		{0.2, m0},  // exact match
		{0.3, m0},  // between 0.2 and 0.5 -> largest <= z
		{0.5, m1},
		{10.0, m2}, // above all -> largest entry
	}
	for _, c := range cases {
		if got := table.MaskForZ(c.z, fallback); got != c.want {
			t.Errorf("MaskForZ(%v) = %v, want %v", c.z, got, c.want)
		}
	}

	if got := (ZTable{}).MaskForZ(5, fallback); got != fallback {
		t.Errorf("empty table should return fallback, got %v", got)
	}
}
