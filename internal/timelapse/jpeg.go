package timelapse

// validJPEG implements §9's structural validation property: begins with
// FF D8, ends with FF D9, exactly one of each marker, with FF D9 at the
// final two bytes (no premature FF D9, no intermediate FF D8).
func validJPEG(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	if b[0] != 0xFF || b[1] != 0xD8 {
		return false
	}
	if b[len(b)-2] != 0xFF || b[len(b)-1] != 0xD9 {
		return false
	}

	soiCount, eoiCount := 0, 0
	for i := 0; i < len(b)-1; i++ {
		if b[i] != 0xFF {
			continue
		}
		switch b[i+1] {
		case 0xD8:
			soiCount++
			if i != 0 {
				return false // intermediate SOI
			}
		case 0xD9:
			eoiCount++
			if i != len(b)-2 {
				return false // premature EOI
			}
		}
	}
	return soiCount == 1 && eoiCount == 1
}
