package timelapse

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
)

var sequenceRe = regexp.MustCompile(`^(.+)_(\d+)\.mp4$`)

// findNextSequence implements find_next_sequence(name): one more than the
// largest NN among the {name}_{NN}.mp4 files in dir (1 when there are none or
// dir cannot be read). Gaps below the largest NN are not reused.
func findNextSequence(dir, name string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 1
	}
	max := 0
	for _, e := range entries {
		m := sequenceRe.FindStringSubmatch(e.Name())
		if m == nil || m[1] != name {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1
}

// sequencedName formats {name}_{NN}.mp4 with NN zero-padded to two digits
// (matching §8 scenario 3's "Test_PLA_0.2_01.mp4").
func sequencedName(name string, seq int) string {
	return fmt.Sprintf("%s_%02d.mp4", name, seq)
}

// thumbnailName formats the mirror-naming thumbnail: {name}_{NN}_{frames}.jpg.
func thumbnailName(name string, seq, frames int) string {
	return fmt.Sprintf("%s_%02d_%d.jpg", name, seq, frames)
}
