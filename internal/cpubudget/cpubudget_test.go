package cpubudget

import "testing"

func constSampler(total float64) Sampler {
	return func() (float64, float64, float64) { return total, 0, 0 }
}

func TestTickConvergesWithoutOscillation(t *testing.T) {
	c := New(1, 70, 5, constSampler(90))
	c.SetAutoSkip(true)

	var last int
	steps := 0
	for i := 0; i < 20; i++ {
		c.Tick()
		cur := c.EffectiveRatio()
		if i > 0 {
			diff := cur - last
			if diff < 0 {
				diff = -diff
			}
			if diff > 1 {
				t.Fatalf("ratio moved by more than one step in a tick: %d -> %d", last, cur)
			}
		}
		last = cur
		steps++
		if cur == maxRatio {
			break
		}
	}
	if last != maxRatio {
		t.Fatalf("expected ratio to converge to max %d, got %d after %d ticks", maxRatio, last, steps)
	}

	// Once at max, another over-target tick must not exceed max.
	c.Tick()
	if c.EffectiveRatio() > maxRatio {
		t.Fatalf("ratio exceeded cap: %d", c.EffectiveRatio())
	}
}

func TestTickIgnoredWhenAutoSkipOff(t *testing.T) {
	c := New(2, 70, 5, constSampler(95))
	c.Tick()
	if c.EffectiveRatio() != 2 {
		t.Fatalf("expected ratio unchanged at 2, got %d", c.EffectiveRatio())
	}
}

func TestTickDecrementsTowardTarget(t *testing.T) {
	c := New(5, 70, 5, constSampler(10))
	c.SetAutoSkip(true)
	for i := 0; i < 10; i++ {
		c.Tick()
	}
	if c.EffectiveRatio() != minRatio {
		t.Fatalf("expected ratio to settle at min %d, got %d", minRatio, c.EffectiveRatio())
	}
}
