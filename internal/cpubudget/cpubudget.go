// Package cpubudget implements the CPU Budget Controller (§4.K): every 2 s it
// samples total/self/children CPU usage and steers the Capture Pump's
// effective skip ratio toward a target percentage. CPU sampling is an
// out-of-scope external collaborator (§1); the default sampler reads
// /proc/stat and /proc/self/stat (the teacher's own "read kernel pseudo-files"
// idiom, internal/system/system.go), fully swappable for tests.
package cpubudget

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"camerad/internal/logger"
)

var log = logger.WithComponent("CPUBUDGET")

// Sampler reports total system CPU percent, this process's CPU percent, and
// the summed CPU percent of supervised children.
type Sampler func() (total, self, children float64)

const (
	minRatio = 1
	maxRatio = 10
)

// Controller owns the effective skip ratio and adjusts it on a 2 s tick.
type Controller struct {
	sample     Sampler
	targetCPU  int
	hysteresis float64
	autoSkip   atomic.Bool
	ratio      atomic.Int64

	mu       sync.Mutex
	interval time.Duration
}

// New creates a Controller with the given baseline skip ratio and target CPU
// percentage. hysteresis is the dead-band around target before adjusting
// (e.g. 5.0 means target±5%).
func New(baseRatio, targetCPUPercent int, hysteresis float64, sample Sampler) *Controller {
	if sample == nil {
		sample = DefaultSampler(nil)
	}
	c := &Controller{
		sample:     sample,
		targetCPU:  targetCPUPercent,
		hysteresis: hysteresis,
		interval:   2 * time.Second,
	}
	if baseRatio < minRatio {
		baseRatio = minRatio
	}
	c.ratio.Store(int64(baseRatio))
	return c
}

// SetAutoSkip toggles whether Run actually adjusts the ratio.
func (c *Controller) SetAutoSkip(on bool) { c.autoSkip.Store(on) }

// SetTargetCPU updates the target percentage the controller steers toward.
func (c *Controller) SetTargetCPU(pct int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetCPU = pct
}

// EffectiveRatio returns the current skip ratio; readers see a consistent
// integer without locking (§4.K).
func (c *Controller) EffectiveRatio() int {
	return int(c.ratio.Load())
}

// SetRatio forces the ratio (e.g. on a manual config change with auto_skip
// off).
func (c *Controller) SetRatio(r int) {
	if r < minRatio {
		r = minRatio
	}
	if r > maxRatio {
		r = maxRatio
	}
	c.ratio.Store(int64(r))
}

// Tick samples CPU once and, if auto_skip is enabled, adjusts the ratio by
// at most one step. Exported standalone so tests can drive it without a
// goroutine/timer.
func (c *Controller) Tick() (total, self, children float64) {
	total, self, children = c.sample()
	if !c.autoSkip.Load() {
		return
	}

	c.mu.Lock()
	target := float64(c.targetCPU)
	hyst := c.hysteresis
	c.mu.Unlock()

	cur := c.ratio.Load()
	switch {
	case total > target+hyst && cur < maxRatio:
		c.ratio.Store(cur + 1)
		log.Info("cpu %.1f%% over target %.0f%%, skip_ratio %d -> %d", total, target, cur, cur+1)
	case total < target-hyst && cur > minRatio:
		c.ratio.Store(cur - 1)
		log.Info("cpu %.1f%% under target %.0f%%, skip_ratio %d -> %d", total, target, cur, cur-1)
	}
	return
}

// Run drives Tick on a 2 s ticker until ctx/stop fires.
func (c *Controller) Run(stop <-chan struct{}) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.Tick()
		}
	}
}

// DefaultSampler builds a Sampler reading /proc/stat for total CPU and
// /proc/self/stat for this process; childrenPIDs is consulted (if non-nil)
// for the summed children contribution via each child's /proc/<pid>/stat.
func DefaultSampler(childrenPIDs func() []int) Sampler {
	var prevTotal, prevIdle uint64
	var prevSelf uint64
	var prevWall time.Time
	var prevChildren map[int]uint64
	var mu sync.Mutex

	return func() (total, self, children float64) {
		mu.Lock()
		defer mu.Unlock()

		curTotal, curIdle, ok := readProcStat("/proc/stat")
		now := time.Now()
		if ok && prevWall.Unix() != 0 {
			dTotal := float64(curTotal - prevTotal)
			dIdle := float64(curIdle - prevIdle)
			if dTotal > 0 {
				total = 100 * (dTotal - dIdle) / dTotal
			}
		}
		if ok {
			prevTotal, prevIdle = curTotal, curIdle
		}

		curSelf, ok := readProcPidTicks("/proc/self/stat")
		elapsed := now.Sub(prevWall).Seconds()
		if ok && elapsed > 0 && !prevWall.IsZero() {
			self = 100 * float64(curSelf-prevSelf) / (elapsed * float64(clockTicksPerSec))
		}
		if ok {
			prevSelf = curSelf
		}

		if childrenPIDs != nil {
			seen := make(map[int]uint64)
			for _, pid := range childrenPIDs() {
				ticks, ok := readProcPidTicks("/proc/" + strconv.Itoa(pid) + "/stat")
				if !ok {
					continue
				}
				if prev, had := prevChildren[pid]; had && ticks >= prev && elapsed > 0 {
					children += 100 * float64(ticks-prev) / (elapsed * float64(clockTicksPerSec))
				}
				seen[pid] = ticks
			}
			prevChildren = seen
		}
		prevWall = now
		return total, self, children
	}
}

const clockTicksPerSec = 100 // USER_HZ, standard on Linux

func readProcStat(path string) (total, idle uint64, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, 0, false
	}
	fields := strings.Fields(sc.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, false
	}
	var sum uint64
	for _, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			continue
		}
		sum += v
	}
	idleVal, _ := strconv.ParseUint(fields[4], 10, 64)
	return sum, idleVal, true
}

func readProcPidTicks(path string) (uint64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	// Fields after the ")" closing the process name are space-separated and
	// start at field 3 (state); utime and stime, fields 14 and 15 of the
	// whole line, are 0-based indexes 11 and 12 of that tail.
	i := strings.LastIndexByte(string(data), ')')
	if i < 0 || i+2 >= len(data) {
		return 0, false
	}
	fields := strings.Fields(string(data[i+2:]))
	if len(fields) < 15 {
		return 0, false
	}
	utime, _ := strconv.ParseUint(fields[11], 10, 64)
	stime, _ := strconv.ParseUint(fields[12], 10, 64)
	return utime + stime, true
}
