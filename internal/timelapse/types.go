// Package timelapse implements the Time-lapse Recorder (§4.G): a
// print-event-driven state machine that captures single JPEGs to disk and,
// on print end, defers hardware (or software-fallback) encoding into an MP4
// container, with orphan recovery across process restarts.
package timelapse

import (
	"sync"
	"time"
)

// EncodeStatus is the session's deferred-encode state.
type EncodeStatus string

const (
	StatusIdle    EncodeStatus = "idle"
	StatusPending EncodeStatus = "pending"
	StatusRunning EncodeStatus = "running"
	StatusSuccess EncodeStatus = "success"
	StatusFailed  EncodeStatus = "failed"
)

// Session is the Time-lapse Session of §3: the lifecycle object tracking a
// single print's frames from start to finalize. Guarded by its own mutex;
// only one session exists at a time (owned by the Recorder).
type Session struct {
	mu sync.Mutex

	BaseName   string // derived from the print filename, extension stripped
	Seq        int    // {name}_{NN}.mp4 sequence number
	TempDir    string // {base}_{pid}
	FrameCount int
	Active     bool
	CustomMode bool // ownership marker: set when an external event source owns the session

	Status EncodeStatus
	Detail string

	lastCapturedSeq uint64 // §9: explicit field, no function-static

	startedAt time.Time
}
