// Package flvsrv implements the FLV Streaming Server (§4.E): on each
// connect it sends the FLV header, onMetaData, and the AVC decoder
// configuration record, then a continuous stream of per-access-unit VIDEO
// tags built from the Frame Bus's h264 slot. Wire-format details live in
// internal/flv (header bytes, tag framing, AVCDecoderConfigurationRecord,
// SCRIPTDATA); this package owns the HTTP server, the shared Annex-B
// parser, and per-client fan-out, grounded on the teacher's
// StreamBroadcaster per-client-channel/slow-client-drop pattern
// (internal/process/ffmpeg.go).
package flvsrv

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"camerad/internal/flv"
	"camerad/internal/framebus"
	"camerad/internal/logger"
)

var log = logger.WithComponent("FLV")

const clientQueueDepth = 16

type msgKind int

const (
	msgSeqHeader msgKind = iota
	msgNALU
)

type frameMsg struct {
	kind     msgKind
	data     []byte
	keyframe bool
}

type clientEntry struct {
	ch            chan frameMsg
	sentSeqHeader bool
}

// Server serves /flv from one h264 Slot, sharing one Annex-B parse across
// every connected client (§4.E's "The parser").
type Server struct {
	slot *framebus.Slot

	width, height int
	fps           int
	encoderName   string

	// RequestKeyframe, if set, is invoked when a client connects before any
	// SPS/PPS has been cached, per §4.E's out-of-band keyframe request.
	RequestKeyframe func()

	mu      sync.Mutex
	cache   flv.Cache
	clients map[*clientEntry]struct{}

	pollInterval time.Duration
}

// New creates a Server describing stream geometry (width, height, fps) and
// the "encoder" string announced in onMetaData.
func New(slot *framebus.Slot, width, height, fps int, encoderName string) *Server {
	return &Server{
		slot:         slot,
		width:        width,
		height:       height,
		fps:          fps,
		encoderName:  encoderName,
		clients:      make(map[*clientEntry]struct{}),
		pollInterval: 15 * time.Millisecond,
	}
}

// Clients returns the number of currently connected /flv clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Handler returns an http.Handler exposing /flv.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/flv", s.handleFLV)
	return mux
}

// Run drives the shared Annex-B parse/broadcast loop until stop fires.
func (s *Server) Run(stop <-chan struct{}) {
	var lastSeq uint64
	buf := make([]byte, s.slot.MaxSize())
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		n, seq, _, ok := s.slot.Snapshot(buf)
		if !ok || seq == lastSeq {
			continue
		}
		lastSeq = seq

		units := flv.SplitAnnexB(buf[:n])
		if len(units) == 0 {
			continue
		}

		s.mu.Lock()
		forward, hasIDR := s.cache.Observe(units)
		ready := s.cache.Ready()
		var seqHeader []byte
		if ready {
			seqHeader, _ = flv.BuildAVCDecoderConfigurationRecord(s.cache.SPS, s.cache.PPS)
		}

		var naluPayload []byte
		for _, u := range forward {
			naluPayload = flv.AppendLengthPrefixedNAL(naluPayload, u.Data)
		}
		// §9: a >64KiB VIDEO tag payload is skipped, connection kept open.
		if len(naluPayload) > 64*1024 {
			naluPayload = nil
		}

		for c := range s.clients {
			if ready && !c.sentSeqHeader {
				s.trySend(c, frameMsg{kind: msgSeqHeader, data: seqHeader})
				c.sentSeqHeader = true
			}
			if c.sentSeqHeader && len(naluPayload) > 0 {
				s.trySend(c, frameMsg{kind: msgNALU, data: naluPayload, keyframe: hasIDR})
			}
		}
		s.mu.Unlock()
	}
}

// trySend drops the client (closes and unregisters it) if its queue is
// full, per §4.D/E's bounded-queue backpressure policy. Caller holds s.mu.
func (s *Server) trySend(c *clientEntry, m frameMsg) {
	select {
	case c.ch <- m:
	default:
		log.Warn("client queue full (depth %d), dropping", clientQueueDepth)
		delete(s.clients, c)
		close(c.ch)
	}
}

func (s *Server) handleFLV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "video/x-flv")
	w.Header().Set("Connection", "close")

	flusher, _ := w.(http.Flusher)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(flv.FileHeader[:]); err != nil {
		return
	}

	var meta bytes.Buffer
	flv.WriteTag(&meta, flv.TagScriptData, flv.BuildOnMetaData(flv.Metadata{
		Width:        s.width,
		Height:       s.height,
		FrameRate:    float64(s.fps),
		VideoCodecID: 7,
		Duration:     0,
		Encoder:      s.encoderName,
	}), 0)
	if _, err := w.Write(meta.Bytes()); err != nil {
		return
	}
	if flusher != nil {
		flusher.Flush()
	}

	client := &clientEntry{ch: make(chan frameMsg, clientQueueDepth)}

	s.mu.Lock()
	needKeyframeRequest := !s.cache.Ready()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	if needKeyframeRequest && s.RequestKeyframe != nil {
		s.RequestKeyframe()
	}

	defer func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
	}()

	tagCount := int64(0)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.ch:
			if !ok {
				return
			}
			if err := s.writeFrame(w, msg, tagCount); err != nil {
				return
			}
			if msg.kind == msgNALU {
				tagCount++
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) writeFrame(w http.ResponseWriter, msg frameMsg, tagCount int64) error {
	ts := uint32(0)
	if s.fps > 0 {
		ts = uint32(tagCount * 1000 / int64(s.fps))
	}

	var tagData []byte
	switch msg.kind {
	case msgSeqHeader:
		tagData = flv.VideoTagData(true, flv.AVCPacketTypeSequenceHeader, 0, msg.data)
	case msgNALU:
		tagData = flv.VideoTagData(msg.keyframe, flv.AVCPacketTypeNALU, 0, msg.data)
	}

	var buf bytes.Buffer
	flv.WriteTag(&buf, flv.TagVideo, tagData, ts)

	done := make(chan error, 1)
	go func() {
		_, err := w.Write(buf.Bytes())
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		return errWriteTimeout
	}
}

var errWriteTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "flvsrv: client write timed out" }
