// Package mjpegsrv implements the MJPEG Streaming Server (§4.D): a
// multipart/x-mixed-replace server sourced from the Frame Bus's jpeg slot.
// Grounded on the teacher's StreamBroadcaster per-client channel and
// slow-client-drop pattern (internal/process/ffmpeg.go), rebuilt against
// internal/framebus instead of a broadcast channel since the bus is already
// the latest-wins source of truth.
package mjpegsrv

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"camerad/internal/framebus"
	"camerad/internal/logger"
)

var log = logger.WithComponent("MJPEG")

const boundary = "camerad-mjpeg-boundary"

// Server serves /stream and /snapshot from one jpeg Slot.
type Server struct {
	slot *framebus.Slot

	pollInterval time.Duration
	writeTimeout time.Duration
	maxQueueLag  time.Duration

	clients atomic.Int64
}

// New creates a Server reading the given jpeg slot.
func New(slot *framebus.Slot) *Server {
	return &Server{
		slot:         slot,
		pollInterval: 20 * time.Millisecond,
		writeTimeout: 2 * time.Second,
		maxQueueLag:  3 * time.Second,
	}
}

// Clients returns the current connected /stream client count, for /api/stats.
func (s *Server) Clients() int { return int(s.clients.Load()) }

// Handler returns an http.Handler exposing /stream and /snapshot.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	return mux
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", boundary))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	s.clients.Add(1)
	defer s.clients.Add(-1)

	buf := make([]byte, s.slot.MaxSize())
	var lastSeq uint64
	var lastProgress time.Time = time.Now()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, seq, _, ok := s.slot.Snapshot(buf)
		if !ok || seq == lastSeq {
			if time.Since(lastProgress) > s.maxQueueLag {
				log.Warn("client %s stalled past %v, disconnecting", r.RemoteAddr, s.maxQueueLag)
				return // no fresh frame for too long: disconnect per backpressure policy
			}
			continue
		}
		lastSeq = seq
		lastProgress = time.Now()

		part := fmt.Sprintf("\r\n--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, n)

		writeDone := make(chan error, 1)
		go func() {
			if _, err := w.Write([]byte(part)); err != nil {
				writeDone <- err
				return
			}
			_, err := w.Write(buf[:n])
			writeDone <- err
		}()

		select {
		case err := <-writeDone:
			if err != nil {
				return
			}
		case <-time.After(s.writeTimeout):
			log.Warn("client %s write blocked past %v, disconnecting", r.RemoteAddr, s.writeTimeout)
			return // slow client: single write blocked past timeout
		}

		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, s.slot.MaxSize())
	n, _, ts, ok := s.slot.Snapshot(buf)
	if !ok {
		http.Error(w, "no frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", n))
	w.Header().Set("Last-Modified", ts.UTC().Format(http.TimeFormat))

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Write(buf[:n])
}
