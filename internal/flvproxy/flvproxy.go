// Package flvproxy implements the FLV Proxy (§4.F): when enabled, GET /flv
// streams an upstream FLV URL's body verbatim instead of muxing locally.
// The upstream announcement expires after 60 s without a refresh.
package flvproxy

import (
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"camerad/internal/logger"
)

var log = logger.WithComponent("FLVPROXY")

const announcementTTL = 60 * time.Second

// Proxy holds the current upstream FLV URL announcement and proxies /flv
// requests to it while active.
type Proxy struct {
	client *http.Client

	mu          sync.RWMutex
	upstreamURL string
	announcedAt time.Time

	clients atomic.Int64
}

// New creates a Proxy with a default HTTP client (no response timeout: the
// upstream connection is expected to stream indefinitely).
func New() *Proxy {
	return &Proxy{client: &http.Client{}}
}

// Announce records (or refreshes) the upstream FLV URL to proxy.
func (p *Proxy) Announce(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upstreamURL = url
	p.announcedAt = time.Now()
	log.Info("upstream announced: %s", url)
}

// Status reports the currently active upstream URL and whether the
// announcement is still within its 60 s TTL.
func (p *Proxy) Status() (url string, active bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.upstreamURL == "" {
		return "", false
	}
	if time.Since(p.announcedAt) > announcementTTL {
		return p.upstreamURL, false
	}
	return p.upstreamURL, true
}

// Clients returns the current number of active proxy client connections.
func (p *Proxy) Clients() int { return int(p.clients.Load()) }

// ExpireStale discards the announcement if it has outlived its TTL. Nothing
// in the daemon calls it; Status and the /flv handler already treat an
// announcement past its TTL as inactive.
func (p *Proxy) ExpireStale() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.upstreamURL != "" && time.Since(p.announcedAt) > announcementTTL {
		p.upstreamURL = ""
	}
}

// Handler proxies GET /flv to the announced upstream URL, streaming the
// response body verbatim. Responds 503 if no active announcement exists.
func (p *Proxy) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/flv", p.handleFLV)
	return mux
}

func (p *Proxy) handleFLV(w http.ResponseWriter, r *http.Request) {
	url, active := p.Status()
	if !active {
		http.Error(w, "no upstream FLV source announced", http.StatusServiceUnavailable)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		http.Error(w, "bad upstream url", http.StatusBadGateway)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		log.Warn("upstream %s unreachable: %v", url, err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	p.clients.Add(1)
	defer p.clients.Add(-1)

	w.Header().Set("Content-Type", "video/x-flv")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, resp.Body)
}
