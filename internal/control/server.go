// Package control implements the Control HTTP Server (§4.J): an HTTP server
// exposing settings HTML, JSON endpoints for live
// statistics/configuration/camera lifecycle/time-lapse browsing, and a
// periodic supervisor tick (2s CPU sample, 30s network/IP change). Requests
// are served by net/http on one goroutine per connection; they are not
// serialized against each other.
package control

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"camerad/internal/camera"
	"camerad/internal/config"
	"camerad/internal/cpubudget"
	"camerad/internal/faultdetect"
	"camerad/internal/flvproxy"
	"camerad/internal/logger"
	"camerad/internal/stats"
	"camerad/internal/supervisor"
	"camerad/internal/timelapse"
)

var log = logger.WithComponent("CONTROL")

// ClientCounter reports the number of currently connected streaming
// clients, implemented by internal/mjpegsrv.Server and internal/flvsrv.Server.
type ClientCounter interface {
	Clients() int
}

// Dependencies are the cross-component seams the server needs. Touch
// injection and LED/buzzer broker interaction are out-of-scope external
// collaborators per §1; callers wire a real implementation or leave the
// field nil, in which case the endpoint reports 503.
type Dependencies struct {
	Config      *config.Manager
	Cameras     *camera.Scanner
	Supervisor  *supervisor.Supervisor
	Recorder    *timelapse.Recorder
	FaultEngine *faultdetect.Engine
	CPUBudget   *cpubudget.Controller
	FLVProxy    *flvproxy.Proxy

	Stats *stats.Collector
	Logs  *stats.LogBuffer

	MJPEG ClientCounter
	FLV   ClientCounter

	// InjectTouch delivers a touch event (x, y, duration_ms) to the printer
	// touchscreen. Out-of-scope external collaborator; nil means unsupported.
	InjectTouch func(x, y, durationMs int) error
	// SetLED drives the status LED via the MQTT broker. Out-of-scope
	// external collaborator; nil means unsupported.
	SetLED func(on bool) error
	// Restart is invoked by GET /api/restart.
	Restart func()
	// PushMoonraker re-provisions the upstream moonraker camera URLs. It is
	// called when the 30s tick sees the interface IPs change (the first tick
	// only records them) and after every POST /api/moonraker/cameras.
	PushMoonraker func(interfaces []string)

	// USBMountPrefix bounds the time-lapse browse/mkdir filesystem surface
	// (§4.J security rule).
	USBMountPrefix string
	// InternalDir is the time-lapse output directory when storage=internal.
	InternalDir string

	ModelManifestPath string
}

// Server owns the HTTP mux, the websocket Hub, and the periodic tick
// goroutines. Each connection is served on its own net/http goroutine, so
// requests from different clients can run concurrently.
type Server struct {
	deps      Dependencies
	startTime time.Time

	hub *Hub

	mu              sync.Mutex
	moonrakerCams   map[int]string
	lastIPs         []string
	recoveryRunning bool

	srv *http.Server
}

// New builds a Server and registers every route of §6.2.
func New(deps Dependencies) *Server {
	s := &Server{
		deps:          deps,
		startTime:     time.Now(),
		hub:           newHub(),
		moonrakerCams: make(map[int]string),
	}

	mux := http.NewServeMux()
	s.registerCoreRoutes(mux)
	s.registerCameraRoutes(mux)
	s.registerControlRoutes(mux)
	s.registerTimelapseRoutes(mux)
	s.registerNetworkRoutes(mux)
	s.registerFaultDetectRoutes(mux)
	mux.HandleFunc("/ws", s.hub.handleConnection)

	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe starts the HTTP server on addr (":<control_port>").
func (s *Server) ListenAndServe(addr string) error {
	s.srv.Addr = addr
	go s.hub.run()
	err := s.srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control: listen %s: %w", addr, err)
	}
	return nil
}

// Shutdown stops the HTTP server and the websocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.stop()
	return s.srv.Shutdown(ctx)
}

func (s *Server) uptime() time.Duration { return time.Since(s.startTime) }

// RunTicks drives the 2s CPU-sample and 30s network/IP-change supervisor
// tasks of §4.J until stop is closed.
func (s *Server) RunTicks(stop <-chan struct{}) {
	cpuTick := time.NewTicker(2 * time.Second)
	netTick := time.NewTicker(30 * time.Second)
	defer cpuTick.Stop()
	defer netTick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-cpuTick.C:
			s.sampleCPU()
		case <-netTick.C:
			s.checkNetworkChange()
		}
	}
}

func (s *Server) sampleCPU() {
	if s.deps.CPUBudget == nil {
		return
	}
	total, self, _ := s.deps.CPUBudget.Tick()

	dp := stats.DataPoint{
		CPUTotal:  total,
		CPUSelf:   self,
		SkipRatio: s.deps.CPUBudget.EffectiveRatio(),
	}
	if s.deps.MJPEG != nil {
		dp.MJPEGClients = s.deps.MJPEG.Clients()
	}
	if s.deps.FLV != nil {
		dp.FLVClients = s.deps.FLV.Clients()
	}
	if s.deps.FaultEngine != nil {
		if res := s.deps.FaultEngine.Result(); res != nil {
			dp.FaultVerdict = string(res.Verdict)
			dp.FaultConfidence = res.Confidence
		}
	}
	if s.deps.Stats != nil {
		s.deps.Stats.Record(dp)
	}
	s.hub.broadcast("stats", dp)
}

func (s *Server) checkNetworkChange() {
	ips := interfaceIPs()

	s.mu.Lock()
	first := s.lastIPs == nil
	changed := !equalStrings(s.lastIPs, ips)
	s.lastIPs = ips
	s.mu.Unlock()

	if !changed || first {
		return
	}
	log.Info("network interfaces changed: %v", ips)
	if s.deps.PushMoonraker != nil {
		s.deps.PushMoonraker(ips)
	}
	s.hub.broadcast("network", map[string]any{"interfaces": ips})
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
