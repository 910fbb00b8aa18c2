package control

import (
	"encoding/json"
	"net/http"

	"camerad/internal/netinfo"
)

func (s *Server) registerNetworkRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/network/interfaces", s.handleNetworkInterfaces)
	mux.HandleFunc("GET /api/moonraker/cameras", s.handleMoonrakerCamerasGet)
	mux.HandleFunc("POST /api/moonraker/cameras", s.handleMoonrakerCamerasSet)
	mux.HandleFunc("POST /api/acproxycam/flv", s.handleFLVAnnounce)
	mux.HandleFunc("GET /api/acproxycam/flv", s.handleFLVStatus)
}

// interfaceIPs flattens netinfo.List() into the plain string slice the 30s
// network-change tick compares between runs.
func interfaceIPs() []string {
	var ips []string
	for _, iface := range netinfo.List() {
		if iface.IsLoopback || !iface.IsUp {
			continue
		}
		ips = append(ips, iface.IPs...)
	}
	return ips
}

func (s *Server) handleNetworkInterfaces(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(netinfo.List())
}

func (s *Server) handleMoonrakerCamerasGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cams := make(map[int]string, len(s.moonrakerCams))
	for k, v := range s.moonrakerCams {
		cams[k] = v
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cams)
}

type moonrakerCameraRequest struct {
	CameraID int    `json:"camera_id"`
	URL      string `json:"url"`
}

func (s *Server) handleMoonrakerCamerasSet(w http.ResponseWriter, r *http.Request) {
	var req moonrakerCameraRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.moonrakerCams[req.CameraID] = req.URL
	s.mu.Unlock()

	if s.deps.PushMoonraker != nil {
		s.deps.PushMoonraker(interfaceIPs())
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFLVAnnounce(w http.ResponseWriter, r *http.Request) {
	if s.deps.FLVProxy == nil {
		jsonError(w, "flv proxy unsupported", http.StatusServiceUnavailable)
		return
	}
	url := r.FormValue("url")
	if url == "" {
		var body struct {
			URL string `json:"url"`
		}
		if err := decodeBody(r, &body); err == nil {
			url = body.URL
		}
	}
	if url == "" {
		jsonError(w, "url is required", http.StatusBadRequest)
		return
	}
	s.deps.FLVProxy.Announce(url)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFLVStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.FLVProxy == nil {
		jsonError(w, "flv proxy unsupported", http.StatusServiceUnavailable)
		return
	}
	url, active := s.deps.FLVProxy.Status()
	resp := map[string]any{
		"url":     url,
		"active":  active,
		"clients": s.deps.FLVProxy.Clients(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
