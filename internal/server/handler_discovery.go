package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "ccsched debug API",
		Version:     "v1",
		Description: "Compositor frame scheduler: live state, debug commands and recorded action traces",
		Endpoints: []endpointInfo{
			{"/api/v1/state", []string{"GET"}, "Scheduler snapshot with frame rate and compositor counters"},
			{"/api/v1/commands", []string{"GET"}, "List debug commands"},
			{"/api/v1/commands/{command}", []string{"POST"}, "Apply a debug command on the impl thread, returns the new state"},
			{"/api/v1/trace/sessions", []string{"GET"}, "Recorded runs, newest first. Supports ?limit and ?offset"},
			{"/api/v1/trace/sessions/{id}", []string{"GET"}, "Single run with per-action counts"},
			{"/api/v1/trace/actions", []string{"GET"}, "Dispatched actions. Filters: ?session_id, ?action, ?limit, ?offset"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
			{"/metrics", []string{"GET"}, "Prometheus metrics"},
		},
	})
}
