package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	ImplLoop  string `json:"impl_thread"`
	Trace     string `json:"trace"`
	Metrics   string `json:"metrics"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	resp := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		ImplLoop:  "running",
		Trace:     "disabled",
		Metrics:   "disabled",
	}
	if _, err := s.controls.Status(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.ImplLoop = "stopped"
	}
	if s.store != nil {
		resp.Trace = "enabled"
	}
	if s.metrics != nil {
		resp.Metrics = "enabled"
	}
	respondOK(w, reqID, resp)
}
