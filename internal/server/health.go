package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// pinger is implemented by stores backed by a remote service.
type pinger interface {
	Ping(ctx context.Context) error
}

const healthCheckTimeout = 3 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:        "ok",
		Version:       s.cfg.Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Checks:        make(map[string]string),
	}

	check := func(name string, err error) {
		if err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			return
		}
		resp.Checks[name] = "ok"
	}

	switch st := s.store.(type) {
	case nil:
		resp.Checks["results"] = "disabled"
	case pinger:
		check("results", st.Ping(ctx))
	default:
		check("results", nil)
	}

	if s.qdrant != nil {
		_, err := s.qdrant.HealthCheck(ctx)
		check("qdrant", err)
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
