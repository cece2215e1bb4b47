package api

import (
	"context"
	"net/http"
	"time"
)

type ReadyResponse struct {
	Ready    bool   `json:"ready"`
	Database string `json:"database"`
	Breaker  string `json:"breaker"`
	Cache    string `json:"cache"`
	Events   string `json:"events"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports on the database and, when configured, Redis and NATS. Only
// the database decides readiness; the others degrade gracefully.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := ReadyResponse{
		Ready:    true,
		Database: "up",
		Breaker:  s.db.BreakerState(),
		Cache:    "unavailable",
		Events:   "unavailable",
	}
	check := func(name string, ping func(context.Context) error) string {
		pctx, pcancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer pcancel()
		if err := ping(pctx); err != nil {
			s.log.Error().Err(err).Str("dependency", name).Msg("health check failed")
			return "down"
		}
		return "up"
	}
	if resp.Database = check("database", s.db.Ping); resp.Database != "up" {
		resp.Ready = false
	}
	if s.rdb != nil {
		resp.Cache = check("redis", s.rdb.Ping)
	}
	if s.pinger != nil {
		resp.Events = check("nats", s.pinger.Ping)
	}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
