package api

import (
	"net/http"
	"time"

	"vrpbench/internal/buildinfo"
)

// DebugJSON reports build info and the effective settings without secrets.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := len(s.running)
	s.mu.Unlock()
	cfg := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":             cfg.Server.Port,
			"RATE_RPS":         cfg.Server.RateRPS,
			"RATE_BURST":       cfg.Server.RateBurst,
			"VRPBENCH_WORKERS": cfg.Workers,
			"HAS_DATABASE_URL": cfg.Server.DatabaseURL != "",
			"HAS_SQLITE_PATH":  cfg.Server.SQLitePath != "",
			"HAS_REDIS_URL":    cfg.Server.RedisURL != "",
		},
		"store":              storeKind(s.Store),
		"runningExperiments": running,
		"planSize":           s.Base.Size(),
	})
}
