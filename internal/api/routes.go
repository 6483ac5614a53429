package api

import (
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/sunbk201/clickrelay/internal/relay"
	"github.com/sunbk201/clickrelay/internal/statistics"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = sonic.ConfigStd.NewEncoder(w).Encode(v)
}

func (s *APIServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"version":        s.version,
		"client_version": relay.ClientVersion,
		"api_version":    relay.APIVersion,
	})
}

func (s *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cfg)
}

type statsResponse struct {
	Resolves       []statistics.ResolveRecord `json:"resolves"`
	Sessions       int                        `json:"sessions"`
	LogSubscribers int                        `json:"log_subscribers"`
	LogDropped     uint64                     `json:"log_dropped"`
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Resolves: []statistics.ResolveRecord{},
		Sessions: s.sessionCount(),
	}
	if s.recorder != nil {
		resp.Resolves = s.recorder.Resolves.Snapshot()
	}
	if s.logBroadcaster != nil {
		resp.LogSubscribers = s.logBroadcaster.Subscribers()
		resp.LogDropped = s.logBroadcaster.Dropped()
	}
	writeJSON(w, resp)
}

func (s *APIServer) sessionCount() int {
	if s.landing == nil || s.landing.Sessions() == nil {
		return 0
	}
	return s.landing.Sessions().Store().Len()
}

func (s *APIServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"enabled":     s.cfg.Session.Enabled,
		"cookie_name": s.cfg.Session.CookieName,
		"idle_ttl":    s.cfg.Session.IdleTTL,
		"active":      s.sessionCount(),
	})
}
