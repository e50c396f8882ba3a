package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/aatn/firegate/internal/config"
	"github.com/aatn/firegate/internal/history"
)

const defaultHistoryLimit = 50

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealthz runs a live probe against Firestore
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.GetTimeouts().HealthProbe)
	defer cancel()

	res := s.checker.HealthCheck(ctx)

	status := http.StatusOK
	if !res.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// handleLast returns the monitor's cached most recent probe result
func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "health monitor not running")
		return
	}

	last := s.monitor.Last()
	if last == nil {
		writeError(w, http.StatusNotFound, "no health probe completed yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// handleHistory returns recent persisted probe results
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "health history not configured")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	checks, err := s.store.RecentChecks(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load health history")
		writeError(w, http.StatusInternalServerError, "failed to load health history")
		return
	}
	if checks == nil {
		checks = []history.Check{}
	}
	writeJSON(w, http.StatusOK, checks)
}
