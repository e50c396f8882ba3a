package fireconn

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is the outcome of a health probe.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Result is the structured outcome of a single health probe. Failure is a
// field of the value, never a returned error.
type Result struct {
	Status      Status    `json:"status"`
	ProjectID   string    `json:"project_id,omitempty"`
	Collections int       `json:"collections_count"`
	Reinits     int       `json:"reinits"`
	Error       string    `json:"error,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Healthy reports whether the probe succeeded.
func (r Result) Healthy() bool {
	return r.Status == StatusHealthy
}

// HealthCheck probes the connection by enumerating top-level collections
// through Handle (triggering the single self-heal if the handle is absent).
// It never returns an error: every failure is captured in the Result.
func (m *Manager) HealthCheck(ctx context.Context) Result {
	client, err := m.Handle(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Firestore health check failed")
		return Result{
			Status:    StatusUnhealthy,
			Error:     err.Error(),
			Reinits:   m.Reinits(),
			CheckedAt: time.Now().UTC(),
		}
	}

	count, err := m.deps.listCollections(ctx, client)
	if err != nil {
		log.Error().Err(err).Msg("Firestore health check failed")
		return Result{
			Status:    StatusUnhealthy,
			Error:     err.Error(),
			Reinits:   m.Reinits(),
			CheckedAt: time.Now().UTC(),
		}
	}

	return Result{
		Status:      StatusHealthy,
		ProjectID:   m.cfg.ProjectID,
		Collections: count,
		Reinits:     m.Reinits(),
		CheckedAt:   time.Now().UTC(),
	}
}
