package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/plex-auth-server/internal/config"
)

// Pinger is satisfied by *database.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthChecker is satisfied by *redis.Client.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

type HealthHandler struct {
	db    Pinger
	redis HealthChecker
}

// NewHealthHandler builds the /health handler. redis may be nil when the
// process runs with in-memory rate limiting.
func NewHealthHandler(db Pinger, redis HealthChecker) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	}

	if err := h.db.PingContext(ctx); err != nil {
		log.Error().Err(err).Msg("health check: database unreachable")
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["database"] = "down"
	}

	if h.redis != nil && !h.redis.Healthy(ctx) {
		log.Error().Msg("health check: redis unreachable")
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["redis"] = "down"
	}

	writeJSON(w, status, body)
}
