package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/plex-auth-server/internal/errors"
)

const keepAliveTimeout = 30 * time.Second

// CredentialRefresher is implemented by service.OAuthService.
type CredentialRefresher interface {
	RefreshStored(ctx context.Context, maxAge time.Duration) (bool, error)
}

// KeepAliveJob pings the provider with the stored token once it has not been
// validated for maxAge.
type KeepAliveJob struct {
	refresher CredentialRefresher
	interval  time.Duration
	maxAge    time.Duration
	done      chan struct{}
}

func NewKeepAliveJob(refresher CredentialRefresher, interval, maxAge time.Duration) *KeepAliveJob {
	return &KeepAliveJob{
		refresher: refresher,
		interval:  interval,
		maxAge:    maxAge,
		done:      make(chan struct{}),
	}
}

func (j *KeepAliveJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("maxAge", j.maxAge).Msg("keepalive job started")
}

func (j *KeepAliveJob) Stop() {
	close(j.done)
	log.Info().Msg("keepalive job stopped")
}

func (j *KeepAliveJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.refresh()
		}
	}
}

func (j *KeepAliveJob) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), keepAliveTimeout)
	defer cancel()

	refreshed, err := j.refresher.RefreshStored(ctx, j.maxAge)
	switch {
	case apperrors.HasCode(err, apperrors.ErrCodeTokenExpired), apperrors.HasCode(err, apperrors.ErrCodeInvalidToken):
		log.Warn().Err(err).Msg("stored plex token is no longer valid, re-authentication required")
	case err != nil:
		log.Error().Err(err).Msg("failed to refresh plex credential")
	case refreshed:
		log.Info().Msg("plex credential refreshed")
	}
}
