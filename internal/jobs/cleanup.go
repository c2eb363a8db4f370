package jobs

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/plex-auth-server/internal/metrics"
)

// PairingSweeper is implemented by cache.PairingCache.
type PairingSweeper interface {
	Sweep() int
	Len() int
}

// CleanupJob evicts expired pairings that nobody polled again.
type CleanupJob struct {
	pairings PairingSweeper
	metrics  metrics.Recorder
	interval time.Duration
	done     chan struct{}
}

func NewCleanupJob(pairings PairingSweeper, m metrics.Recorder, interval time.Duration) *CleanupJob {
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &CleanupJob{
		pairings: pairings,
		metrics:  m,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() int {
	count := j.pairings.Sweep()
	if count > 0 {
		log.Info().Int("count", count).Msg("cleaned up expired pairings")
	}
	j.metrics.SetPairingsInFlight(j.pairings.Len())
	return count
}
