package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/beamchat/link-server-go/internal/model"
)

const sweepBatchSize = 100

// ExpiryQueue drains pairing session ids whose TTL has lapsed. Each id is
// handed out exactly once across all server processes.
type ExpiryQueue interface {
	PopDueExpiries(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Expirer runs the consume path for one lapsed session.
type Expirer interface {
	ConsumeAndExpire(ctx context.Context, sessionID string, reason model.ExpiryReason) error
}

// ExpirySweeper delivers the courtesy "this QR went stale" push. Redis
// drops expired keys silently, so correctness never depends on this job;
// it only improves what the initiator sees when the push channel is up.
type ExpirySweeper struct {
	queue    ExpiryQueue
	expirer  Expirer
	interval time.Duration
	done     chan struct{}
}

func NewExpirySweeper(queue ExpiryQueue, expirer Expirer, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		queue:    queue,
		expirer:  expirer,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *ExpirySweeper) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("expiry sweeper started")
}

func (j *ExpirySweeper) Stop() {
	close(j.done)
	log.Info().Msg("expiry sweeper stopped")
}

func (j *ExpirySweeper) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *ExpirySweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	due, err := j.queue.PopDueExpiries(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to pop due expiries")
		return
	}

	for _, sessionID := range due {
		if err := j.expirer.ConsumeAndExpire(ctx, sessionID, model.ExpiryReasonTTL); err != nil {
			log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to expire pairing session")
		}
	}

	if len(due) > 0 {
		log.Info().Int("count", len(due)).Msg("swept expired pairing sessions")
	}
}
