package seeder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/resulthub/common/logging"
	"github.com/telhawk-systems/resulthub/common/messaging"
)

// Config controls a seeding run.
type Config struct {
	Channel  string
	Sessions []string
	Count    int
	Interval time.Duration
	// HeartbeatEvery publishes an ECHO after every n events; 0 disables it.
	HeartbeatEvery int
}

// Stats summarizes a run.
type Stats struct {
	Events     int
	Heartbeats int
	Failed     int
}

// Runner handles the event seeding execution
type Runner struct {
	publisher messaging.Publisher
	cfg       Config
	logger    *logging.Logger
}

// NewRunner creates a new seeder runner. With no sessions configured it
// invents three.
func NewRunner(publisher messaging.Publisher, cfg Config, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Channel == "" {
		cfg.Channel = messaging.ChannelResults
	}
	if len(cfg.Sessions) == 0 {
		for i := 0; i < 3; i++ {
			cfg.Sessions = append(cfg.Sessions, gofakeit.UUID())
		}
	}
	return &Runner{publisher: publisher, cfg: cfg, logger: logger}
}

// Sessions returns the sessions events are spread across.
func (r *Runner) Sessions() []string {
	return r.cfg.Sessions
}

// Run publishes Count events, stopping early if ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	r.logger.Info("starting event seeder",
		logging.Channel(r.cfg.Channel),
		"count", r.cfg.Count,
		"sessions", r.cfg.Sessions,
		"interval", r.cfg.Interval.String(),
	)

	for i := 0; i < r.cfg.Count; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		session := r.cfg.Sessions[rand.Intn(len(r.cfg.Sessions))]
		if err := r.publish(ctx, GenerateEvent(session)); err != nil {
			if errors.Is(err, messaging.ErrClosed) {
				return stats, err
			}
			stats.Failed++
			r.logger.Warn("failed to publish event", logging.SessionID(session), logging.Error(err))
		} else {
			stats.Events++
		}

		if r.cfg.HeartbeatEvery > 0 && (i+1)%r.cfg.HeartbeatEvery == 0 {
			if err := r.publish(ctx, Heartbeat()); err == nil {
				stats.Heartbeats++
			}
		}

		if r.cfg.Interval > 0 && i < r.cfg.Count-1 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(r.cfg.Interval):
			}
		}
	}

	r.logger.Info("seeding complete", "events", stats.Events, "heartbeats", stats.Heartbeats, "failed", stats.Failed)
	return stats, nil
}

func (r *Runner) publish(ctx context.Context, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return r.publisher.Publish(ctx, r.cfg.Channel, data)
}
