package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/DoyleJ11/series-draft/internal/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Target is what the sweeper drives; the hub implements it.
type Target interface {
	Sweep()
	AbandonStale(ctx context.Context, cutoff time.Time) (int, error)
	Now() time.Time
}

type Config struct {
	// Interval between timeout sweeps over running lobbies.
	Interval time.Duration
	// LobbyTTL is how long a session may sit in the lobby before it is
	// cancelled. Zero disables the cleanup.
	LobbyTTL time.Duration
	// CleanupSpec is the cron schedule of the cleanup, "@hourly" by default.
	CleanupSpec string
}

type Sweeper struct {
	cron   *cron.Cron
	target Target
	cfg    Config
	logger *zap.SugaredLogger
}

func New(ctx context.Context, target Target, cfg Config) (*Sweeper, error) {
	if cfg.CleanupSpec == "" {
		cfg.CleanupSpec = "@hourly"
	}
	s := &Sweeper{
		cron:   cron.New(),
		target: target,
		cfg:    cfg,
		logger: logging.FromContext(ctx).Named("sweeper"),
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", cfg.Interval), target.Sweep); err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	if cfg.LobbyTTL > 0 {
		if _, err := s.cron.AddFunc(cfg.CleanupSpec, func() { s.Cleanup(ctx) }); err != nil {
			return nil, fmt.Errorf("schedule cleanup: %w", err)
		}
	}
	return s, nil
}

// Cleanup cancels lobbies older than LobbyTTL that never started.
func (s *Sweeper) Cleanup(ctx context.Context) {
	cutoff := s.target.Now().Add(-s.cfg.LobbyTTL)
	n, err := s.target.AbandonStale(ctx, cutoff)
	if err != nil {
		s.logger.Errorw("abandoning stale lobbies failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Infow("abandoned stale lobbies", "count", n, "cutoff", cutoff)
	}
}

// Run starts the schedule and blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
