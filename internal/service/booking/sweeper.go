package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/kolevas/tutoring-app/internal/store"
)

// Sweeper moves lapsed sessions to expired. It is synchronous; Run only
// exists for callers that want a periodic pass on top of the read-time one.
type Sweeper struct {
	store store.Store
	now   func() time.Time
	loc   *time.Location
	log   *slog.Logger
}

func NewSweeper(st store.Store, now func() time.Time, loc *time.Location, logger *slog.Logger) *Sweeper {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: st, now: now, loc: loc, log: logger.With(slog.String("component", "booking.sweeper"))}
}

// Sweep expires every active session that ended before now.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.SweepExpired(ctx, s.now(), s.loc)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.log.Info("sessions expired", slog.Int("count", n))
	}
	return n, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.log.Info("periodic sweep started", slog.Duration("interval", interval))
	s.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			s.log.Info("periodic sweep stopped")
			return
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("sweep failed", slog.Any("err", err))
	}
}
