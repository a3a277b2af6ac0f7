package hitl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Sweeper drives CheckTimeouts on a cron schedule. The default schedule
// runs every minute, the granularity the auto-proceed contract needs.
type Sweeper struct {
	manager  *Manager
	schedule string
	logger   *slog.Logger
}

func NewSweeper(manager *Manager, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = "* * * * *"
	}
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid sweep schedule %q", schedule)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{manager: manager, schedule: schedule, logger: logger}, nil
}

// Run blocks until ctx is cancelled, firing a sweep at each scheduled tick.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		next, err := gronx.NextTick(s.schedule, false)
		if err != nil {
			s.logger.Error("sweep schedule evaluation failed", "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		count, err := s.manager.CheckTimeouts(ctx, time.Now().UTC())
		if err != nil {
			s.logger.Error("hitl timeout sweep failed", "error", err)
			continue
		}
		if count > 0 {
			s.logger.Info("hitl timeout sweep", "processed", count)
		}
	}
}
