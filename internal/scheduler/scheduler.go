package scheduler

import (
	"context"
	"time"

	"log/slog"

	"tradebot/internal/logger"
)

// FixedDelay runs task, then waits Interval, then runs it again. The
// delay separates the end of one tick from the start of the next, so a
// slow tick never overlaps its successor (join before sleep).
type FixedDelay struct {
	Interval time.Duration

	ctx   context.Context
	log   *slog.Logger
	nowFn func() time.Time
}

func NewFixedDelay(ctx context.Context, interval time.Duration, log *slog.Logger) *FixedDelay {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &FixedDelay{Interval: interval, ctx: ctx, log: log, nowFn: time.Now}
}

func (s *FixedDelay) Start(task func()) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		s.log.Warn("scheduler: invalid interval, exit", "interval", s.Interval)
		return
	}
	startAt := s.nowFn().UTC()
	s.log.Info("scheduler: started", "interval", s.Interval, "at", startAt.Format(time.RFC3339))

	for {
		if s.ctx.Err() != nil {
			s.log.Info("scheduler: ctx done, exit")
			return
		}
		task()

		timer := time.NewTimer(s.Interval)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			s.log.Info("scheduler: ctx done, exit")
			return
		case <-timer.C:
		}
	}
}
