// Package sweep runs the proposal expiry sweep on a cron schedule.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Expirer resolves proposals whose voting window closed before now.
type Expirer interface {
	ExpireProposals(ctx context.Context, now time.Time) (int, error)
}

// Scheduler triggers the sweep on a schedule. Overlapping runs are skipped.
type Scheduler struct {
	exp     Expirer
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration

	cron *cron.Cron
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time passed to the sweep.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTimeout bounds a single sweep run.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New parses spec (standard five-field cron or a descriptor such as
// "@every 1m") and returns a stopped scheduler.
func New(exp Expirer, spec string, log *zap.Logger, opts ...Option) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		exp:     exp,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		timeout: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	cl := cronLogger{log.Sugar()}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("sweep: schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single sweep and returns the number of proposals resolved.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	now := s.now()
	start := time.Now()
	n, err := s.exp.ExpireProposals(ctx, now)

	fields := []zap.Field{
		zap.Int("resolved", n),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		s.log.Error("expiry sweep failed", append(fields, zap.Error(err))...)
	} else if n > 0 {
		s.log.Info("expiry sweep", fields...)
	}
	return n, err
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ l *zap.SugaredLogger }

func (c cronLogger) Info(msg string, kv ...interface{}) { c.l.Debugw(msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Errorw(msg, append(kv, "error", err)...)
}
