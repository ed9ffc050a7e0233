// Package cron runs recurring jobs on cron expressions.
package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
)

// Job is invoked with the scheduled fire time.
type Job func(ctx context.Context, at time.Time) error

// Scheduler fires a single job on a cron expression until its context ends.
// Runs never overlap: the next tick is computed after the job returns.
type Scheduler struct {
	name  string
	expr  string
	job   Job
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

type Option func(*Scheduler)

// WithClock replaces the wall clock and timer source.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
		if after != nil {
			s.after = after
		}
	}
}

// ValidateExpr reports whether expr is a cron expression gronx accepts.
func ValidateExpr(expr string) error {
	expr = strings.TrimSpace(expr)
	g := gronx.New()
	if expr == "" || !g.IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

func New(name, expr string, job Job, opts ...Option) (*Scheduler, error) {
	if err := ValidateExpr(expr); err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("cron job %s has no handler", name)
	}
	s := &Scheduler{
		name:  name,
		expr:  strings.TrimSpace(expr),
		job:   job,
		now:   time.Now,
		after: time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next returns the first fire time strictly after ref.
func (s *Scheduler) Next(ref time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(s.expr, ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("next tick for %q: %w", s.expr, err)
	}
	return next, nil
}

// Run blocks until ctx is done. Job errors are logged and do not stop
// the schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.InfoCF("cron", "Scheduler started", map[string]interface{}{
		"job":      s.name,
		"schedule": s.expr,
	})
	defer logger.InfoCF("cron", "Scheduler stopped", map[string]interface{}{"job": s.name})

	ref := s.now()
	for {
		next, err := s.Next(ref)
		if err != nil {
			return err
		}
		delay := next.Sub(s.now())
		if delay < 0 {
			delay = 0
		}
		logger.DebugCF("cron", "Next run scheduled", map[string]interface{}{
			"job":  s.name,
			"next": next.Format(time.RFC3339),
		})

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(delay):
		}
		if ctx.Err() != nil {
			return nil
		}

		started := s.now()
		if err := s.job(ctx, next); err != nil {
			logger.ErrorCF("cron", "Job failed", map[string]interface{}{
				"job":   s.name,
				"error": err.Error(),
			})
		} else {
			logger.InfoCF("cron", "Job finished", map[string]interface{}{
				"job":         s.name,
				"duration_ms": s.now().Sub(started).Milliseconds(),
			})
		}
		ref = next
	}
}
