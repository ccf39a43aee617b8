// SPDX-License-Identifier: Apache-2.0

// Package sweeper runs the periodic pass that flips past-due assignments to
// OVERDUE. A single instance is enough; the guarded update in the store makes
// concurrent sweeps and sweep-vs-approval races safe.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval matches the cadence approvers can tolerate between an
// assignment going past due and it being flagged.
const DefaultInterval = 5 * time.Minute

type OverdueSweeper interface {
	SweepOverdue(ctx context.Context) (int, error)
}

type Deps struct {
	Manager  OverdueSweeper
	Logger   *slog.Logger
	Interval time.Duration
}

type Sweeper struct {
	manager  OverdueSweeper
	logger   *slog.Logger
	interval time.Duration
}

func New(deps Deps) *Sweeper {
	if deps.Manager == nil {
		panic("sweeper.New requires a manager")
	}

	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Sweeper{
		manager:  deps.Manager,
		logger:   l,
		interval: interval,
	}
}

// ProcessOnce runs a single sweep pass.
func (s *Sweeper) ProcessOnce(ctx context.Context) error {
	marked, err := s.manager.SweepOverdue(ctx)
	if err != nil {
		s.logger.Error("overdue sweep failed", "error", err)
		return err
	}

	if marked > 0 {
		s.logger.Info("overdue sweep completed", "marked", marked)
	} else {
		s.logger.Debug("overdue sweep completed", "marked", 0)
	}

	return nil
}

// Run sweeps immediately, then on every tick until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	_ = s.ProcessOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = s.ProcessOnce(ctx)
		}
	}
}
