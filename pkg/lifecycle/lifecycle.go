// Package lifecycle runs a service's long-lived components and stops them in
// a fixed order.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type runner struct {
	name string
	fn   func(ctx context.Context) error
}

type stopper struct {
	name    string
	timeout time.Duration
	fn      func(ctx context.Context) error
}

// Group is a set of components started together. Run blocks until the parent
// context ends or any component fails, then stops everything.
type Group struct {
	logger   *slog.Logger
	runners  []runner
	stoppers []stopper
}

// New returns an empty group.
func New(logger *slog.Logger) *Group {
	return &Group{logger: logger}
}

// Go adds a component. fn must return once its context is canceled; a nil
// return before that is treated as a clean exit and does not stop the group.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.runners = append(g.runners, runner{name: name, fn: fn})
}

// OnStop adds a shutdown step with its own time budget. Steps run in the
// order they were added, each even if an earlier one failed.
func (g *Group) OnStop(name string, timeout time.Duration, fn func(ctx context.Context) error) {
	g.stoppers = append(g.stoppers, stopper{name: name, timeout: timeout, fn: fn})
}

// Run starts every component and returns the first component error joined
// with any shutdown errors.
func (g *Group) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	failed := make(chan error, len(g.runners))
	var wg sync.WaitGroup
	for _, r := range g.runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.logger.Info("starting component", slog.String("component", r.name))
			if err := r.fn(ctx); err != nil && ctx.Err() == nil {
				failed <- fmt.Errorf("%s: %w", r.name, err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
	case runErr = <-failed:
		g.logger.Error("component failed, shutting down", slog.String("error", runErr.Error()))
	}
	cancel()

	errs := []error{runErr}
	for _, s := range g.stoppers {
		if err := g.stop(s); err != nil {
			errs = append(errs, err)
		}
	}
	wg.Wait()
	g.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (g *Group) stop(s stopper) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.fn(ctx); err != nil {
		g.logger.Error("shutdown step failed", slog.String("component", s.name), slog.String("error", err.Error()))
		return fmt.Errorf("stop %s: %w", s.name, err)
	}
	return nil
}

// Closer adapts an io.Closer style Close method to OnStop.
func Closer(close func() error) func(context.Context) error {
	return func(context.Context) error { return close() }
}
