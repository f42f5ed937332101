// Package display provides the drawing surface the pipeline redraws after
// each processed frame.
package display

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultRefreshInterval paints at roughly 60 Hz.
const DefaultRefreshInterval = 16 * time.Millisecond

// Renderer draws one frame of the scene.
type Renderer interface {
	Draw(ctx context.Context) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context) error

// Draw calls f(ctx).
func (f RendererFunc) Draw(ctx context.Context) error {
	return f(ctx)
}

// Stats counts redraw activity.
type Stats struct {
	Requests uint64 `json:"requests"`
	Paints   uint64 `json:"paints"`
	Failures uint64 `json:"failures"`
}

// Option configures a Surface.
type Option func(*Surface)

// WithRefreshInterval sets the refresh clock period.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Surface) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the surface logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Surface) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Surface coalesces redraw requests: any number of RequestRedraw calls
// between two refresh ticks produce one paint.
type Surface struct {
	renderer Renderer
	interval time.Duration
	logger   *slog.Logger

	dirty    atomic.Bool
	requests atomic.Uint64
	paints   atomic.Uint64
	failures atomic.Uint64
}

// NewSurface creates a surface drawing through r.
func NewSurface(r Renderer, opts ...Option) *Surface {
	s := &Surface{
		renderer: r,
		interval: DefaultRefreshInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestRedraw marks the surface dirty. Safe from any goroutine; never blocks.
func (s *Surface) RequestRedraw() {
	s.requests.Add(1)
	s.dirty.Store(true)
}

// Dirty reports whether a paint is pending.
func (s *Surface) Dirty() bool {
	return s.dirty.Load()
}

// Tick paints once if a redraw was requested since the last paint. It
// reports whether it painted.
func (s *Surface) Tick(ctx context.Context) bool {
	if !s.dirty.Swap(false) {
		return false
	}
	if err := s.renderer.Draw(ctx); err != nil {
		s.failures.Add(1)
		s.logger.Warn("draw failed", "error", err)
		return false
	}
	s.paints.Add(1)
	return true
}

// Run drives Tick from the refresh clock until ctx is done.
func (s *Surface) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("display refresh loop started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stats returns redraw counters.
func (s *Surface) Stats() Stats {
	return Stats{
		Requests: s.requests.Load(),
		Paints:   s.paints.Load(),
		Failures: s.failures.Load(),
	}
}
