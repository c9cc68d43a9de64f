// Package rendergate bounds concurrent expensive headless operations.
package rendergate

import (
	"context"
	"fmt"
	"time"

	"github.com/snapfetch/snapfetch/internal/content"
)

// Kind distinguishes the independently budgeted operation classes.
type Kind string

// Gated operation kinds. JS rendering and PDF generation both drive the
// headless browser but draw from separate budgets.
const (
	KindJSRender Kind = "js_render"
	KindPDF      Kind = "pdf"
)

// Config sets per-kind capacities and the acquire wait window.
type Config struct {
	JSCapacity  int
	PDFCapacity int
	AcquireWait time.Duration
}

// Gate is a pair of counting semaphores, one per kind. The semaphores are
// process-wide by construction: build one Gate at startup and hand the same
// instance to every caller.
type Gate struct {
	limiters map[Kind]chan struct{}
	wait     time.Duration
}

// New builds a Gate with the configured capacities.
func New(cfg Config) (*Gate, error) {
	if cfg.JSCapacity <= 0 {
		return nil, fmt.Errorf("js capacity must be > 0")
	}
	if cfg.PDFCapacity <= 0 {
		return nil, fmt.Errorf("pdf capacity must be > 0")
	}
	if cfg.AcquireWait <= 0 {
		cfg.AcquireWait = 5 * time.Second
	}
	return &Gate{
		limiters: map[Kind]chan struct{}{
			KindJSRender: make(chan struct{}, cfg.JSCapacity),
			KindPDF:      make(chan struct{}, cfg.PDFCapacity),
		},
		wait: cfg.AcquireWait,
	}, nil
}

// Acquire obtains a permit for kind, blocking up to the configured wait
// window. It returns a release func that must be called on every exit path of
// the guarded operation. When no permit frees up in time it returns
// content.ErrCapacity so the caller can surface an overload rejection instead
// of queuing indefinitely.
func (g *Gate) Acquire(ctx context.Context, kind Kind) (func(), error) {
	limiter, ok := g.limiters[kind]
	if !ok {
		return nil, fmt.Errorf("unknown gate kind %q", kind)
	}

	timer := time.NewTimer(g.wait)
	defer timer.Stop()

	select {
	case limiter <- struct{}{}:
		return func() { <-limiter }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s permit: %w", kind, content.ErrCapacity)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s permit wait canceled: %w", kind, ctx.Err())
	}
}

// InUse reports the number of permits currently held for kind.
func (g *Gate) InUse(kind Kind) int {
	if limiter, ok := g.limiters[kind]; ok {
		return len(limiter)
	}
	return 0
}
