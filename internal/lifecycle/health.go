package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// ErrShuttingDown is reported by the readiness probe once shutdown has begun.
var ErrShuttingDown = errors.New("service is shutting down")

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// ReadinessCheck reports whether dependencies are usable.
type ReadinessCheck interface {
	Ready(ctx context.Context) error
}

// Probes backs /healthz and /readyz. Readiness fails while draining so load
// balancers stop routing before the HTTP server closes.
type Probes struct {
	log      *slog.Logger
	deps     ReadinessCheck
	draining atomic.Bool
}

// NewProbes creates a new Probes instance. deps may be nil.
func NewProbes(deps ReadinessCheck, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{log: log, deps: deps}
}

// Liveness reports success while the process is able to serve requests.
func (p *Probes) Liveness(context.Context) error {
	return nil
}

func (p *Probes) Readiness(ctx context.Context) error {
	if p.draining.Load() {
		return ErrShuttingDown
	}
	if p.deps == nil {
		return nil
	}
	if err := p.deps.Ready(ctx); err != nil {
		p.log.Warn("readiness probe failed", slog.Any("error", err))
		return err
	}
	return nil
}

// Drain flips readiness to failing. Call it before running the shutdown hooks.
func (p *Probes) Drain(context.Context) error {
	p.draining.Store(true)
	return nil
}
