package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultProbeInterval = 15 * time.Second

var (
	limiterChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_checks_total",
		Help: "Rate limit checks by backend and result.",
	}, []string{"backend", "result"})

	limiterPrimaryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_redis_errors_total",
		Help: "Redis errors seen by the rate limiter.",
	})

	limiterDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ratelimit_degraded",
		Help: "1 while checks are served by the in-memory fallback.",
	})
)

// AdaptiveLimiter serves checks from Redis and switches to the in-memory
// limiter, at half the limit, when Redis fails. While degraded it retries Redis
// at most once per probe interval.
type AdaptiveLimiter struct {
	primary  Limiter
	fallback Limiter
	log      *slog.Logger

	probeEvery time.Duration
	now        func() time.Time

	mu        sync.Mutex
	nextProbe time.Time
}

func NewAdaptiveLimiter(primary, fallback Limiter, log *slog.Logger) *AdaptiveLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &AdaptiveLimiter{
		primary:    primary,
		fallback:   fallback,
		log:        log,
		probeEvery: defaultProbeInterval,
		now:        time.Now,
	}
}

// Check returns ErrLimitExceeded together with the result when the key is over its limit.
func (a *AdaptiveLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if a.usePrimary() {
		result, err := a.primary.Check(ctx, key, limit, window)
		if err == nil {
			a.recovered(ctx)
			return observe("redis", result)
		}
		a.degrade(ctx, key, err)
	}

	result, err := a.fallback.Check(ctx, key, max(limit/2, 1), window)
	if err != nil {
		return result, err
	}
	return observe("memory", result)
}

// Degraded reports whether checks currently bypass Redis.
func (a *AdaptiveLimiter) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.nextProbe.IsZero()
}

func (a *AdaptiveLimiter) usePrimary() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextProbe.IsZero() || !a.now().Before(a.nextProbe)
}

func (a *AdaptiveLimiter) degrade(ctx context.Context, key string, err error) {
	limiterPrimaryFailures.Inc()

	a.mu.Lock()
	first := a.nextProbe.IsZero()
	a.nextProbe = a.now().Add(a.probeEvery)
	a.mu.Unlock()

	if first {
		limiterDegraded.Set(1)
		a.log.WarnContext(ctx, "redis limiter failed, using in-memory fallback", slog.String("key", key), slog.Any("error", err))
	}
}

func (a *AdaptiveLimiter) recovered(ctx context.Context) {
	a.mu.Lock()
	was := !a.nextProbe.IsZero()
	a.nextProbe = time.Time{}
	a.mu.Unlock()

	if was {
		limiterDegraded.Set(0)
		a.log.InfoContext(ctx, "redis limiter recovered")
	}
}

func observe(backend string, result *Result) (*Result, error) {
	if result.Allowed {
		limiterChecks.WithLabelValues(backend, "allowed").Inc()
		return result, nil
	}
	limiterChecks.WithLabelValues(backend, "rejected").Inc()
	return result, ErrLimitExceeded
}
