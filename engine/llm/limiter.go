package llm

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// LimiterConfig bounds calls to one provider across all runs. Zero values
// disable the matching limit.
type LimiterConfig struct {
	Concurrency       int
	RequestsPerMinute int
	Burst             int
}

// LimiterMetrics is a snapshot of limiter counters.
type LimiterMetrics struct {
	ActiveRequests   int32
	QueuedRequests   int32
	RejectedRequests int64
	TotalRequests    int64
}

type limiterCounters struct {
	active   atomic.Int32
	queued   atomic.Int32
	rejected atomic.Int64
	total    atomic.Int64
}

// Limiter wraps an ImageGenerator with a concurrency semaphore and a request
// rate limiter shared by every caller.
type Limiter struct {
	next     ImageGenerator
	provider string
	sem      *semaphore.Weighted
	rate     *rate.Limiter
	counters limiterCounters
}

var _ ImageGenerator = (*Limiter)(nil)

func NewLimiter(next ImageGenerator, provider string, cfg LimiterConfig) *Limiter {
	l := &Limiter{next: next, provider: provider}
	if cfg.Concurrency > 0 {
		l.sem = semaphore.NewWeighted(int64(cfg.Concurrency))
	}
	if cfg.RequestsPerMinute > 0 {
		perSecond := float64(cfg.RequestsPerMinute) / 60.0
		l.rate = rate.NewLimiter(rate.Limit(perSecond), computeBurst(perSecond, cfg.Burst))
	}
	return l
}

func computeBurst(perSecond float64, configured int) int {
	if configured > 0 {
		return configured
	}
	if perSecond <= 0 {
		return 1
	}
	return int(math.Ceil(perSecond))
}

func (l *Limiter) Generate(ctx context.Context, req GenerateRequest) ([]byte, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Generate(ctx, req)
}

func (l *Limiter) Edit(ctx context.Context, req EditRequest) ([]byte, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Edit(ctx, req)
}

func (l *Limiter) acquire(ctx context.Context) (func(), error) {
	l.counters.total.Add(1)
	if l.sem != nil {
		if !l.sem.TryAcquire(1) {
			l.counters.queued.Add(1)
			err := l.sem.Acquire(ctx, 1)
			l.counters.queued.Add(-1)
			if err != nil {
				l.counters.rejected.Add(1)
				return nil, fmt.Errorf("%s limiter: wait for slot canceled: %w", l.provider, err)
			}
		}
	}
	l.counters.active.Add(1)
	release := func() {
		l.counters.active.Add(-1)
		if l.sem != nil {
			l.sem.Release(1)
		}
	}
	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			release()
			l.counters.rejected.Add(1)
			return nil, fmt.Errorf("%s limiter: request rate wait canceled: %w", l.provider, err)
		}
	}
	return release, nil
}

func (l *Limiter) Metrics() LimiterMetrics {
	return LimiterMetrics{
		ActiveRequests:   l.counters.active.Load(),
		QueuedRequests:   l.counters.queued.Load(),
		RejectedRequests: l.counters.rejected.Load(),
		TotalRequests:    l.counters.total.Load(),
	}
}
