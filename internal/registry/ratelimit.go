package registry

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimitedTransport rate-limits outbound registry requests per target
// host, so one slow/over-quota host can't starve the budget meant for
// another. Adapted from promoter/image/ratelimit's BudgetAllocator/
// RoundTripper pair: that package partitions one global budget across
// named allocations and dynamically rebalances it; a build only ever
// talks to as many hosts as it has configured registries, known up
// front, so a simpler per-host limiter (one bucket per host, created
// lazily, not rebalanced) covers the same "don't trip the registry's
// QPS limit" need without the allocator's rebalancing machinery.
type hostLimitedTransport struct {
	next  http.RoundTripper
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// newHostLimitedTransport wraps next with a per-host token bucket of
// eventsPerSecond (burst tokens), created lazily per host on first use.
func newHostLimitedTransport(next http.RoundTripper, eventsPerSecond float64, burst int) *hostLimitedTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &hostLimitedTransport{
		next:     next,
		limit:    rate.Limit(eventsPerSecond),
		burst:    burst,
		limiters: map[string]*rate.Limiter{},
	}
}

func (t *hostLimitedTransport) limiterFor(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[host]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[host] = l
	}
	return l
}

func (t *hostLimitedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.limiterFor(r.URL.Host).Wait(r.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(r)
}

// Option configures New.
type Option func(*ggcrClient)

// WithRateLimit bounds registry lookup/push/delete QPS to
// eventsPerSecond per registry host, with up to burst requests allowed
// through immediately. A zero eventsPerSecond disables the option
// (unlimited), matching rate.Inf semantics for a budget the caller
// chose not to set.
func WithRateLimit(eventsPerSecond float64, burst int) Option {
	return func(c *ggcrClient) {
		if eventsPerSecond <= 0 {
			return
		}
		c.transport = newHostLimitedTransport(c.transport, eventsPerSecond, burst)
	}
}
