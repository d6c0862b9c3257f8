package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context, host string) error
}

// HostLimiter spaces consecutive requests to the same host by at least the
// host's delay. Hosts are independent of each other.
type HostLimiter struct {
	mu           sync.Mutex
	defaultDelay time.Duration
	hosts        map[string]*hostState
}

type hostState struct {
	limiter *rate.Limiter
	delay   time.Duration
}

func NewHostLimiter(defaultDelay time.Duration) *HostLimiter {
	return &HostLimiter{
		defaultDelay: defaultDelay,
		hosts:        make(map[string]*hostState),
	}
}

func (h *HostLimiter) state(host string) *hostState {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.hosts[host]
	if !ok {
		st = &hostState{
			limiter: rate.NewLimiter(rate.Every(h.defaultDelay), 1),
			delay:   h.defaultDelay,
		}
		h.hosts[host] = st
	}
	return st
}

// Wait blocks until a request to host may be issued or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	return h.state(host).limiter.Wait(ctx)
}

// RaiseDelay increases the delay for host to d. Smaller values are ignored
// so a per-brand override or a robots Crawl-delay can only slow a host down.
func (h *HostLimiter) RaiseDelay(host string, d time.Duration) {
	st := h.state(host)

	h.mu.Lock()
	defer h.mu.Unlock()

	if d <= st.delay {
		return
	}
	st.delay = d
	st.limiter.SetLimit(rate.Every(d))
}

func (h *HostLimiter) Delay(host string) time.Duration {
	st := h.state(host)

	h.mu.Lock()
	defer h.mu.Unlock()
	return st.delay
}

// Backoff computes exponential retry delays.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter bool
}

func DefaultBackoff(base time.Duration) Backoff {
	return Backoff{
		Base:   base,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}
}

// Duration returns the delay before retry number attempt (1-based).
func (b Backoff) Duration(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}

	factor := b.Factor
	if factor < 1 {
		factor = 2
	}

	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= factor
		if b.Max > 0 && time.Duration(d) >= b.Max {
			d = float64(b.Max)
			break
		}
	}

	out := time.Duration(d)
	if b.Jitter && out > 0 {
		// up to +25%
		out += time.Duration(rand.Int63n(int64(out)/4 + 1))
	}
	if b.Max > 0 && out > b.Max {
		out = b.Max
	}
	return out
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
