// Package security guards the public listener: per-address admission
// limits for channel connections.
package security

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type addrLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-address token bucket for connection attempts.
// Idle entries are evicted in the background.
type RateLimiter struct {
	mu         sync.Mutex
	addrs      map[string]*addrLimiter
	r          rate.Limit
	burst      int
	ttl        time.Duration
	maxEntries int
	cancel     context.CancelFunc
}

// PerMinute converts an attempts-per-minute budget to a limit and burst.
func PerMinute(n int) (rate.Limit, int) {
	if n <= 0 {
		return rate.Inf, 0
	}
	return rate.Every(time.Minute / time.Duration(n)), n
}

// NewRateLimiter creates a limiter allowing r attempts per second per
// address, with the given burst.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &RateLimiter{
		addrs:      make(map[string]*addrLimiter),
		r:          r,
		burst:      burst,
		ttl:        10 * time.Minute,
		maxEntries: 10000,
		cancel:     cancel,
	}
	go rl.evict(ctx)
	return rl
}

// Allow reports whether addr may attempt another connection now.
// New addresses are refused once maxEntries are tracked.
func (rl *RateLimiter) Allow(addr string) bool {
	rl.mu.Lock()
	entry, ok := rl.addrs[addr]
	if !ok {
		if len(rl.addrs) >= rl.maxEntries {
			rl.mu.Unlock()
			return false
		}
		entry = &addrLimiter{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.addrs[addr] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Tracked returns the number of addresses currently held.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.addrs)
}

// UpdateRate applies a new rate. Existing buckets are reset.
func (rl *RateLimiter) UpdateRate(r rate.Limit, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.r = r
	rl.burst = burst
	rl.addrs = make(map[string]*addrLimiter)
}

// Stop ends background eviction.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) evict(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep(time.Now())
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for addr, entry := range rl.addrs {
		if now.Sub(entry.lastSeen) > rl.ttl {
			delete(rl.addrs, addr)
		}
	}
}

// ClientIP returns the host part of r.RemoteAddr, or RemoteAddr unchanged
// when it has no port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
