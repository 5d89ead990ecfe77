// Package ratelimit provides admission control for scrape requests.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures admission limits. A zero rate disables that limit.
type Config struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
	PerHostRPS        float64 `yaml:"per_host_rps" json:"per_host_rps"`
	PerHostBurst      int     `yaml:"per_host_burst" json:"per_host_burst"`
}

// DefaultConfig returns the default admission limits.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RequestsPerSecond: 10,
		Burst:             20,
		PerHostRPS:        2,
		PerHostBurst:      4,
	}
}

// maxIdleHosts bounds the per-host table before idle entries are pruned.
const maxIdleHosts = 4096

const hostIdleTTL = 10 * time.Minute

type hostEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter admits requests against a global limit and a per-target-host limit.
type Limiter struct {
	mu        sync.Mutex
	global    *rate.Limiter
	perHost   map[string]*hostEntry
	hostRate  rate.Limit
	hostBurst int
	rejected  int64
}

// NewLimiter creates a limiter from cfg.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		global:    newRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		perHost:   make(map[string]*hostEntry),
		hostRate:  toLimit(cfg.PerHostRPS),
		hostBurst: burstOrOne(cfg.PerHostBurst),
	}
}

func newRateLimiter(rps float64, burst int) *rate.Limiter {
	return rate.NewLimiter(toLimit(rps), burstOrOne(burst))
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// limitValue reports an unlimited rate as 0.
func limitValue(r rate.Limit) float64 {
	if r == rate.Inf {
		return 0
	}
	return float64(r)
}

func burstOrOne(b int) int {
	if b < 1 {
		return 1
	}
	return b
}

// hostLimiter returns the limiter for host, creating it on first use.
// Caller must hold l.mu.
func (l *Limiter) hostLimiter(host string, now time.Time) *rate.Limiter {
	e, ok := l.perHost[host]
	if !ok {
		if len(l.perHost) >= maxIdleHosts {
			l.pruneLocked(now)
		}
		e = &hostEntry{limiter: rate.NewLimiter(l.hostRate, l.hostBurst)}
		l.perHost[host] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (l *Limiter) pruneLocked(now time.Time) {
	for host, e := range l.perHost {
		if now.Sub(e.lastSeen) > hostIdleTTL {
			delete(l.perHost, host)
		}
	}
}

// AllowHost reports whether a request to host may proceed now. A rejected
// request consumes no tokens from either limit.
func (l *Limiter) AllowHost(host string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	g := l.global.ReserveN(now, 1)
	if !g.OK() || g.DelayFrom(now) > 0 {
		g.CancelAt(now)
		l.rejected++
		return false
	}

	h := l.hostLimiter(host, now).ReserveN(now, 1)
	if !h.OK() || h.DelayFrom(now) > 0 {
		h.CancelAt(now)
		g.CancelAt(now)
		l.rejected++
		return false
	}
	return true
}

// WaitHost blocks until a request to host is allowed or ctx is done.
func (l *Limiter) WaitHost(ctx context.Context, host string) error {
	if err := l.global.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	hl := l.hostLimiter(host, time.Now())
	l.mu.Unlock()

	return hl.Wait(ctx)
}

// SetHostRate overrides the limit for one host.
func (l *Limiter) SetHostRate(host string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perHost[host] = &hostEntry{
		limiter:  newRateLimiter(requestsPerSecond, burst),
		lastSeen: time.Now(),
	}
}

// Stats returns limiter statistics.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		HostCount:  len(l.perHost),
		GlobalRate: limitValue(l.global.Limit()),
		HostRate:   limitValue(l.hostRate),
		HostBurst:  l.hostBurst,
		Rejected:   l.rejected,
	}
}

// Stats contains limiter statistics.
type Stats struct {
	HostCount  int     `json:"host_count"`
	GlobalRate float64 `json:"global_rate"`
	HostRate   float64 `json:"host_rate"`
	HostBurst  int     `json:"host_burst"`
	Rejected   int64   `json:"rejected"`
}
