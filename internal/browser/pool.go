package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned when acquiring from a closed pool.
var ErrPoolClosed = errors.New("browser pool is closed")

// Pool manages a fixed set of browser slots. Its semaphore bounds the
// number of concurrent page captures; a slot's browser is handed to one
// capture at a time and is only recycled or closed while nobody holds it.
type Pool struct {
	mu      sync.Mutex
	slots   []slot
	config  Config
	size    int
	current int
	closed  bool
	sem     chan struct{}
	launch  func(Config) (*Browser, error)
}

type slot struct {
	browser *Browser
	inUse   bool
}

// NewPool creates a browser pool. Browsers are launched on first use.
func NewPool(config Config) *Pool {
	if config.PoolSize < 1 {
		config.PoolSize = 1
	}

	pool := &Pool{
		slots:  make([]slot, config.PoolSize),
		config: config,
		size:   config.PoolSize,
		sem:    make(chan struct{}, config.PoolSize),
		launch: New,
	}

	for i := 0; i < config.PoolSize; i++ {
		pool.sem <- struct{}{}
	}

	return pool
}

// Acquire reserves a free slot and returns its browser, launching or
// recycling it as needed. Chrome is started and stopped outside the pool
// lock.
func (p *Pool) Acquire(ctx context.Context) (*Browser, error) {
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem <- struct{}{}
		return nil, ErrPoolClosed
	}

	idx := p.freeSlotLocked()
	p.slots[idx].inUse = true
	b := p.slots[idx].browser
	var stale *Browser
	if b != nil && b.NeedsRecycle() {
		stale = b
		b = nil
		p.slots[idx].browser = nil
	}
	p.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
	if b != nil {
		return b, nil
	}

	nb, err := p.launch(p.config)
	if err != nil {
		p.freeSlot(idx)
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.slots[idx].inUse = false
		p.mu.Unlock()
		_ = nb.Close()
		p.sem <- struct{}{}
		return nil, ErrPoolClosed
	}
	p.slots[idx].browser = nb
	p.mu.Unlock()

	return nb, nil
}

// freeSlotLocked picks the next slot not in use, rotating from the last
// pick. Holding a semaphore token guarantees one exists.
func (p *Pool) freeSlotLocked() int {
	for i := 0; i < p.size; i++ {
		idx := (p.current + i) % p.size
		if !p.slots[idx].inUse {
			p.current = (idx + 1) % p.size
			return idx
		}
	}
	panic("browser pool: semaphore token held with no free slot")
}

func (p *Pool) freeSlot(idx int) {
	p.mu.Lock()
	p.slots[idx].inUse = false
	p.mu.Unlock()
	p.sem <- struct{}{}
}

// Release hands b back to the pool. A browser released after Close is
// closed here.
func (p *Pool) Release(b *Browser) {
	p.mu.Lock()
	var orphan *Browser
	for i := range p.slots {
		if p.slots[i].inUse && p.slots[i].browser == b {
			p.slots[i].inUse = false
			if p.closed {
				orphan = b
				p.slots[i].browser = nil
			}
			break
		}
	}
	p.mu.Unlock()

	if orphan != nil {
		_ = orphan.Close()
	}
	p.sem <- struct{}{}
}

// CaptureDetailed loads url and returns its network capture, rendered text
// and raw HTML.
func (p *Pool) CaptureDetailed(ctx context.Context, url string) (*DetailedResult, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	b, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(b)

	return b.capture(ctx, url, true)
}

// CaptureSimple loads url and returns its rendered text with line feeds
// replaced by spaces.
func (p *Pool) CaptureSimple(ctx context.Context, url string) (*SimpleResult, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	b, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(b)

	res, err := b.capture(ctx, url, false)
	if err != nil {
		return nil, err
	}
	return &SimpleResult{
		URL:          url,
		RenderedText: FlattenNewlines(res.RenderedText),
		Duration:     res.Duration,
	}, nil
}

func (p *Pool) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.config.Timeout)
}

// Close marks the pool closed and closes idle browsers. Browsers still
// capturing are closed when they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var idle []*Browser
	for i := range p.slots {
		if b := p.slots[i].browser; b != nil && !p.slots[i].inUse {
			idle = append(idle, b)
			p.slots[i].browser = nil
		}
	}
	p.mu.Unlock()

	var errs []error
	for _, b := range idle {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return p.size
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Size       int  `json:"size"`
	Available  int  `json:"available"`
	InUse      int  `json:"in_use"`
	Launched   int  `json:"launched"`
	TotalPages int  `json:"total_pages"`
	Closed     bool `json:"closed"`
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		Size:      p.size,
		Available: len(p.sem),
		Closed:    p.closed,
	}
	for _, sl := range p.slots {
		if sl.inUse {
			stats.InUse++
		}
		if sl.browser != nil {
			stats.Launched++
			stats.TotalPages += sl.browser.PageCount()
		}
	}
	return stats
}
