package browser

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fakePool(size int) *Pool {
	p := NewPool(Config{PoolSize: size, RecycleAfter: 2})
	p.launch = func(c Config) (*Browser, error) {
		return &Browser{config: c}, nil
	}
	return p
}

func TestNewPool_MinimumSize(t *testing.T) {
	p := NewPool(Config{PoolSize: 0})
	if p.Size() != 1 {
		t.Errorf("Size() = %d, want 1", p.Size())
	}
	if s := p.Stats(); s.Available != 1 || s.Launched != 0 {
		t.Errorf("Stats() = %+v, want lazily launched pool", s)
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	p := fakePool(2)
	ctx := context.Background()

	b1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	b2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if b1 == b2 {
		t.Error("Acquire() should hand out distinct browsers")
	}

	s := p.Stats()
	if s.InUse != 2 || s.Available != 0 || s.Launched != 2 {
		t.Errorf("Stats() = %+v", s)
	}

	p.Release(b1)
	p.Release(b2)
	if got := p.Stats().Available; got != 2 {
		t.Errorf("Available = %d, want 2", got)
	}
}

func TestPool_AcquireBlocksUntilContextDone(t *testing.T) {
	p := fakePool(1)
	b, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer p.Release(b)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want deadline exceeded", err)
	}
}

func TestPool_LaunchFailureReturnsSlot(t *testing.T) {
	p := NewPool(Config{PoolSize: 1})
	p.launch = func(Config) (*Browser, error) {
		return nil, errors.New("no chrome")
	}

	if _, err := p.Acquire(context.Background()); err == nil {
		t.Fatal("Acquire() should fail when launch fails")
	}
	if got := p.Stats().Available; got != 1 {
		t.Errorf("Available = %d, want 1", got)
	}
}

func TestPool_Recycle(t *testing.T) {
	p := fakePool(1)
	ctx := context.Background()

	first, _ := p.Acquire(ctx)
	first.pageCount = 2
	p.Release(first)

	second, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if second == first {
		t.Error("browser past RecycleAfter should be replaced")
	}
	p.Release(second)
}

func TestPool_Closed(t *testing.T) {
	p := fakePool(1)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire() error = %v, want ErrPoolClosed", err)
	}
	if !p.Stats().Closed {
		t.Error("Stats().Closed should be true")
	}
}

func TestPool_RecycleSkipsHeldBrowser(t *testing.T) {
	p := fakePool(2)
	ctx := context.Background()

	b1, _ := p.Acquire(ctx)
	b2, _ := p.Acquire(ctx)
	b2.pageCount = 2
	p.Release(b1)

	// Two more round trips must only ever touch the free slot.
	for i := 0; i < 2; i++ {
		b, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if b == b2 {
			t.Fatalf("Acquire() = held browser, want the free one")
		}
		p.Release(b)
	}

	if b2.isClosed() {
		t.Error("browser recycled while still held")
	}

	p.Release(b2)
	next, _ := p.Acquire(ctx)
	next2, _ := p.Acquire(ctx)
	if next == b2 || next2 == b2 {
		t.Error("browser past RecycleAfter should be replaced once released")
	}
	if !b2.isClosed() {
		t.Error("recycled browser should be closed")
	}
}

func TestPool_CloseDefersHeldBrowsers(t *testing.T) {
	p := fakePool(2)
	ctx := context.Background()

	held, _ := p.Acquire(ctx)
	idle, _ := p.Acquire(ctx)
	p.Release(idle)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !idle.isClosed() {
		t.Error("Close() should close idle browsers")
	}
	if held.isClosed() {
		t.Error("Close() closed a browser still in use")
	}

	p.Release(held)
	if !held.isClosed() {
		t.Error("Release() after Close() should close the browser")
	}
	if got := p.Stats().Launched; got != 0 {
		t.Errorf("Stats().Launched = %d, want 0", got)
	}
}

func TestPool_LaunchDoesNotHoldLock(t *testing.T) {
	p := NewPool(Config{PoolSize: 2})
	started := make(chan struct{})
	unblock := make(chan struct{})
	p.launch = func(c Config) (*Browser, error) {
		close(started)
		<-unblock
		return &Browser{config: c}, nil
	}

	done := make(chan *Browser)
	go func() {
		b, _ := p.Acquire(context.Background())
		done <- b
	}()
	<-started

	statsDone := make(chan PoolStats)
	go func() { statsDone <- p.Stats() }()

	select {
	case s := <-statsDone:
		if s.InUse != 1 || s.Launched != 0 {
			t.Errorf("Stats() = %+v, want one slot in use and none launched", s)
		}
	case <-time.After(time.Second):
		t.Fatal("Stats() blocked behind a browser launch")
	}

	close(unblock)
	b := <-done
	if b == nil {
		t.Fatal("Acquire() returned nil browser")
	}
	if got := p.Stats().Launched; got != 1 {
		t.Errorf("Stats().Launched = %d, want 1", got)
	}
}

func TestPool_CloseDuringLaunch(t *testing.T) {
	p := NewPool(Config{PoolSize: 1})
	started := make(chan struct{})
	unblock := make(chan struct{})
	launched := &Browser{}
	p.launch = func(c Config) (*Browser, error) {
		close(started)
		<-unblock
		return launched, nil
	}

	errc := make(chan error)
	go func() {
		_, err := p.Acquire(context.Background())
		errc <- err
	}()
	<-started

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	close(unblock)

	if err := <-errc; !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire() error = %v, want ErrPoolClosed", err)
	}
	if !launched.isClosed() {
		t.Error("browser launched after Close() should be closed")
	}
	if got := p.Stats().Available; got != 1 {
		t.Errorf("Stats().Available = %d, want 1", got)
	}
}
