package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PoolStats contains instance pool statistics.
type PoolStats struct {
	Name        string  `json:"name"`
	Size        int     `json:"size"`
	Active      int64   `json:"active"`
	Idle        int     `json:"idle"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// Pool hands out a fixed set of items, one caller at a time per item.
// Module instances are not safe for concurrent calls, so each decode runs on
// an instance it holds exclusively.
type Pool[T any] struct {
	name    string
	size    int
	items   chan T
	done    chan struct{}
	onClose func(T)

	// Atomic counters for thread-safe statistics
	active    int64
	completed int64
	failed    int64

	running bool
	mu      sync.RWMutex
}

// NewPool creates a pool over items. onClose, if set, is called for every
// item on Shutdown.
func NewPool[T any](name string, items []T, onClose func(T)) *Pool[T] {
	p := &Pool[T]{
		name:    name,
		size:    len(items),
		items:   make(chan T, len(items)),
		done:    make(chan struct{}),
		onClose: onClose,
		running: true,
	}
	for _, item := range items {
		p.items <- item
	}
	return p
}

// Execute runs fn with an item held exclusively. It waits for a free item
// until ctx is done or the pool shuts down.
func (p *Pool[T]) Execute(ctx context.Context, fn func(T) error) (err error) {
	var item T
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	case item = <-p.items:
	}
	defer func() { p.items <- item }()

	if !p.IsRunning() {
		return ErrClosed
	}

	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	// Panic recovery to prevent one call from taking an item out of the pool
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("panic in pooled call: " + panicToString(r))
		}
		if err != nil {
			atomic.AddInt64(&p.failed, 1)
		} else {
			atomic.AddInt64(&p.completed, 1)
		}
	}()

	return fn(item)
}

// panicToString converts a recovered panic value to a string.
func panicToString(r interface{}) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return "unknown panic"
	}
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return PoolStats{
		Name:        p.name,
		Size:        p.size,
		Active:      atomic.LoadInt64(&p.active),
		Idle:        len(p.items),
		Completed:   completed,
		Failed:      failed,
		SuccessRate: successRate,
	}
}

// Shutdown stops handing out items and waits for every item to come back.
func (p *Pool[T]) Shutdown() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.done)
	for i := 0; i < p.size; i++ {
		item := <-p.items
		if p.onClose != nil {
			p.onClose(item)
		}
	}
}

// IsRunning returns true if the pool is still handing out items.
func (p *Pool[T]) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
