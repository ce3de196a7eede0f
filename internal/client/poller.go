package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Refresh intervals for polled views.
const (
	SessionInterval   = 10 * time.Second
	DashboardInterval = 30 * time.Second
)

// Poller refetches a view on a fixed interval. Every tick starts its own
// fetch without waiting for earlier ones; a response is applied only if no
// later-issued response has been applied already.
type Poller[T any] struct {
	interval time.Duration
	fetch    func(ctx context.Context) (T, error)
	apply    func(T)
	onError  func(error)

	issued  atomic.Uint64
	stale   atomic.Uint64
	mu      sync.Mutex
	applied uint64
	wg      sync.WaitGroup
}

// NewPoller creates a poller. onError may be nil.
func NewPoller[T any](interval time.Duration, fetch func(ctx context.Context) (T, error), apply func(T), onError func(error)) *Poller[T] {
	return &Poller[T]{interval: interval, fetch: fetch, apply: apply, onError: onError}
}

// Run polls immediately and then on every tick until ctx is done. In-flight
// fetches share ctx, so they are cancelled with it; Run returns after they exit.
func (p *Poller[T]) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer p.wg.Wait()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Stale returns how many responses were dropped for arriving out of order.
func (p *Poller[T]) Stale() uint64 {
	return p.stale.Load()
}

func (p *Poller[T]) tick(ctx context.Context) {
	seq := p.issued.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		v, err := p.fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if p.onError != nil {
				p.onError(err)
			}
			return
		}
		p.deliver(seq, v)
	}()
}

func (p *Poller[T]) deliver(seq uint64, v T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq <= p.applied {
		p.stale.Add(1)
		return false
	}
	p.applied = seq
	p.apply(v)
	return true
}
