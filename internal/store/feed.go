package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Feed is a conflating publish/subscribe channel over a value loaded from storage.
//
// New subscribers immediately receive the latest value. Each subscriber channel holds at
// most one pending value; a slow reader only ever sees the newest one. When the last
// subscriber leaves, the cached value is kept for the idle timeout and then dropped so the
// next subscriber reloads from storage.
type Feed[T any] struct {
	name        string
	load        func(ctx context.Context) (T, error)
	idleTimeout time.Duration

	mu        sync.Mutex
	subs      map[chan T]struct{}
	latest    T
	warm      bool
	idleTimer *time.Timer
	closed    bool
}

// NewFeed creates a feed that reads its value with load.
func NewFeed[T any](name string, idleTimeout time.Duration, load func(ctx context.Context) (T, error)) *Feed[T] {
	return &Feed[T]{
		name:        name,
		load:        load,
		idleTimeout: idleTimeout,
		subs:        make(map[chan T]struct{}),
	}
}

// Subscribe registers a subscriber. The returned channel is closed when ctx is done or
// the feed is closed.
func (f *Feed[T]) Subscribe(ctx context.Context) (<-chan T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		ch := make(chan T)
		close(ch)
		return ch, nil
	}
	if f.idleTimer != nil {
		f.idleTimer.Stop()
		f.idleTimer = nil
	}
	if !f.warm {
		v, err := f.load(ctx)
		if err != nil {
			slog.Error("Feed.Subscribe: initial load failed", "feed", f.name, "error", err)
			return nil, err
		}
		f.latest = v
		f.warm = true
	}

	ch := make(chan T, 1)
	ch <- f.latest
	f.subs[ch] = struct{}{}
	slog.Debug("Feed.Subscribe: subscriber added", "feed", f.name, "subscribers", len(f.subs))

	go func() {
		<-ctx.Done()
		f.unsubscribe(ch)
	}()
	return ch, nil
}

func (f *Feed[T]) unsubscribe(ch chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[ch]; !ok {
		return
	}
	delete(f.subs, ch)
	close(ch)
	slog.Debug("Feed.unsubscribe: subscriber removed", "feed", f.name, "subscribers", len(f.subs))

	if len(f.subs) == 0 && !f.closed {
		f.idleTimer = time.AfterFunc(f.idleTimeout, f.expire)
	}
}

func (f *Feed[T]) expire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		var zero T
		f.latest = zero
		f.warm = false
		f.idleTimer = nil
		slog.Debug("Feed.expire: idle timeout reached, cache dropped", "feed", f.name)
	}
}

// Refresh reloads the value after a write and publishes it. It does nothing while the
// feed is cold, because the next subscriber will load fresh data anyway.
func (f *Feed[T]) Refresh(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || !f.warm {
		return
	}
	v, err := f.load(ctx)
	if err != nil {
		slog.Error("Feed.Refresh: reload failed", "feed", f.name, "error", err)
		return
	}
	f.latest = v
	for ch := range f.subs {
		select {
		case ch <- v:
		default:
			// drop the stale pending value, keep the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Subscribers reports the number of active subscribers.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Warm reports whether the feed currently caches a value.
func (f *Feed[T]) Warm() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.warm
}

// Close closes every subscriber channel and stops the idle timer.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if f.idleTimer != nil {
		f.idleTimer.Stop()
		f.idleTimer = nil
	}
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}
