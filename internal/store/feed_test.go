package store

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestFeedReplaysLatestOnSubscribe(t *testing.T) {
	var loads atomic.Int32
	var value atomic.Int32
	value.Store(7)
	f := NewFeed("test", time.Hour, func(ctx context.Context) (int32, error) {
		loads.Add(1)
		return value.Load(), nil
	})
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := f.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if got := <-a; got != 7 {
		t.Errorf("first subscriber got %d, want 7", got)
	}
	b, _ := f.Subscribe(ctx)
	if got := <-b; got != 7 {
		t.Errorf("second subscriber got %d, want 7", got)
	}
	if n := loads.Load(); n != 1 {
		t.Errorf("load called %d times, want 1 while warm", n)
	}
}

func TestFeedConflatesForSlowReaders(t *testing.T) {
	var value atomic.Int32
	f := NewFeed("test", time.Hour, func(ctx context.Context) (int32, error) {
		return value.Load(), nil
	})
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := f.Subscribe(ctx)

	for i := int32(1); i <= 5; i++ {
		value.Store(i)
		f.Refresh(ctx)
	}
	if got := <-ch; got != 5 {
		t.Errorf("slow reader got %d, want newest value 5", got)
	}
	select {
	case v := <-ch:
		t.Errorf("unexpected extra value %d", v)
	default:
	}
}

func TestFeedExpiresAfterIdleTimeout(t *testing.T) {
	var loads atomic.Int32
	f := NewFeed("test", 20*time.Millisecond, func(ctx context.Context) (int, error) {
		loads.Add(1)
		return 1, nil
	})
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := f.Subscribe(ctx)
	<-ch
	cancel()

	// channel closes once the unsubscribe goroutine runs
	for range ch {
	}
	if !f.Warm() {
		t.Fatal("feed should stay warm during the idle window")
	}

	deadline := time.Now().Add(time.Second)
	for f.Warm() {
		if time.Now().After(deadline) {
			t.Fatal("feed did not expire")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	if _, err := f.Subscribe(ctx2); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if n := loads.Load(); n != 2 {
		t.Errorf("load called %d times, want 2 after expiry", n)
	}
}

func TestFeedRefreshWhileColdIsNoop(t *testing.T) {
	var loads atomic.Int32
	f := NewFeed("test", time.Hour, func(ctx context.Context) (int, error) {
		loads.Add(1)
		return 0, nil
	})
	f.Refresh(context.Background())
	if loads.Load() != 0 {
		t.Error("Refresh should not load while no one subscribed")
	}
	f.Close()
	ch, err := f.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe after Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Close")
	}
}
