package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/simplechat/simplechat/internal/log"
)

// countingSource returns tokens valid for ttl and counts invocations.
func countingSource(calls *atomic.Int64, ttl time.Duration) Source {
	return func(_ context.Context) (Token, error) {
		n := calls.Add(1)
		return Token{
			Value:     "tok-" + string(rune('a'+n-1)),
			ExpiresAt: time.Now().Add(ttl),
		}, nil
	}
}

func TestGet_CachesUntilExpiry(t *testing.T) {
	var calls atomic.Int64
	c := NewCachedSource(countingSource(&calls, time.Hour), log.NewNop())

	first, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if first.Value != second.Value {
		t.Errorf("second Get returned a different token: %q vs %q", first.Value, second.Value)
	}
	if calls.Load() != 1 {
		t.Errorf("source called %d times, want 1", calls.Load())
	}
}

func TestGet_RefreshesInsideSkewWindow(t *testing.T) {
	var calls atomic.Int64
	// Token TTL shorter than the skew: always considered expiring.
	c := NewCachedSource(countingSource(&calls, time.Minute), log.NewNop(),
		WithExpirySkew(5*time.Minute))

	_, _ = c.Get(context.Background())
	_, _ = c.Get(context.Background())

	if calls.Load() != 2 {
		t.Errorf("source called %d times, want 2 (refresh each Get)", calls.Load())
	}
}

func TestGet_PropagatesRefreshError(t *testing.T) {
	wantErr := errors.New("provider down")
	c := NewCachedSource(func(context.Context) (Token, error) {
		return Token{}, wantErr
	}, log.NewNop())

	if _, err := c.Get(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Get error = %v, want %v", err, wantErr)
	}
}

func TestGet_RejectsEmptyToken(t *testing.T) {
	c := NewCachedSource(func(context.Context) (Token, error) {
		return Token{ExpiresAt: time.Now().Add(time.Hour)}, nil
	}, log.NewNop())

	if _, err := c.Get(context.Background()); err == nil {
		t.Error("Get accepted an empty token value")
	}
}

func TestGet_SingleRefreshUnderConcurrency(t *testing.T) {
	var calls atomic.Int64
	slow := func(_ context.Context) (Token, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	c := NewCachedSource(slow, log.NewNop())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background()); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("source called %d times under concurrency, want 1", calls.Load())
	}
}

func TestGet_WaitersShareRefreshError(t *testing.T) {
	wantErr := errors.New("provider down")
	var calls atomic.Int64
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	blocking := func(_ context.Context) (Token, error) {
		calls.Add(1)
		once.Do(func() { close(entered) })
		<-release
		return Token{}, wantErr
	}
	c := NewCachedSource(blocking, log.NewNop())

	errs := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background())
		errs <- err
	}()
	<-entered

	// Queue up waiters while the first refresh is stuck in the source.
	const waiters = 5
	waiterErrs := make(chan error, waiters)
	var wg sync.WaitGroup
	for range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background())
			waiterErrs <- err
		}()
	}

	// Give the waiters time to reach the in-flight round before failing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if err := <-errs; !errors.Is(err, wantErr) {
		t.Errorf("leading Get error = %v, want %v", err, wantErr)
	}
	close(waiterErrs)
	for err := range waiterErrs {
		if !errors.Is(err, wantErr) {
			t.Errorf("waiter Get error = %v, want %v", err, wantErr)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("source called %d times, want 1 shared failing round", calls.Load())
	}
}

func TestGet_WaiterHonorsContextCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	entered := make(chan struct{})
	var once sync.Once

	blocking := func(_ context.Context) (Token, error) {
		once.Do(func() { close(entered) })
		<-release
		return Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	c := NewCachedSource(blocking, log.NewNop())

	go func() { _, _ = c.Get(context.Background()) }()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled waiter error = %v, want context.Canceled", err)
	}
}

func TestInvalidate_ForcesRefresh(t *testing.T) {
	var calls atomic.Int64
	c := NewCachedSource(countingSource(&calls, time.Hour), log.NewNop())

	_, _ = c.Get(context.Background())
	c.Invalidate()
	_, _ = c.Get(context.Background())

	if calls.Load() != 2 {
		t.Errorf("source called %d times after Invalidate, want 2", calls.Load())
	}
}
