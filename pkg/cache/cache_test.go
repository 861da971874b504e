package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu       sync.Mutex
	counters map[string]int64
	values   map[string][]byte
	ttls     map[string]time.Duration
	fail     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		counters: map[string]int64{},
		values:   map[string][]byte{},
		ttls:     map[string]time.Duration{},
	}
}

func (s *fakeStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	s.counters[key]++
	return s.counters[key], nil
}

func (s *fakeStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.ttls[key] = ttl
	return nil
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	value, ok := s.values[key]
	if !ok {
		return nil, ErrMiss
	}
	return value, nil
}

func (s *fakeStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.values[key] = value
	s.ttls[key] = ttl
	return nil
}

func TestWriteGatedByFrequency(t *testing.T) {
	store := newFakeStore()
	c := New(store)
	ctx := context.Background()

	for i := 1; i <= DefaultThreshold; i++ {
		value, freq := c.Read(ctx, "search:galletas")
		if value != nil {
			t.Fatalf("read %d: unexpected cached value %q", i, value)
		}
		if freq != int64(i) {
			t.Fatalf("read %d: freq = %d, want %d", i, freq, i)
		}

		c.Write(ctx, "search:galletas", []byte(`{"hit":true}`), freq)
		_, stored := store.values["search:galletas"]
		wantStored := i >= DefaultThreshold
		if stored != wantStored {
			t.Fatalf("after write %d: stored = %v, want %v", i, stored, wantStored)
		}
	}

	value, _ := c.Read(ctx, "search:galletas")
	if string(value) != `{"hit":true}` {
		t.Errorf("cached value = %q, want stored payload", value)
	}
}

func TestFrequencyCounterGetsTTL(t *testing.T) {
	store := newFakeStore()
	c := New(store, WithTTL(time.Hour))

	c.Read(context.Background(), "product:123")

	if ttl := store.ttls["freq:product:123"]; ttl != time.Hour {
		t.Errorf("counter ttl = %v, want %v", ttl, time.Hour)
	}
}

func TestNilCacheAndNilStore(t *testing.T) {
	ctx := context.Background()

	var c *Cache
	if value, freq := c.Read(ctx, "k"); value != nil || freq != 1 {
		t.Errorf("nil cache Read = (%q, %d), want (nil, 1)", value, freq)
	}
	c.Write(ctx, "k", []byte("v"), 10)

	c = New(nil)
	if value, freq := c.Read(ctx, "k"); value != nil || freq != 1 {
		t.Errorf("nil store Read = (%q, %d), want (nil, 1)", value, freq)
	}
	c.Write(ctx, "k", []byte("v"), 10)
}

func TestBreakerDisablesAfterRepeatedFailures(t *testing.T) {
	store := newFakeStore()
	store.fail = errors.New("connection refused")
	c := New(store)
	ctx := context.Background()

	for i := 0; i < failureLimit; i++ {
		c.Read(ctx, "k")
	}
	if !c.disabled() {
		t.Fatal("cache not disabled after repeated failures")
	}

	// While disabled, the store must not be touched even after it heals.
	store.mu.Lock()
	store.fail = nil
	store.mu.Unlock()
	if _, freq := c.Read(ctx, "k"); freq != 1 {
		t.Errorf("disabled Read freq = %d, want 1", freq)
	}
	if store.counters["freq:k"] != 0 {
		t.Errorf("store touched while disabled: counter = %d", store.counters["freq:k"])
	}
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	store := newFakeStore()
	c := New(store)
	ctx := context.Background()

	store.fail = errors.New("timeout")
	c.Read(ctx, "k")
	c.Read(ctx, "k")
	store.mu.Lock()
	store.fail = nil
	store.mu.Unlock()

	c.Write(ctx, "k", []byte("v"), DefaultThreshold)

	store.mu.Lock()
	store.fail = errors.New("timeout")
	store.mu.Unlock()
	c.Read(ctx, "k")
	if c.disabled() {
		t.Error("single failure after success tripped the breaker")
	}
}

func TestWriteFailureDoesNotPanic(t *testing.T) {
	store := newFakeStore()
	store.fail = errors.New("read only replica")
	c := New(store)

	c.Write(context.Background(), "k", []byte("v"), DefaultThreshold)
}
