package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeAttemptStore struct {
	mu    sync.Mutex
	calls int
	n     int64
	err   error
	last  time.Time
}

func (f *fakeAttemptStore) PruneAttempts(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = now
	return f.n, f.err
}

func (f *fakeAttemptStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestAttemptPruner_RunOnce(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeAttemptStore{n: 4}
	p := NewAttemptPruner(store, time.Minute)
	p.now = func() time.Time { return fixed }

	if got := p.RunOnce(context.Background()); got != 4 {
		t.Errorf("RunOnce() = %d, want 4", got)
	}
	if !store.last.Equal(fixed) {
		t.Errorf("pruned as of %v, want %v", store.last, fixed)
	}
}

func TestAttemptPruner_RunOnceError(t *testing.T) {
	store := &fakeAttemptStore{n: 4, err: errors.New("db down")}
	p := NewAttemptPruner(store, time.Minute)
	if got := p.RunOnce(context.Background()); got != 0 {
		t.Errorf("RunOnce() = %d, want 0 on error", got)
	}
}

func TestNewAttemptPruner_DefaultInterval(t *testing.T) {
	p := NewAttemptPruner(&fakeAttemptStore{}, 0)
	if p.interval != time.Hour {
		t.Errorf("interval = %v, want 1h", p.interval)
	}
}

func TestAttemptPruner_Ticks(t *testing.T) {
	store := &fakeAttemptStore{}
	p := NewAttemptPruner(store, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for store.callCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("pruner ran %d times, want at least 2", store.callCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	p.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pruner did not stop")
	}
}
