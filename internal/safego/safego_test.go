package safego

import (
	"context"
	"testing"
	"time"
)

func waitOrFail(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not complete within timeout")
	}
}

func TestGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go(func() { close(done) })
	waitOrFail(t, done)
}

func TestGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Go(func() {
		defer close(done)
		panic("intentional panic in test")
	})
	waitOrFail(t, done)
}

func TestDetached_SurvivesParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	var ctxErr error
	Detached(parent, "test", time.Second, func(ctx context.Context) {
		defer close(done)
		ctxErr = ctx.Err()
	})
	waitOrFail(t, done)

	if ctxErr != nil {
		t.Errorf("detached context error = %v, want nil", ctxErr)
	}
}

func TestDetached_AppliesTimeout(t *testing.T) {
	done := make(chan struct{})
	Detached(context.Background(), "test", 10*time.Millisecond, func(ctx context.Context) {
		defer close(done)
		<-ctx.Done()
	})
	waitOrFail(t, done)
}

func TestDetached_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Detached(context.Background(), "panicky", time.Second, func(ctx context.Context) {
		defer close(done)
		panic("boom")
	})
	waitOrFail(t, done)
}
