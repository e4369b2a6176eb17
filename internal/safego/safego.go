// Package safego provides panic-recovering goroutine launchers for
// fire-and-forget work such as fulfilment notifications.
package safego

import (
	"context"
	"log/slog"
	"time"
)

// Go launches fn in a new goroutine. A panic in fn is recovered and logged
// instead of crashing the process.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}

// Detached runs fn in a new goroutine with a context that keeps the values of
// parent but is not cancelled with it, bounded by timeout. HTTP handlers use it
// to hand off work that must outlive the request.
func Detached(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context)) {
	ctx := context.WithoutCancel(parent)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "task", name, "panic", r)
			}
		}()
		fn(ctx)
	}()
}
