package concurrency

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	parleyErrors "github.com/harunnryd/parley/internal/errors"
)

// SafeGo runs a function in a goroutine with panic recovery.
func SafeGo(fn func(), onPanic func(interface{})) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				slog.Error("Panic recovered", "panic", r, "stack", string(stack))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

// RunDetached runs fn in its own goroutine and waits at most timeout for it.
// A panic in fn is returned as an error. When the wait times out fn keeps
// running in the background and a transient error is returned.
func RunDetached(timeout time.Duration, fn func() error) error {
	result := make(chan error, 1)

	SafeGo(func() {
		result <- fn()
	}, func(r interface{}) {
		result <- fmt.Errorf("panic: %v: %w", r, parleyErrors.ErrInternal)
	})

	if timeout <= 0 {
		return <-result
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return fmt.Errorf("still running after %s: %w", timeout, parleyErrors.ErrTransient)
	}
}
