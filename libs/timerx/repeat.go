// Package timerx provides a minimal repeating-task primitive so components that
// need periodic work depend on a cancellation handle rather than on any
// particular event loop.
package timerx

import (
	"sync"
	"time"
)

// Repeat runs fn every interval until the returned stop function is called.
// When immediate is true, fn also runs once right away on the caller's
// goroutine's behalf (still asynchronously). Stop is idempotent and waits for
// no in-flight run; fn must tolerate being mid-flight when stop returns.
func Repeat(interval time.Duration, immediate bool, fn func()) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		if immediate {
			fn()
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}
