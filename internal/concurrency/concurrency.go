// Package concurrency runs asynchronous units of work reporting their completion through callbacks
package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPrimaryGoroutine = errors.New("cannot wait on the primary goroutine")
	ErrWaitTimeout      = errors.New("wait timed out")
)

// Done reports the completion of a unit. Only the first call is taken into account
type Done func(success bool)

// group is the state shared by the units of one RunMany call
type group struct {
	n          int32
	finished   int32
	successful int32
	onAll      Done
}

func (g *group) done(success bool) {
	if success {
		atomic.AddInt32(&g.successful, 1)
	}
	if atomic.AddInt32(&g.finished, 1) == g.n {
		g.onAll(atomic.LoadInt32(&g.successful) == g.n)
	}
}

// OnceDone returns a Done that forwards only its first call to done
func OnceDone(done Done) Done {
	var once sync.Once
	return func(success bool) {
		once.Do(func() { done(success) })
	}
}

// RunMany runs n units concurrently. onAll is called once, after all the units completed,
// with true if all of them succeeded. A failure does not cancel the other units.
// With n == 0, onAll(true) is called synchronously.
func RunMany(n int, action func(i int, done Done), onAll Done) {
	if n <= 0 {
		onAll(true)
		return
	}
	g := &group{n: int32(n), onAll: onAll}
	for i := 0; i < n; i++ {
		go action(i, OnceDone(g.done))
	}
}

// RunSuccessively runs action on each element, one after the other.
// Element i+1 starts when element i succeeded. The first failure stops the sequence.
func RunSuccessively[T any](elements []T, action func(elem T, done Done), onAll Done) {
	go func() {
		for _, e := range elements {
			result := make(chan bool, 1)
			d := OnceDone(func(success bool) { result <- success })
			action(e, d)
			if !<-result {
				onAll(false)
				return
			}
		}
		onAll(true)
	}()
}

type primaryKey struct{}

// WithPrimary marks ctx as running on the goroutine that drives the completions.
// Waiting on such a context would deadlock, so the AndWait family refuses it.
func WithPrimary(ctx context.Context) context.Context {
	return context.WithValue(ctx, primaryKey{}, true)
}

// IsPrimary returns true if ctx has been marked by WithPrimary
func IsPrimary(ctx context.Context) bool {
	p, _ := ctx.Value(primaryKey{}).(bool)
	return p
}

// AndWait calls start and blocks until the done callback is called, the timeout elapses
// or ctx is done. A zero timeout waits forever.
func AndWait(ctx context.Context, timeout time.Duration, start func(done Done)) (bool, error) {
	if IsPrimary(ctx) {
		return false, ErrPrimaryGoroutine
	}
	result := make(chan bool, 1)
	start(OnceDone(func(success bool) { result <- success }))

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case success := <-result:
		return success, nil
	case <-timer:
		return false, ErrWaitTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// RunManyAndWait is the blocking version of RunMany
func RunManyAndWait(ctx context.Context, timeout time.Duration, n int, action func(i int, done Done)) (bool, error) {
	return AndWait(ctx, timeout, func(done Done) {
		RunMany(n, action, done)
	})
}

// RunSuccessivelyAndWait is the blocking version of RunSuccessively
func RunSuccessivelyAndWait[T any](ctx context.Context, timeout time.Duration, elements []T, action func(elem T, done Done)) (bool, error) {
	return AndWait(ctx, timeout, func(done Done) {
		RunSuccessively(elements, action, done)
	})
}
