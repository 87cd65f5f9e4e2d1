// Package future provides the single pending-result type used for every
// asynchronous operation: calls, subscriptions, publications and joins.
package future

import (
	"context"
	"errors"
	"sync"
)

// ErrCanceled rejects a future settled by Cancel.
var ErrCanceled = errors.New("future: canceled")

// State is the lifecycle position of a Future. Only Pending is not final.
type State int

const (
	Pending State = iota
	Resolved
	Rejected
	Canceled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Future is a cancellable pending result. The first of Resolve, Reject or
// Cancel wins; later settles are no-ops and report false.
type Future[T any] struct {
	mu        sync.Mutex
	state     State
	value     T
	err       error
	done      chan struct{}
	onCancel  func()
	callbacks []func(T, error)
}

// New returns a pending future. onCancel, if non-nil, runs once after a
// successful Cancel, outside the future's lock.
func New[T any](onCancel func()) *Future[T] {
	return &Future[T]{done: make(chan struct{}), onCancel: onCancel}
}

// ResolvedWith returns an already resolved future.
func ResolvedWith[T any](v T) *Future[T] {
	f := New[T](nil)
	f.Resolve(v)
	return f
}

// RejectedWith returns an already rejected future.
func RejectedWith[T any](err error) *Future[T] {
	f := New[T](nil)
	f.Reject(err)
	return f
}

// Resolve settles the future with v. It reports false if the future had
// already settled.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(Resolved, v, nil)
}

// Reject settles the future with err.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(Rejected, zero, err)
}

// Cancel settles the future with ErrCanceled and runs the cancel hook.
// It never blocks on the operation being canceled.
func (f *Future[T]) Cancel() bool {
	var zero T
	if !f.settle(Canceled, zero, ErrCanceled) {
		return false
	}
	if f.onCancel != nil {
		f.onCancel()
	}
	return true
}

func (f *Future[T]) settle(state State, v T, err error) bool {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return false
	}
	f.state = state
	f.value = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// State reports where the future is in its lifecycle.
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result returns the settled value and error. A pending future yields the
// zero value and a nil error; check State or Done first.
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Await blocks until the future settles or ctx ends. A ctx ending does not
// settle the future; call Cancel for that.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnSettle registers fn to run once the future settles. If it already
// has, fn runs immediately on the calling goroutine.
func (f *Future[T]) OnSettle(fn func(T, error)) {
	f.mu.Lock()
	if f.state == Pending {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}
