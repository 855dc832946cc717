package nwc

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"nwcly.dev/pkg/utils/context"
)

// handleUpperBound caps the lifetime of an observable request's background
// task so an abandoned handle cannot leak forever.
const handleUpperBound = 600 * time.Second

// RequestStatus is the observable request lifecycle.
type RequestStatus int

const (
	// StateLoading means the request is still in flight.
	StateLoading RequestStatus = iota
	// StateSuccess means the terminal state holds a result.
	StateSuccess
	// StateFailure means the terminal state holds a failure.
	StateFailure
)

// RequestState is a snapshot of an observable request: loading, or one of
// the two terminal states.
type RequestState[T any] struct {
	Status  RequestStatus
	Result  *T
	Failure Failure
}

// RequestHandle runs a request in the background and exposes its state as
// an observable snapshot with cancellation. Cancelling stops the task but
// the protocol event may already have been sent.
type RequestHandle[T any] struct {
	eventID atomic.String
	active  atomic.Bool

	mu      sync.Mutex
	state   RequestState[T]
	changed chan struct{}

	cancel context.F
}

// newRequestHandle starts the background task. run receives a setter it
// must call with the request event ID once known.
func newRequestHandle[T any](
	c context.T, run func(c context.T, noteEventID func(string)) (*T, error),
) *RequestHandle[T] {
	ctx, cancel := context.Timeout(c, handleUpperBound)
	h := &RequestHandle[T]{
		changed: make(chan struct{}),
		cancel:  cancel,
	}
	h.active.Store(true)
	go func() {
		defer cancel()
		result, err := run(ctx, func(id string) { h.eventID.Store(id) })
		h.mu.Lock()
		defer h.mu.Unlock()
		if !h.active.Load() {
			// cancelled; the state stays whatever it was
			return
		}
		if err != nil {
			h.state = RequestState[T]{
				Status: StateFailure, Failure: AsFailure(err),
			}
		} else {
			h.state = RequestState[T]{Status: StateSuccess, Result: result}
		}
		h.active.Store(false)
		close(h.changed)
	}()
	return h
}

// EventID returns the request event ID for diagnostic correlation; empty
// until the request event has been built.
func (h *RequestHandle[T]) EventID() string { return h.eventID.Load() }

// IsActive reports whether the background task is still running.
func (h *RequestHandle[T]) IsActive() bool { return h.active.Load() }

// State returns the current snapshot.
func (h *RequestHandle[T]) State() RequestState[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Cancel stops the background task. The stored state remains whatever it
// was; a Loading handle stays Loading forever.
func (h *RequestHandle[T]) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active.CompareAndSwap(true, false) {
		h.cancel()
		close(h.changed)
	}
}

// AwaitResult blocks until the first non-loading state, or returns nil when
// the context ends first or the handle was cancelled while loading.
func (h *RequestHandle[T]) AwaitResult(c context.T) *RequestState[T] {
	h.mu.Lock()
	changed := h.changed
	st := h.state
	h.mu.Unlock()
	if st.Status != StateLoading {
		return &st
	}
	select {
	case <-changed:
		st = h.State()
		if st.Status == StateLoading {
			return nil
		}
		return &st
	case <-c.Done():
		return nil
	}
}

// AwaitResultTimeout is AwaitResult bounded by a duration.
func (h *RequestHandle[T]) AwaitResultTimeout(d time.Duration) *RequestState[T] {
	ctx, cancel := context.Timeout(context.Bg(), d)
	defer cancel()
	return h.AwaitResult(ctx)
}

// ToResult maps the final state onto a plain result and error; a deadline
// that elapses first becomes a timeout failure.
func (h *RequestHandle[T]) ToResult(c context.T) (result *T, err error) {
	st := h.AwaitResult(c)
	if st == nil {
		return nil, &TimeoutError{
			Msg: "deadline elapsed awaiting observable request",
		}
	}
	if st.Status == StateFailure {
		return nil, st.Failure
	}
	return st.Result, nil
}
