package ws

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"nwcly.dev/pkg/encoders/envelopes"
	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/filters"
	"nwcly.dev/pkg/utils/chk"
	"nwcly.dev/pkg/utils/context"
)

// Subscription represents a REQ held open on a relay.
type Subscription struct {
	counter int64
	id      string

	Relay   *Client
	Filters *filters.T

	// Events emits everything that comes in for the subscription; closed
	// when the subscription ends.
	Events event.C
	mu     sync.Mutex

	// EndOfStoredEvents receives one signal when the relay sends EOSE.
	EndOfStoredEvents chan struct{}

	// ClosedReason emits the reason when the relay sends CLOSED.
	ClosedReason chan string

	// Context is done when the subscription ends.
	Context context.T

	match  func(*event.E) bool
	live   atomic.Bool
	eosed  atomic.Bool
	cancel context.C

	// events received before EOSE must be dispatched before the
	// EndOfStoredEvents signal fires
	storedwg sync.WaitGroup
}

// SubscriptionOption is the type of optional arguments to Subscribe.
type SubscriptionOption interface {
	IsSubscriptionOption()
}

// WithLabel appends a label to the generated subscription id sent to the
// relay, to ease debugging from relay logs.
type WithLabel string

// IsSubscriptionOption marks WithLabel as a SubscriptionOption.
func (WithLabel) IsSubscriptionOption() {}

var _ SubscriptionOption = WithLabel("")

func (sub *Subscription) start() {
	<-sub.Context.Done()
	sub.unsub(errors.New("subscription context done"))
	// hold the lock so we never close Events while a dispatch is sending
	sub.mu.Lock()
	close(sub.Events)
	sub.mu.Unlock()
}

// GetID returns the subscription ID as sent to the relay.
func (sub *Subscription) GetID() string { return sub.id }

func (sub *Subscription) dispatchEvent(evt *event.E) {
	added := false
	if !sub.eosed.Load() {
		sub.storedwg.Add(1)
		added = true
	}
	go func() {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		if sub.live.Load() {
			select {
			case sub.Events <- evt:
			case <-sub.Context.Done():
			}
		}
		if added {
			sub.storedwg.Done()
		}
	}()
}

func (sub *Subscription) dispatchEose() {
	if sub.eosed.CompareAndSwap(false, true) {
		sub.match = sub.Filters.MatchIgnoringTimestampConstraints
		go func() {
			sub.storedwg.Wait()
			select {
			case sub.EndOfStoredEvents <- struct{}{}:
			default:
			}
		}()
	}
}

func (sub *Subscription) handleClosed(reason string) {
	go func() {
		select {
		case sub.ClosedReason <- reason:
		default:
		}
		sub.live.Store(false)
		sub.unsub(fmt.Errorf("CLOSED received: %s", reason))
	}()
}

// Unsub closes the subscription, sending CLOSE to the relay.
func (sub *Subscription) Unsub() {
	sub.unsub(errors.New("Unsub() called"))
}

func (sub *Subscription) unsub(err error) {
	sub.cancel(err)
	if sub.live.CompareAndSwap(true, false) {
		sub.Close()
	}
	sub.Relay.Subscriptions.Delete(sub.counter)
}

// Close just sends a CLOSE message. Callers usually want Unsub instead.
func (sub *Subscription) Close() {
	if sub.Relay.IsConnected() {
		<-sub.Relay.Write(envelopes.CloseMessage(sub.id))
	}
}

// Fire sends the REQ to the relay.
func (sub *Subscription) Fire() (err error) {
	sub.live.Store(true)
	if err = <-sub.Relay.Write(
		envelopes.ReqMessage(sub.id, sub.Filters),
	); chk.E(err) {
		err = fmt.Errorf("failed to write REQ: %w", err)
		sub.cancel(err)
	}
	return
}
