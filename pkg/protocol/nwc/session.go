package nwc

import (
	"time"

	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/filter"
	"nwcly.dev/pkg/encoders/filters"
	"nwcly.dev/pkg/encoders/kind"
	"nwcly.dev/pkg/encoders/kinds"
	"nwcly.dev/pkg/protocol/ws"
	"nwcly.dev/pkg/utils/context"
	"nwcly.dev/pkg/utils/values"
)

// EventSink receives every event delivered by any relay session, tagged
// with the relay it arrived from.
type EventSink func(url string, ev *event.E)

// RetryConfig governs the retry behavior of session requests.
type RetryConfig struct {
	// RetryOnTimeout retries a request once after a timeout while the
	// connection still reports connected.
	RetryOnTimeout bool
}

// DefaultRetryConfig is the engine's baked-in retry policy: one retry on a
// single timeout while connected, no pre-request network checks.
var DefaultRetryConfig = &RetryConfig{RetryOnTimeout: true}

// QueryOutcomeKind tags the result of a session query or request.
type QueryOutcomeKind int

const (
	// QuerySuccess carries one or more events.
	QuerySuccess QueryOutcomeKind = iota
	// QueryTimeout means the deadline elapsed with nothing matching.
	QueryTimeout
	// QueryConnectionFailed means the relay connection gave out.
	QueryConnectionFailed
)

// QueryOutcome is the result of a session query or request-one-via call.
type QueryOutcome struct {
	Kind   QueryOutcomeKind
	Events event.S
	Err    error
}

// SharedSubscription is a long lived subscription handle that request
// dispatch attaches per-correlation waiters to.
type SharedSubscription interface {
	// ID returns the relay-visible subscription id.
	ID() string
	// Unsub tears the subscription down.
	Unsub()
}

// RelaySession is the per-relay contract the engine consumes.
type RelaySession interface {
	// URL returns the normalized relay URL.
	URL() string
	// Status returns the connection lifecycle state.
	Status() ws.Status
	// Subscribe opens a named subscription routed to the provider's sink.
	Subscribe(c context.T, id string, ff *filters.T) error
	// Unsubscribe closes a named subscription.
	Unsubscribe(id string)
	// CreateSharedSubscription opens the shared response subscription,
	// returning nil on timeout.
	CreateSharedSubscription(
		c context.T, ff *filters.T, timeout time.Duration,
	) (SharedSubscription, error)
	// Query collects stored events matching the filter.
	Query(
		c context.T, f *filter.F, timeout time.Duration, rc *RetryConfig,
	) *QueryOutcome
	// RequestOneVia publishes the request event and waits on the shared
	// subscription for at most one event correlated to correlationID.
	RequestOneVia(
		c context.T, sub SharedSubscription, ev *event.E,
		correlationID string, timeout time.Duration, rc *RetryConfig,
	) *QueryOutcome
}

// RelayHandle pairs a relay URL with its session.
type RelayHandle struct {
	URL     string
	Session RelaySession
}

// SessionProvider is the runtime contract the engine consumes: one logical
// session per relay of the credentials, a connection snapshot stream, and
// whole-pool publishing.
type SessionProvider interface {
	// Open connects every relay, wiring inbound events into the sink and
	// calling the configurator with each handle once connected.
	Open(c context.T, sink EventSink, configure func(h *RelayHandle)) error
	// RuntimeHandles lists the sessions that have been opened.
	RuntimeHandles() []*RelayHandle
	// EnsureRelay reconnects a single relay, for recovery.
	EnsureRelay(c context.T, url string) (*RelayHandle, error)
	// Publish sends the event to every relay; it succeeds if any accepts.
	Publish(c context.T, ev *event.E) error
	// PublishTo sends the event to one relay.
	PublishTo(c context.T, url string, ev *event.E) error
	// Authenticate passes a NIP-42 auth event through to one relay.
	Authenticate(c context.T, url string, ev *event.E) error
	// Snapshots streams connection state changes per relay.
	Snapshots() <-chan ConnectionSnapshot
	// Close disconnects everything the provider owns.
	Close() error
}

// ConnectionSnapshot is one relay's connection state at a point in time.
type ConnectionSnapshot struct {
	URL    string
	Status ws.Status
}

// OverallStatus summarizes the connection state across every relay.
type OverallStatus int

const (
	// OverallConnecting means nothing usable yet, nothing failed.
	OverallConnecting OverallStatus = iota
	// OverallReady means every relay is connected.
	OverallReady
	// OverallDegraded means some but not all relays are connected.
	OverallDegraded
	// OverallFailed means no relay is connected and at least one failed.
	OverallFailed
)

// String returns the name of the overall status.
func (s OverallStatus) String() string {
	switch s {
	case OverallReady:
		return "ready"
	case OverallDegraded:
		return "degraded"
	case OverallFailed:
		return "failed"
	}
	return "connecting"
}

// Aggregate folds per-relay statuses into an overall one: all connected is
// ready, any connected is degraded, otherwise any failure wins over a dial
// still in flight.
func Aggregate(statuses map[string]ws.Status) OverallStatus {
	if len(statuses) == 0 {
		return OverallConnecting
	}
	connected, failed := 0, 0
	for _, s := range statuses {
		switch s {
		case ws.Connected:
			connected++
		case ws.Failed:
			failed++
		}
	}
	switch {
	case connected == len(statuses):
		return OverallReady
	case connected > 0:
		return OverallDegraded
	case failed > 0:
		return OverallFailed
	}
	return OverallConnecting
}

// InfoFilter matches the wallet info event (kind 13194).
func InfoFilter(walletPub string) *filter.F {
	f := filter.New()
	f.Kinds = kinds.New(kind.WalletInfo)
	f.Authors = []string{walletPub}
	f.Limit = values.ToUintPointer(1)
	return f
}

// ResponseFilters matches wallet responses (kind 23195) addressed to the
// client.
func ResponseFilters(walletPub, clientPub string) *filters.T {
	f := filter.New()
	f.Kinds = kinds.New(kind.WalletResponse)
	f.Authors = []string{walletPub}
	f.Tags["p"] = []string{clientPub}
	return filters.New(f)
}

// NotificationFilters matches wallet notifications (kind 23197). Both a
// strict variant (p tag = client) and a permissive one (no p constraint)
// are installed, because some wallets omit the p tag on notifications.
func NotificationFilters(walletPub, clientPub string) *filters.T {
	strict := filter.New()
	strict.Kinds = kinds.New(kind.WalletNotification)
	strict.Authors = []string{walletPub}
	strict.Tags["p"] = []string{clientPub}
	permissive := filter.New()
	permissive.Kinds = kinds.New(kind.WalletNotification)
	permissive.Authors = []string{walletPub}
	return filters.New(strict, permissive)
}
