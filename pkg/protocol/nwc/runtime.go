package nwc

import (
	"errors"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/filter"
	"nwcly.dev/pkg/encoders/filters"
	"nwcly.dev/pkg/encoders/tag"
	"nwcly.dev/pkg/protocol/ws"
	"nwcly.dev/pkg/utils/context"
	"nwcly.dev/pkg/utils/errorf"
	"nwcly.dev/pkg/utils/log"
)

// Runtime is the websocket-backed SessionProvider: one relay session per
// credential relay, sharing a ws.Pool.
type Runtime struct {
	creds    *Credentials
	pool     *ws.Pool
	ownsPool bool

	sink      EventSink
	configure func(h *RelayHandle)

	sessions  *xsync.MapOf[string, *relaySession]
	snapshots chan ConnectionSnapshot

	ctx    context.T
	cancel context.C
}

// NewRuntime creates a session provider for the credentials. When pool is
// nil the runtime allocates and owns one; a caller-supplied pool is shared
// and left open on Close.
func NewRuntime(c context.T, creds *Credentials, pool *ws.Pool) *Runtime {
	ctx, cancel := context.Cause(c)
	owns := pool == nil
	if owns {
		pool = ws.NewPool(ctx)
	}
	return &Runtime{
		creds:     creds,
		pool:      pool,
		ownsPool:  owns,
		sessions:  xsync.NewMapOf[string, *relaySession](),
		snapshots: make(chan ConnectionSnapshot, 32),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (rt *Runtime) emit(url string, status ws.Status) {
	snap := ConnectionSnapshot{URL: url, Status: status}
	for {
		select {
		case rt.snapshots <- snap:
			return
		default:
		}
		// drop the oldest snapshot rather than block
		select {
		case <-rt.snapshots:
		default:
		}
	}
}

// Open dials every relay in parallel, wiring events into the sink and
// calling the configurator per connected relay. It returns once every dial
// attempt has resolved; individual failures are reflected in the snapshot
// stream rather than aborting the whole open.
func (rt *Runtime) Open(
	c context.T, sink EventSink, configure func(h *RelayHandle),
) (err error) {
	rt.sink = sink
	rt.configure = configure
	relays := rt.creds.NormalizedRelays()
	if len(relays) == 0 {
		return errorf.E("credentials contain no usable relays")
	}
	var wg sync.WaitGroup
	for _, url := range relays {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if _, e := rt.EnsureRelay(c, url); e != nil {
				log.D.F("{%s} open: %v", url, e)
			}
		}(url)
	}
	wg.Wait()
	return nil
}

// EnsureRelay connects (or reconnects) a single relay session.
func (rt *Runtime) EnsureRelay(c context.T, url string) (
	h *RelayHandle, err error,
) {
	if existing, ok := rt.sessions.Load(url); ok &&
		existing.relay.IsConnected() {
		return &RelayHandle{URL: url, Session: existing}, nil
	}
	rt.emit(url, ws.Connecting)
	var relay *ws.Client
	if relay, err = rt.pool.EnsureRelay(url); err != nil {
		rt.emit(url, ws.Failed)
		return
	}
	s := &relaySession{url: url, rt: rt, relay: relay}
	rt.sessions.Store(url, s)
	rt.emit(url, ws.Connected)
	go func() {
		<-relay.Context().Done()
		rt.emit(url, ws.Disconnected)
	}()
	h = &RelayHandle{URL: url, Session: s}
	if rt.configure != nil {
		rt.configure(h)
	}
	return
}

// RuntimeHandles lists the opened relay sessions in credential order.
func (rt *Runtime) RuntimeHandles() (handles []*RelayHandle) {
	for _, url := range rt.creds.NormalizedRelays() {
		if s, ok := rt.sessions.Load(url); ok {
			handles = append(handles, &RelayHandle{URL: url, Session: s})
		}
	}
	return
}

// Publish sends the event to every relay, succeeding when any accepts it.
func (rt *Runtime) Publish(c context.T, ev *event.E) error {
	return rt.pool.PublishMany(c, rt.creds.NormalizedRelays(), ev)
}

// PublishTo sends the event to a single relay.
func (rt *Runtime) PublishTo(c context.T, url string, ev *event.E) error {
	relay, err := rt.pool.EnsureRelay(url)
	if err != nil {
		return err
	}
	return relay.Publish(c, ev)
}

// Authenticate passes a ready-made NIP-42 auth event to a single relay.
func (rt *Runtime) Authenticate(
	c context.T, url string, ev *event.E,
) error {
	relay, err := rt.pool.EnsureRelay(url)
	if err != nil {
		return err
	}
	return relay.AuthEvent(c, ev)
}

// Snapshots streams connection state changes per relay.
func (rt *Runtime) Snapshots() <-chan ConnectionSnapshot {
	return rt.snapshots
}

// Close tears down every session and, when owned, the pool beneath them.
func (rt *Runtime) Close() error {
	rt.cancel(errors.New("runtime closed"))
	for url, s := range rt.sessions.Range {
		s.closeAll()
		rt.sessions.Delete(url)
	}
	if rt.ownsPool {
		rt.pool.Close(errors.New("runtime closed"))
	}
	return nil
}

// relaySession implements RelaySession over a ws.Client.
type relaySession struct {
	url   string
	rt    *Runtime
	relay *ws.Client

	mu    sync.Mutex
	named map[string]*ws.Subscription
}

// URL returns the normalized relay URL.
func (s *relaySession) URL() string { return s.url }

// Status returns the connection lifecycle state.
func (s *relaySession) Status() ws.Status { return s.relay.Status() }

// Subscribe opens a named subscription whose events flow into the runtime
// sink.
func (s *relaySession) Subscribe(
	c context.T, id string, ff *filters.T,
) (err error) {
	var sub *ws.Subscription
	if sub, err = s.relay.Subscribe(c, ff, ws.WithLabel(id)); err != nil {
		return
	}
	s.mu.Lock()
	if s.named == nil {
		s.named = make(map[string]*ws.Subscription)
	}
	if old, dup := s.named[id]; dup {
		old.Unsub()
	}
	s.named[id] = sub
	s.mu.Unlock()
	go func() {
		for ev := range sub.Events {
			if ev == nil {
				continue
			}
			s.rt.sink(s.url, ev)
		}
	}()
	return
}

// Unsubscribe closes a named subscription.
func (s *relaySession) Unsubscribe(id string) {
	s.mu.Lock()
	sub, ok := s.named[id]
	delete(s.named, id)
	s.mu.Unlock()
	if ok {
		sub.Unsub()
	}
}

func (s *relaySession) closeAll() {
	s.mu.Lock()
	subs := s.named
	s.named = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsub()
	}
}

// sharedSub is the concrete shared response subscription: events matching a
// registered correlation waiter are handed to it, and everything is passed
// through to the sink.
type sharedSub struct {
	session *relaySession
	sub     *ws.Subscription
	waiters *xsync.MapOf[string, chan *event.E]
}

// ID returns the relay-visible subscription id.
func (ss *sharedSub) ID() string { return ss.sub.GetID() }

// Unsub tears the subscription down.
func (ss *sharedSub) Unsub() { ss.sub.Unsub() }

func (ss *sharedSub) run() {
	for ev := range ss.sub.Events {
		if ev == nil {
			continue
		}
		if eTag := ev.Tags.GetFirst(tag.New("e")); eTag != nil {
			if ch, ok := ss.waiters.Load(eTag.Value()); ok {
				select {
				case ch <- ev:
				default:
				}
			}
		}
		ss.session.rt.sink(ss.session.url, ev)
	}
}

// CreateSharedSubscription opens the shared response subscription and waits
// for the relay to acknowledge it with EOSE. On timeout it returns nil
// without error so the caller can park the relay for recovery.
func (s *relaySession) CreateSharedSubscription(
	c context.T, ff *filters.T, timeout time.Duration,
) (SharedSubscription, error) {
	// the subscription must outlive the creation deadline, so it hangs off
	// the runtime context and is only ended by Unsub
	sub, err := s.relay.Subscribe(s.rt.ctx, ff, ws.WithLabel("nwc-resp"))
	if err != nil {
		return nil, err
	}
	ss := &sharedSub{
		session: s,
		sub:     sub,
		waiters: xsync.NewMapOf[string, chan *event.E](),
	}
	go ss.run()
	select {
	case <-sub.EndOfStoredEvents:
		return ss, nil
	case reason := <-sub.ClosedReason:
		sub.Unsub()
		return nil, errorf.D("{%s} subscription refused: %s", s.url, reason)
	case <-time.After(timeout):
		sub.Unsub()
		return nil, nil
	case <-c.Done():
		sub.Unsub()
		return nil, c.Err()
	}
}

// Query collects stored events matching the filter, classifying the outcome
// into success, timeout or connection failure.
func (s *relaySession) Query(
	c context.T, f *filter.F, timeout time.Duration, rc *RetryConfig,
) *QueryOutcome {
	attempt := func() *QueryOutcome {
		ctx, cancel := context.Timeout(c, timeout)
		defer cancel()
		evs, err := s.relay.QuerySync(ctx, f)
		switch {
		case err == nil && len(evs) > 0:
			return &QueryOutcome{Kind: QuerySuccess, Events: evs}
		case !s.relay.IsConnected():
			return &QueryOutcome{
				Kind: QueryConnectionFailed, Err: s.relay.ConnectionError,
			}
		case ctx.Err() != nil || err == nil:
			// nothing arrived before the deadline
			return &QueryOutcome{Kind: QueryTimeout}
		}
		return &QueryOutcome{Kind: QueryConnectionFailed, Err: err}
	}
	out := attempt()
	if out.Kind == QueryTimeout && rc != nil && rc.RetryOnTimeout &&
		s.Status() == ws.Connected && c.Err() == nil {
		out = attempt()
	}
	return out
}

// RequestOneVia publishes the request event to this relay and waits on the
// shared subscription for the response correlated to correlationID. A write
// confirmation timeout is not a failure; only the deadline and the
// connection dropping are.
func (s *relaySession) RequestOneVia(
	c context.T, sub SharedSubscription, ev *event.E, correlationID string,
	timeout time.Duration, rc *RetryConfig,
) *QueryOutcome {
	ss, ok := sub.(*sharedSub)
	if !ok || ss.session != s {
		return &QueryOutcome{
			Kind: QueryConnectionFailed,
			Err:  errorf.E("shared subscription does not belong to %s", s.url),
		}
	}
	ch := make(chan *event.E, 1)
	ss.waiters.Store(correlationID, ch)
	defer ss.waiters.Delete(correlationID)
	attempt := func() *QueryOutcome {
		ctx, cancel := context.Timeout(c, timeout)
		defer cancel()
		go func() {
			// the OK may lag or never come; the response subscription is
			// what decides the outcome
			if err := s.relay.Publish(ctx, ev); err != nil {
				log.T.F("{%s} publish %s: %v", s.url, ev.ID, err)
			}
		}()
		select {
		case got := <-ch:
			return &QueryOutcome{Kind: QuerySuccess, Events: event.S{got}}
		case <-s.relay.Context().Done():
			return &QueryOutcome{
				Kind: QueryConnectionFailed, Err: s.relay.ConnectionError,
			}
		case <-ctx.Done():
			return &QueryOutcome{Kind: QueryTimeout}
		}
	}
	out := attempt()
	if out.Kind == QueryTimeout && rc != nil && rc.RetryOnTimeout &&
		s.Status() == ws.Connected && c.Err() == nil {
		out = attempt()
	}
	return out
}

var _ SessionProvider = (*Runtime)(nil)
var _ RelaySession = (*relaySession)(nil)
