package ws

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"nwcly.dev/pkg/encoders/envelopes"
	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/filter"
	"nwcly.dev/pkg/encoders/filters"
	"nwcly.dev/pkg/encoders/kind"
	"nwcly.dev/pkg/encoders/tag"
	"nwcly.dev/pkg/encoders/tags"
	"nwcly.dev/pkg/interfaces/signer"
	"nwcly.dev/pkg/utils/chk"
	"nwcly.dev/pkg/utils/context"
	"nwcly.dev/pkg/utils/log"
	"nwcly.dev/pkg/utils/normalize"
)

var subscriptionIDCounter atomic.Int64

// Client represents a connection to a nostr relay.
type Client struct {
	closeMutex sync.Mutex

	URL           string
	requestHeader http.Header // e.g. for origin header

	Connection    *Connection
	Subscriptions *xsync.MapOf[int64, *Subscription]

	ConnectionError         error
	connectionContext       context.T // canceled when the connection closes
	connectionContextCancel context.C

	challenge     string       // NIP-42 challenge, only the last is kept
	noticeHandler func(string) // NIP-01 NOTICEs
	statusHandler func(Status) // connection lifecycle updates
	okCallbacks   *xsync.MapOf[string, func(bool, string)]
	writeQueue    chan writeRequest

	status atomic.Int32

	// AssumeValid skips signature verification on received events.
	AssumeValid bool
}

type writeRequest struct {
	msg    []byte
	answer chan error
}

// NewRelay returns a new relay client. The given context, when canceled,
// closes the relay connection.
func NewRelay(ctx context.T, url string, opts ...RelayOption) *Client {
	ctx, cancel := context.Cause(ctx)
	r := &Client{
		URL:                     normalize.URL(url),
		connectionContext:       ctx,
		connectionContextCancel: cancel,
		Subscriptions:           xsync.NewMapOf[int64, *Subscription](),
		okCallbacks:             xsync.NewMapOf[string, func(bool, string)](),
		writeQueue:              make(chan writeRequest),
	}
	for _, opt := range opts {
		opt.ApplyRelayOption(r)
	}
	return r
}

// RelayConnect returns a relay client connected to url. The given context is
// only used during the connection phase.
func RelayConnect(ctx context.T, url string, opts ...RelayOption) (
	*Client, error,
) {
	r := NewRelay(context.Bg(), url, opts...)
	err := r.Connect(ctx)
	return r, err
}

// RelayOption is the type of the argument passed when instantiating relay
// connections.
type RelayOption interface {
	ApplyRelayOption(*Client)
}

var (
	_ RelayOption = (WithNoticeHandler)(nil)
	_ RelayOption = (WithStatusHandler)(nil)
	_ RelayOption = (WithRequestHeader)(nil)
)

// WithNoticeHandler just takes notices and is expected to do something with
// them. When not given, notices are logged.
type WithNoticeHandler func(notice string)

// ApplyRelayOption sets the notice handler.
func (nh WithNoticeHandler) ApplyRelayOption(r *Client) {
	r.noticeHandler = nh
}

// WithStatusHandler receives every connection status change.
type WithStatusHandler func(status Status)

// ApplyRelayOption sets the status handler.
func (sh WithStatusHandler) ApplyRelayOption(r *Client) {
	r.statusHandler = sh
}

// WithRequestHeader sets the HTTP request header of the websocket preflight
// request.
type WithRequestHeader http.Header

// ApplyRelayOption sets the preflight request header.
func (ch WithRequestHeader) ApplyRelayOption(r *Client) {
	r.requestHeader = http.Header(ch)
}

// String just returns the relay URL.
func (r *Client) String() string { return r.URL }

// Context retrieves the context associated with this relay connection. It is
// done when the relay is disconnected.
func (r *Client) Context() context.T { return r.connectionContext }

// IsConnected returns true if the connection to this relay seems active.
func (r *Client) IsConnected() bool { return r.connectionContext.Err() == nil }

// Status returns the current connection lifecycle state.
func (r *Client) Status() Status { return Status(r.status.Load()) }

func (r *Client) setStatus(s Status) {
	r.status.Store(int32(s))
	if r.statusHandler != nil {
		r.statusHandler(s)
	}
}

func subIdToSerial(subId string) int64 {
	n := strings.Index(subId, ":")
	if n < 0 {
		return -1
	}
	serial, _ := strconv.ParseInt(subId[0:n], 10, 64)
	return serial
}

// Connect tries to establish a websocket connection to r.URL. If the context
// expires before the connection completes, an error is returned. Once
// connected, context expiration has no effect: call r.Close to disconnect.
func (r *Client) Connect(ctx context.T) (err error) {
	if r.connectionContext == nil || r.Subscriptions == nil {
		return fmt.Errorf("relay must be initialized with a call to NewRelay()")
	}
	if r.URL == "" {
		return fmt.Errorf("invalid relay URL '%s'", r.URL)
	}
	if _, ok := ctx.Deadline(); !ok {
		// if no timeout is set, force it to 7 seconds
		var cancel context.F
		ctx, cancel = context.TimeoutCause(
			ctx, 7*time.Second, errors.New("connection took too long"),
		)
		defer cancel()
	}
	r.setStatus(Connecting)
	var conn *Connection
	if conn, err = NewConnection(ctx, r.URL, r.requestHeader); err != nil {
		r.setStatus(Failed)
		return fmt.Errorf("error opening websocket to '%s': %w", r.URL, err)
	}
	r.Connection = conn
	r.setStatus(Connected)
	// ping every 29 seconds
	ticker := time.NewTicker(29 * time.Second)
	// all writes are queued here so they never race on the socket
	go func() {
		for {
			select {
			case <-r.connectionContext.Done():
				ticker.Stop()
				r.Connection = nil
				for _, sub := range r.Subscriptions.Range {
					sub.unsub(
						fmt.Errorf(
							"relay connection closed: %w / %w",
							context.GetCause(r.connectionContext),
							r.ConnectionError,
						),
					)
				}
				return
			case <-ticker.C:
				err := conn.Ping(r.connectionContext)
				if err != nil && !strings.Contains(
					err.Error(), "failed to wait for pong",
				) {
					log.T.C(
						func() string {
							return fmt.Sprintf(
								"{%s} error writing ping: %v; closing websocket",
								r.URL, err,
							)
						},
					)
					r.Close()
					return
				}
			case wr := <-r.writeQueue:
				log.T.C(
					func() string {
						return fmt.Sprintf(
							"{%s} sending %s", r.URL, string(wr.msg),
						)
					},
				)
				if err := conn.WriteMessage(
					r.connectionContext, wr.msg,
				); err != nil {
					wr.answer <- err
				}
				close(wr.answer)
			}
		}
	}()
	// general message reader loop
	go func() {
		for {
			buf, err := conn.ReadMessage(r.connectionContext)
			if err != nil {
				r.ConnectionError = err
				r.close(err)
				r.setStatus(Disconnected)
				break
			}
			env, err := envelopes.Parse(buf)
			if err != nil {
				log.D.F("{%s} unparseable message: %v", r.URL, err)
				continue
			}
			switch e := env.(type) {
			case *envelopes.Notice:
				if r.noticeHandler != nil {
					r.noticeHandler(e.Message)
				} else {
					log.D.F("NOTICE from %s: '%s'", r.URL, e.Message)
				}
			case *envelopes.AuthChallenge:
				if e.Challenge == "" {
					continue
				}
				r.challenge = e.Challenge
			case *envelopes.Event:
				sub, ok := r.Subscriptions.Load(subIdToSerial(e.SubID))
				if !ok {
					log.T.F(
						"{%s} unknown subscription with id '%s'", r.URL,
						e.SubID,
					)
					continue
				}
				if !sub.match(e.Event) {
					log.T.F(
						"{%s} event %s does not match subscription %s",
						r.URL, e.Event.ID, e.SubID,
					)
					continue
				}
				if !r.AssumeValid {
					if ok, err = e.Event.Verify(); !ok || chk.T(err) {
						log.T.F(
							"{%s} bad signature on %s", r.URL, e.Event.ID,
						)
						continue
					}
				}
				sub.dispatchEvent(e.Event)
			case *envelopes.Eose:
				sub, ok := r.Subscriptions.Load(subIdToSerial(e.SubID))
				if !ok {
					continue
				}
				sub.dispatchEose()
			case *envelopes.Closed:
				sub, ok := r.Subscriptions.Load(subIdToSerial(e.SubID))
				if !ok {
					continue
				}
				sub.handleClosed(e.Reason)
			case *envelopes.Ok:
				if cb, exists := r.okCallbacks.Load(e.EventID); exists {
					cb(e.OK, e.Reason)
				} else {
					log.T.F(
						"{%s} unexpected OK for event %s", r.URL, e.EventID,
					)
				}
			}
		}
	}()
	return
}

// Write queues an arbitrary message to be sent to the relay.
func (r *Client) Write(msg []byte) <-chan error {
	ch := make(chan error, 1)
	select {
	case r.writeQueue <- writeRequest{msg: msg, answer: ch}:
	case <-r.connectionContext.Done():
		ch <- fmt.Errorf("connection closed")
	}
	return ch
}

// Publish sends an EVENT command to the relay as in NIP-01 and waits for an
// OK response.
func (r *Client) Publish(ctx context.T, ev *event.E) error {
	return r.publish(ctx, ev.ID, envelopes.EventMessage(ev))
}

// Auth signs the last received NIP-42 challenge and sends it as an AUTH
// command, waiting for the OK.
func (r *Client) Auth(ctx context.T, sign signer.I) (err error) {
	authEvent := &event.E{
		Kind: kind.ClientAuthentication,
		Tags: tags.New(
			tag.New("relay", r.URL),
			tag.New("challenge", r.challenge),
		),
	}
	if err = authEvent.Sign(sign); chk.E(err) {
		return fmt.Errorf("error signing auth event: %w", err)
	}
	return r.publish(ctx, authEvent.ID, envelopes.AuthMessage(authEvent))
}

// AuthEvent sends a ready-made NIP-42 auth event, for callers that build
// their own.
func (r *Client) AuthEvent(ctx context.T, ev *event.E) (err error) {
	return r.publish(ctx, ev.ID, envelopes.AuthMessage(ev))
}

func (r *Client) publish(ctx context.T, id string, msg []byte) error {
	var err error
	var cancel context.F
	if _, ok := ctx.Deadline(); !ok {
		// if no timeout is set, force it to 7 seconds
		ctx, cancel = context.TimeoutCause(
			ctx, 7*time.Second, fmt.Errorf("given up waiting for an OK"),
		)
		defer cancel()
	} else {
		// otherwise make the context cancellable so we can stop waiting as
		// soon as the OK arrives
		ctx, cancel = context.Cancel(ctx)
		defer cancel()
	}
	gotOk := false
	r.okCallbacks.Store(
		id, func(ok bool, reason string) {
			gotOk = true
			if !ok {
				err = fmt.Errorf("msg: %s", reason)
			}
			cancel()
		},
	)
	defer r.okCallbacks.Delete(id)
	if err = <-r.Write(msg); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			// either the OK arrived or the context expired
			if gotOk {
				return err
			}
			return ctx.Err()
		case <-r.connectionContext.Done():
			// we lost connectivity
			return err
		}
	}
}

// Subscribe sends a REQ command to the relay as in NIP-01. Events come
// through sub.Events. Remember to call Unsub, or cancel the context, or the
// goroutines pile up.
func (r *Client) Subscribe(
	ctx context.T, ff *filters.T, opts ...SubscriptionOption,
) (sub *Subscription, err error) {
	sub = r.PrepareSubscription(ctx, ff, opts...)
	if r.Connection == nil {
		return nil, fmt.Errorf("not connected to %s", r.URL)
	}
	if err = sub.Fire(); err != nil {
		return nil, fmt.Errorf("couldn't subscribe at %s: %w", r.URL, err)
	}
	return
}

// PrepareSubscription creates a subscription but doesn't fire it.
func (r *Client) PrepareSubscription(
	ctx context.T, ff *filters.T, opts ...SubscriptionOption,
) *Subscription {
	current := subscriptionIDCounter.Add(1)
	ctx, cancel := context.Cause(ctx)
	sub := &Subscription{
		Relay:             r,
		Context:           ctx,
		cancel:            cancel,
		counter:           current,
		Events:            make(event.C),
		EndOfStoredEvents: make(chan struct{}, 1),
		ClosedReason:      make(chan string, 1),
		Filters:           ff,
		match:             ff.Match,
	}
	label := ""
	for _, opt := range opts {
		if o, ok := opt.(WithLabel); ok {
			label = string(o)
		}
	}
	sub.id = strconv.FormatInt(current, 10) + ":" + label
	r.Subscriptions.Store(current, sub)
	go sub.start()
	return sub
}

// QueryEvents subscribes to events matching the given filter and returns a
// channel of events, closed on EOSE or context end.
func (r *Client) QueryEvents(ctx context.T, f *filter.F) (
	evc event.C, err error,
) {
	var sub *Subscription
	if sub, err = r.Subscribe(ctx, filters.New(f)); err != nil {
		return
	}
	go func() {
		select {
		case <-sub.ClosedReason:
		case <-sub.EndOfStoredEvents:
		case <-ctx.Done():
		case <-r.Context().Done():
		}
		sub.unsub(errors.New("QueryEvents() ended"))
	}()
	return sub.Events, nil
}

// QuerySync subscribes with the given filter and collects events until EOSE
// or context end. The filter must carry a limit to prevent blocking forever.
func (r *Client) QuerySync(ctx context.T, f *filter.F) (
	evs event.S, err error,
) {
	if f.Limit == nil {
		err = errors.New("limit must be set for a sync query")
		return
	}
	if _, ok := ctx.Deadline(); !ok {
		// if no timeout is set, force it to 7 seconds
		var cancel context.F
		ctx, cancel = context.TimeoutCause(
			ctx, 7*time.Second, errors.New("QuerySync() took too long"),
		)
		defer cancel()
	}
	var ch event.C
	if ch, err = r.QueryEvents(ctx, f); err != nil {
		return
	}
	evs = make(event.S, 0, *f.Limit)
	for ev := range ch {
		evs = append(evs, ev)
	}
	return
}

// Close closes the relay connection.
func (r *Client) Close() error {
	return r.close(errors.New("relay connection closed"))
}

func (r *Client) close(reason error) error {
	r.closeMutex.Lock()
	defer r.closeMutex.Unlock()
	if r.connectionContextCancel == nil {
		return fmt.Errorf("relay already closed")
	}
	r.setStatus(Disconnecting)
	r.connectionContextCancel(reason)
	r.connectionContextCancel = nil
	if r.Connection == nil {
		r.setStatus(Disconnected)
		return fmt.Errorf("relay not connected")
	}
	err := r.Connection.Close()
	r.setStatus(Disconnected)
	if err != nil {
		return err
	}
	return nil
}
