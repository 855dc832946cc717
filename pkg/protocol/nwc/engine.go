package nwc

import (
	"strconv"
	"time"

	"lukechampine.com/frand"

	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/hex"
	"nwcly.dev/pkg/encoders/kind"
	"nwcly.dev/pkg/encoders/tag"
	"nwcly.dev/pkg/encoders/tags"
	"nwcly.dev/pkg/encoders/timestamp"
	"nwcly.dev/pkg/utils/context"
	"nwcly.dev/pkg/utils/log"
)

// noteEventIDKey carries an optional callback through the context that
// receives the request event ID as soon as it is known, for observable
// handles.
type noteEventIDKey struct{}

func noteEventID(c context.T, id string) {
	if note, ok := c.Value(noteEventIDKey{}).(func(string)); ok {
		note(id)
	}
}

// buildRequestEvent encrypts the request body under the active scheme and
// wraps it in a signed kind 23194 event. The event ID is the correlation ID
// responses will carry in their e tag.
func (cl *Client) buildRequestEvent(
	method Capability, params any, scheme EncryptionScheme,
) (ev *event.E, err error) {
	var body []byte
	if body, err = EncodeRequest(method, params); err != nil {
		return
	}
	var content string
	if content, err = cl.cipher.Encrypt(body, scheme); err != nil {
		return
	}
	tt := tags.New(
		tag.New("p", cl.creds.WalletPubkey),
		tag.New("encryption", string(scheme)),
	)
	if cl.requestExpiry > 0 {
		expires := time.Now().Add(cl.requestExpiry).Unix()
		tt = tt.Append(
			tag.New("expiration", strconv.FormatInt(expires, 10)),
		)
	}
	ev = &event.E{
		Content:   content,
		CreatedAt: timestamp.Now(),
		Kind:      kind.WalletRequest,
		Tags:      tt,
	}
	if err = ev.Sign(cl.signer); err != nil {
		return nil, err
	}
	return
}

// remainingBudget returns the per-attempt timeout for a relay request: half
// the remaining deadline when there is room for the baked-in single retry,
// otherwise everything left.
func remainingBudget(c context.T) time.Duration {
	d, ok := c.Deadline()
	if !ok {
		return defaultRequestTimeout
	}
	remaining := time.Until(d)
	if remaining > 2*time.Second {
		return remaining / 2
	}
	return remaining
}

// raceRelays dispatches the request on every ready relay and returns the
// first success, cancelling the losers. When everything fails, a timeout
// outcome is preferred over a connection failure, defaulting to timeout.
func (cl *Client) raceRelays(
	c context.T, ready []readyRelay, ev *event.E, correlationID string,
) *QueryOutcome {
	ctx, cancel := context.Cancel(c)
	defer cancel()
	results := make(chan *QueryOutcome, len(ready))
	budget := remainingBudget(c)
	for _, rr := range ready {
		go func(rr readyRelay) {
			results <- rr.handle.Session.RequestOneVia(
				ctx, rr.shared, ev, correlationID, budget,
				DefaultRetryConfig,
			)
		}(rr)
	}
	var sawTimeout, sawConnFailed *QueryOutcome
	for range ready {
		o := <-results
		switch o.Kind {
		case QuerySuccess:
			return o
		case QueryTimeout:
			if sawTimeout == nil {
				sawTimeout = o
			}
		case QueryConnectionFailed:
			if sawConnFailed == nil {
				sawConnFailed = o
			}
		}
	}
	if sawTimeout != nil {
		return sawTimeout
	}
	if sawConnFailed != nil {
		return sawConnFailed
	}
	return &QueryOutcome{Kind: QueryTimeout}
}

// decodeResponseEvent turns a raw response event into a wire response,
// enforcing kind and authorship.
func (cl *Client) decodeResponseEvent(ev *event.E) (
	resp *WireResponse, err error,
) {
	if !ev.Kind.Equal(kind.WalletResponse) {
		return nil, &ProtocolError{
			Msg: "unexpected event kind " + ev.Kind.String(),
		}
	}
	if !cl.authentic(ev) {
		return nil, &ProtocolError{Msg: "response not authored by wallet"}
	}
	var plain []byte
	if plain, err = cl.cipher.DecryptEvent(
		ev, cl.activeScheme(), cl.Metadata(),
	); err != nil {
		return nil, AsFailure(err)
	}
	return DecodeResponse(plain)
}

// roundTrip runs the single-request path: build, register, race, decode.
func (cl *Client) roundTrip(
	c context.T, method Capability, params any,
) (resp *WireResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, recoverFailure(r)
		}
	}()
	c, cancel := cl.ensureDeadline(c)
	defer cancel()
	var ready []readyRelay
	if ready, err = cl.lifecycle.AwaitReady(c); err != nil {
		return nil, AsFailure(err)
	}
	if len(ready) == 0 {
		return nil, &NetworkError{
			Msg: "no response subscriptions available",
		}
	}
	scheme := cl.activeScheme()
	var ev *event.E
	if ev, err = cl.buildRequestEvent(method, params, scheme); err != nil {
		return nil, AsFailure(err)
	}
	noteEventID(c, ev.ID)
	ch, err := cl.registry.RegisterSingle(ev.ID, method)
	if err != nil {
		return nil, AsFailure(err)
	}
	defer cl.registry.Deregister(ev.ID)
	rctx, rcancel := context.Cancel(c)
	defer rcancel()
	raceDone := make(chan *QueryOutcome, 1)
	go func() { raceDone <- cl.raceRelays(rctx, ready, ev, ev.ID) }()
	select {
	case got, ok := <-ch:
		// the router correlated and decoded the response first
		if !ok || got == nil {
			return nil, &UnknownError{Msg: "request cancelled"}
		}
		return got, nil
	case o := <-raceDone:
		switch o.Kind {
		case QuerySuccess:
			return cl.decodeResponseEvent(o.Events[0])
		case QueryConnectionFailed:
			return nil, &NetworkError{
				Msg:   "all relays failed",
				Cause: o.Err,
			}
		}
		return nil, &TimeoutError{
			Msg: "no response before the deadline for " + string(method),
		}
	case <-c.Done():
		return nil, &TimeoutError{
			Msg: "deadline elapsed awaiting " + string(method),
		}
	}
}

// roundTripMulti runs the batched path: one request event answered by one
// response event per expected key.
func (cl *Client) roundTripMulti(
	c context.T, method Capability, params any, keys []string,
) (results map[string]*WireResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			results, err = nil, recoverFailure(r)
		}
	}()
	c, cancel := cl.ensureDeadline(c)
	defer cancel()
	var ready []readyRelay
	if ready, err = cl.lifecycle.AwaitReady(c); err != nil {
		return nil, AsFailure(err)
	}
	if len(ready) == 0 {
		return nil, &NetworkError{
			Msg: "no response subscriptions available",
		}
	}
	scheme := cl.activeScheme()
	var ev *event.E
	if ev, err = cl.buildRequestEvent(method, params, scheme); err != nil {
		return nil, AsFailure(err)
	}
	noteEventID(c, ev.ID)
	ch, err := cl.registry.RegisterMulti(ev.ID, method, keys)
	if err != nil {
		return nil, AsFailure(err)
	}
	defer cl.registry.Deregister(ev.ID)
	rctx, rcancel := context.Cancel(c)
	defer rcancel()
	raceDone := make(chan *QueryOutcome, 1)
	go func() { raceDone <- cl.raceRelays(rctx, ready, ev, ev.ID) }()
	for {
		select {
		case got, ok := <-ch:
			if !ok || got == nil {
				return nil, &UnknownError{Msg: "request cancelled"}
			}
			return got, nil
		case o := <-raceDone:
			switch o.Kind {
			case QuerySuccess:
				// the remaining item responses arrive through the shared
				// subscription; feed the first one with the known
				// correlation in case it lacks an e tag
				cl.handleResponseEvent("", o.Events[0], ev.ID)
			case QueryConnectionFailed:
				return nil, &NetworkError{
					Msg:   "all relays failed",
					Cause: o.Err,
				}
			default:
				log.T.F(
					"multi request %s still awaiting items after race "+
						"timeout", ev.ID,
				)
			}
			raceDone = nil
		case <-c.Done():
			return nil, &TimeoutError{
				Msg: "deadline elapsed awaiting " + string(method),
			}
		}
	}
}

// newItemID makes a random 8 byte hex id for a batch item the caller left
// unnamed.
func newItemID() string { return hex.Enc(frand.Bytes(8)) }
