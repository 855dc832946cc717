package ws

import (
	"github.com/puzpuzpuz/xsync/v3"

	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/filters"
	"nwcly.dev/pkg/interfaces/signer"
	"nwcly.dev/pkg/utils/chk"
	"nwcly.dev/pkg/utils/context"
	"nwcly.dev/pkg/utils/log"
	"nwcly.dev/pkg/utils/normalize"
)

// Pool keeps one relay client per normalized URL, dialing lazily.
type Pool struct {
	Relays  *xsync.MapOf[string, *Client]
	Context context.T

	cancel          context.C
	authSigner      signer.I
	eventMiddleware func(RelayEvent)
	relayOpts       []RelayOption
}

// RelayEvent is an event paired with the relay it arrived from.
type RelayEvent struct {
	Event *event.E
	Relay *Client
}

// PoolOption is the type of the argument passed when instantiating a pool.
type PoolOption interface {
	ApplyPoolOption(*Pool)
}

// WithAuthSigner makes the pool answer NIP-42 challenges with the given
// identity when a relay demands auth.
type WithAuthSigner struct{ Signer signer.I }

// ApplyPoolOption sets the auth signer.
func (w WithAuthSigner) ApplyPoolOption(p *Pool) { p.authSigner = w.Signer }

// WithEventMiddleware calls the given function for every event received
// through SubMany before it is forwarded.
type WithEventMiddleware func(RelayEvent)

// ApplyPoolOption sets the event middleware.
func (w WithEventMiddleware) ApplyPoolOption(p *Pool) {
	p.eventMiddleware = w
}

// WithRelayOptions passes relay options through to every dialed relay.
type WithRelayOptions []RelayOption

// ApplyPoolOption sets the relay options.
func (w WithRelayOptions) ApplyPoolOption(p *Pool) {
	p.relayOpts = []RelayOption(w)
}

// NewPool creates a pool of relay clients sharing the given context.
func NewPool(c context.T, opts ...PoolOption) *Pool {
	ctx, cancel := context.Cause(c)
	p := &Pool{
		Relays:  xsync.NewMapOf[string, *Client](),
		Context: ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt.ApplyPoolOption(p)
	}
	return p
}

// EnsureRelay returns the pool's client for the URL, dialing it if it is not
// yet connected.
func (p *Pool) EnsureRelay(url string) (r *Client, err error) {
	nm := normalize.URL(url)
	if nm == "" {
		return nil, errInvalidURL(url)
	}
	if existing, ok := p.Relays.Load(nm); ok && existing.IsConnected() {
		return existing, nil
	}
	ctx, cancel := context.Timeout(p.Context, defaultDialTimeout)
	defer cancel()
	if r, err = RelayConnect(ctx, nm, p.relayOpts...); err != nil {
		return nil, err
	}
	p.Relays.Store(nm, r)
	return
}

// SubMany opens the same subscription on all the given relays and merges the
// events into a single channel, closed when the context ends.
func (p *Pool) SubMany(
	c context.T, urls []string, ff *filters.T,
) chan RelayEvent {
	out := make(chan RelayEvent)
	ctx, cancel := context.Cancel(c)
	pending := make(chan struct{}, len(urls))
	for _, url := range urls {
		go func(url string) {
			defer func() { pending <- struct{}{} }()
			relay, err := p.EnsureRelay(url)
			if chk.D(err) {
				return
			}
			sub, err := relay.Subscribe(ctx, ff)
			if chk.D(err) {
				return
			}
			for {
				select {
				case ev, ok := <-sub.Events:
					if !ok || ev == nil {
						return
					}
					re := RelayEvent{Event: ev, Relay: relay}
					if p.eventMiddleware != nil {
						p.eventMiddleware(re)
					}
					select {
					case out <- re:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(url)
	}
	go func() {
		for range urls {
			<-pending
		}
		cancel()
		close(out)
	}()
	return out
}

// PublishMany publishes the event to all the given relays, succeeding when
// at least one accepts it; otherwise the last error is returned.
func (p *Pool) PublishMany(
	c context.T, urls []string, ev *event.E,
) (err error) {
	ok := false
	for _, url := range urls {
		relay, e := p.EnsureRelay(url)
		if e != nil {
			err = e
			continue
		}
		if e = relay.Publish(c, ev); e != nil {
			err = e
			continue
		}
		ok = true
	}
	if ok {
		return nil
	}
	return
}

// AuthRelay answers the pending NIP-42 challenge on the given relay with the
// pool's auth signer.
func (p *Pool) AuthRelay(c context.T, url string) (err error) {
	if p.authSigner == nil {
		return errNoAuthSigner()
	}
	var relay *Client
	if relay, err = p.EnsureRelay(url); err != nil {
		return
	}
	return relay.Auth(c, p.authSigner)
}

// Close disconnects every relay in the pool.
func (p *Pool) Close(reason error) {
	p.cancel(reason)
	for url, relay := range p.Relays.Range {
		if err := relay.Close(); err != nil {
			log.T.F("{%s} close: %v", url, err)
		}
		p.Relays.Delete(url)
	}
}
