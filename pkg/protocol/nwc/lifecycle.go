package nwc

import (
	"sync"
	"time"

	"nwcly.dev/pkg/encoders/filters"
	"nwcly.dev/pkg/utils/chk"
	"nwcly.dev/pkg/utils/context"
	"nwcly.dev/pkg/utils/log"
)

// InitPhase is the state of the background multi-relay setup.
type InitPhase int32

const (
	// PhaseNotStarted means initialization has not begun.
	PhaseNotStarted InitPhase = iota
	// PhaseInitializing means sessions and subscriptions are being set up.
	PhaseInitializing
	// PhaseReady means every relay has a response subscription.
	PhaseReady
	// PhasePartialReady means some relays are usable and the rest are in
	// recovery.
	PhasePartialReady
	// PhaseFailed means no relay became usable.
	PhaseFailed
)

// String returns the name of the phase.
func (p InitPhase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	case PhasePartialReady:
		return "partial_ready"
	case PhaseFailed:
		return "failed"
	}
	return "not_started"
}

const (
	sharedSubTimeout = 5 * time.Second
	recoveryInterval = 3 * time.Second
)

// readyRelay is a relay whose response subscription is established.
type readyRelay struct {
	handle *RelayHandle
	shared SharedSubscription
}

// lifecycle drives the background initialization state machine and recovery
// of lagging relays.
type lifecycle struct {
	provider  SessionProvider
	relays    func() []string
	filters   func() *filters.T
	sink      EventSink
	configure func(h *RelayHandle)

	ctx context.T

	mu      sync.Mutex
	phase   InitPhase
	shared  map[string]SharedSubscription
	pending map[string]struct{}
	cause   error
	changed chan struct{}

	recoveryOnce sync.Once
	wake         chan struct{}
}

func newLifecycle(
	c context.T, provider SessionProvider, relays func() []string,
	responseFilters func() *filters.T, sink EventSink,
	configure func(h *RelayHandle),
) *lifecycle {
	return &lifecycle{
		provider:  provider,
		relays:    relays,
		filters:   responseFilters,
		sink:      sink,
		configure: configure,
		ctx:       c,
		phase:     PhaseNotStarted,
		shared:    make(map[string]SharedSubscription),
		pending:   make(map[string]struct{}),
		changed:   make(chan struct{}),
		wake:      make(chan struct{}, 1),
	}
}

func (lc *lifecycle) transition(f func()) {
	lc.mu.Lock()
	f()
	close(lc.changed)
	lc.changed = make(chan struct{})
	lc.mu.Unlock()
}

// Phase returns the current initialization phase.
func (lc *lifecycle) Phase() InitPhase {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.phase
}

// Start launches background initialization if it is not already running.
// Construction never blocks on the network.
func (lc *lifecycle) Start() {
	lc.mu.Lock()
	if lc.phase == PhaseInitializing {
		lc.mu.Unlock()
		return
	}
	lc.phase = PhaseInitializing
	close(lc.changed)
	lc.changed = make(chan struct{})
	lc.mu.Unlock()
	go lc.initialize()
}

func (lc *lifecycle) initialize() {
	defer func() {
		if r := recover(); r != nil {
			lc.transition(func() {
				lc.phase = PhaseFailed
				lc.cause = recoverFailure(r)
			})
		}
	}()
	if err := lc.provider.Open(lc.ctx, lc.sink, lc.configure); err != nil {
		lc.transition(func() {
			lc.phase = PhaseFailed
			lc.cause = err
		})
		lc.startRecovery(lc.relays())
		return
	}
	handles := lc.provider.RuntimeHandles()
	type outcome struct {
		url    string
		shared SharedSubscription
	}
	results := make(chan outcome, len(handles))
	for _, h := range handles {
		go func(h *RelayHandle) {
			ss, err := h.Session.CreateSharedSubscription(
				lc.ctx, lc.responseFilters(), sharedSubTimeout,
			)
			if chk.D(err) || ss == nil {
				results <- outcome{url: h.URL}
				return
			}
			results <- outcome{url: h.URL, shared: ss}
		}(h)
	}
	ready := make(map[string]SharedSubscription)
	failed := make(map[string]struct{})
	for range handles {
		o := <-results
		if o.shared != nil {
			ready[o.url] = o.shared
		} else {
			failed[o.url] = struct{}{}
		}
	}
	// relays the provider never opened count as failed too
	opened := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		opened[h.URL] = struct{}{}
	}
	for _, url := range lc.relays() {
		if _, ok := opened[url]; !ok {
			failed[url] = struct{}{}
		}
	}
	var laggards []string
	lc.transition(func() {
		lc.shared = ready
		lc.pending = failed
		switch {
		case len(ready) > 0 && len(failed) == 0:
			lc.phase = PhaseReady
		case len(ready) > 0:
			lc.phase = PhasePartialReady
		default:
			lc.phase = PhaseFailed
			lc.cause = &NetworkError{
				Msg: "no relay produced a response subscription",
			}
		}
		for url := range failed {
			laggards = append(laggards, url)
		}
	})
	if len(laggards) > 0 {
		lc.startRecovery(laggards)
	}
}

func (lc *lifecycle) startRecovery(urls []string) {
	lc.mu.Lock()
	for _, u := range urls {
		lc.pending[u] = struct{}{}
	}
	lc.mu.Unlock()
	lc.recoveryOnce.Do(func() { go lc.recoveryLoop() })
	select {
	case lc.wake <- struct{}{}:
	default:
	}
}

func (lc *lifecycle) recoveryLoop() {
	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-lc.ctx.Done():
			return
		case <-ticker.C:
		case <-lc.wake:
		}
		lc.mu.Lock()
		var todo []string
		for url := range lc.pending {
			todo = append(todo, url)
		}
		lc.mu.Unlock()
		if len(todo) == 0 {
			continue
		}
		for _, url := range todo {
			h, err := lc.provider.EnsureRelay(lc.ctx, url)
			if err != nil || h == nil {
				log.T.F("{%s} recovery: %v", url, err)
				continue
			}
			ss, err := h.Session.CreateSharedSubscription(
				lc.ctx, lc.responseFilters(), sharedSubTimeout,
			)
			if chk.T(err) || ss == nil {
				continue
			}
			lc.transition(func() {
				// re-check under the lock; a competing promotion may have
				// raced this one
				if _, still := lc.pending[url]; !still {
					ss.Unsub()
					return
				}
				delete(lc.pending, url)
				lc.shared[url] = ss
				if len(lc.pending) == 0 {
					lc.phase = PhaseReady
				} else if lc.phase == PhaseFailed {
					lc.phase = PhasePartialReady
					lc.cause = nil
				}
			})
		}
	}
}

// AwaitReady blocks until initialization lands in a terminal-enough phase
// or the context deadline passes, returning the relays whose response
// subscription exists. A Failed state is restarted once, in case the
// network has returned since.
func (lc *lifecycle) AwaitReady(c context.T) (ready []readyRelay, err error) {
	restarted := false
	for {
		lc.mu.Lock()
		phase := lc.phase
		cause := lc.cause
		changed := lc.changed
		lc.mu.Unlock()
		switch phase {
		case PhaseReady, PhasePartialReady:
			return lc.readyRelays(), nil
		case PhaseFailed:
			if restarted {
				ne, ok := cause.(*NetworkError)
				if !ok {
					ne = &NetworkError{
						Msg: "initialization failed", Cause: cause,
					}
				}
				return nil, ne
			}
			restarted = true
			lc.transition(func() { lc.phase = PhaseNotStarted })
			lc.Start()
			continue
		case PhaseNotStarted:
			lc.Start()
		}
		select {
		case <-changed:
		case <-c.Done():
			return nil, &TimeoutError{
				Msg: "timed out waiting for relay readiness",
			}
		}
	}
}

func (lc *lifecycle) readyRelays() (ready []readyRelay) {
	lc.mu.Lock()
	shared := make(map[string]SharedSubscription, len(lc.shared))
	for k, v := range lc.shared {
		shared[k] = v
	}
	lc.mu.Unlock()
	for _, h := range lc.provider.RuntimeHandles() {
		if ss, ok := shared[h.URL]; ok {
			ready = append(ready, readyRelay{handle: h, shared: ss})
		}
	}
	return
}

// Close unsubscribes every shared subscription.
func (lc *lifecycle) Close() {
	lc.mu.Lock()
	shared := lc.shared
	lc.shared = make(map[string]SharedSubscription)
	lc.pending = make(map[string]struct{})
	lc.mu.Unlock()
	for _, ss := range shared {
		ss.Unsub()
	}
}

func (lc *lifecycle) responseFilters() *filters.T { return lc.filters() }
