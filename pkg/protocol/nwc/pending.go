package nwc

import (
	"sync"

	"nwcly.dev/pkg/utils/errorf"
)

// CompletionStatus reports what a registry delivery did.
type CompletionStatus int

const (
	// NotFound means no pending entry matched the correlation ID.
	NotFound CompletionStatus = iota
	// SingleCompleted means a single request was completed and removed.
	SingleCompleted
	// Partial means a multi entry absorbed the item but is not yet full.
	Partial
	// MultiCompleted means a multi request got its last item and was
	// removed.
	MultiCompleted
)

// pendingSingle awaits one response. The channel has capacity one and is
// closed on cancellation.
type pendingSingle struct {
	method Capability
	ch     chan *WireResponse
}

// pendingMulti awaits one response per expected key.
type pendingMulti struct {
	method   Capability
	expected map[string]struct{}
	results  map[string]*WireResponse
	ch       chan map[string]*WireResponse
}

// Registry is the thread safe table of in-flight requests keyed by the
// request event ID. The mutex is never held across a channel send that
// could block; completion channels are buffered.
type Registry struct {
	mu      sync.Mutex
	pending map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]any)}
}

// Len returns the number of in-flight entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// RegisterSingle inserts a single awaiter for the correlation ID and returns
// the channel its response will arrive on. Duplicate IDs are an invariant
// violation.
func (r *Registry) RegisterSingle(id string, method Capability) (
	ch <-chan *WireResponse, err error,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.pending[id]; dup {
		return nil, errorf.E("duplicate pending request id %s", id)
	}
	p := &pendingSingle{method: method, ch: make(chan *WireResponse, 1)}
	r.pending[id] = p
	return p.ch, nil
}

// RegisterMulti inserts a multi awaiter expecting one response per key.
func (r *Registry) RegisterMulti(
	id string, method Capability, keys []string,
) (ch <-chan map[string]*WireResponse, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.pending[id]; dup {
		return nil, errorf.E("duplicate pending request id %s", id)
	}
	p := &pendingMulti{
		method:   method,
		expected: make(map[string]struct{}, len(keys)),
		results:  make(map[string]*WireResponse, len(keys)),
		ch:       make(chan map[string]*WireResponse, 1),
	}
	for _, k := range keys {
		p.expected[k] = struct{}{}
	}
	r.pending[id] = p
	return p.ch, nil
}

// Deregister removes an entry without signalling, for requests abandoned by
// their caller (timeout, cancellation).
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// CompleteSingle delivers a response to a single awaiter and removes the
// entry. A multi entry under the same ID is left alone.
func (r *Registry) CompleteSingle(
	id string, resp *WireResponse,
) CompletionStatus {
	r.mu.Lock()
	p, ok := r.pending[id].(*pendingSingle)
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return NotFound
	}
	p.ch <- resp
	return SingleCompleted
}

// AddMulti delivers one item of a multi request. The first arrival for a key
// wins; the entry completes when every expected key is present, signalling
// with a snapshot copy.
func (r *Registry) AddMulti(
	id, key string, resp *WireResponse,
) CompletionStatus {
	r.mu.Lock()
	p, ok := r.pending[id].(*pendingMulti)
	if !ok {
		r.mu.Unlock()
		return NotFound
	}
	if _, want := p.expected[key]; !want {
		r.mu.Unlock()
		return Partial
	}
	if _, have := p.results[key]; have {
		r.mu.Unlock()
		return Partial
	}
	p.results[key] = resp
	if len(p.results) < len(p.expected) {
		r.mu.Unlock()
		return Partial
	}
	snapshot := make(map[string]*WireResponse, len(p.results))
	for k, v := range p.results {
		snapshot[k] = v
	}
	delete(r.pending, id)
	r.mu.Unlock()
	p.ch <- snapshot
	return MultiCompleted
}

// CompleteWithError fans an error out to whatever awaits the correlation ID:
// a single awaiter receives a synthetic response carrying the error; a multi
// awaiter receives the error for every expected key.
func (r *Registry) CompleteWithError(
	id string, nwcErr *NwcError,
) CompletionStatus {
	r.mu.Lock()
	entry, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return NotFound
	}
	switch p := entry.(type) {
	case *pendingSingle:
		p.ch <- &WireResponse{
			ResultType: string(p.method), Error: nwcErr,
		}
		return SingleCompleted
	case *pendingMulti:
		all := make(map[string]*WireResponse, len(p.expected))
		for k := range p.expected {
			if got, have := p.results[k]; have {
				all[k] = got
				continue
			}
			all[k] = &WireResponse{
				ResultType: string(p.method), Error: nwcErr,
			}
		}
		p.ch <- all
		return MultiCompleted
	}
	return NotFound
}

// ResolveRequestID disambiguates a response that arrived without an e tag:
// a lone pending entry wins; failing that, a lone pending entry whose method
// matches the response's result_type wins; otherwise give up.
func (r *Registry) ResolveRequestID(resp *WireResponse) (id string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 1 {
		for k := range r.pending {
			return k, true
		}
	}
	var matched []string
	for k, entry := range r.pending {
		var method Capability
		switch p := entry.(type) {
		case *pendingSingle:
			method = p.method
		case *pendingMulti:
			method = p.method
		}
		if string(method) == resp.ResultType {
			matched = append(matched, k)
		}
	}
	if len(matched) == 1 {
		return matched[0], true
	}
	return "", false
}

// CancelAll signals cancellation to every awaiter by closing its channel and
// clears the table.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	entries := r.pending
	r.pending = make(map[string]any)
	r.mu.Unlock()
	for _, entry := range entries {
		switch p := entry.(type) {
		case *pendingSingle:
			close(p.ch)
		case *pendingMulti:
			close(p.ch)
		}
	}
}
