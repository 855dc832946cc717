package nwc

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"nwcly.dev/pkg/crypto/p256k"
	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/filter"
	"nwcly.dev/pkg/encoders/filters"
	"nwcly.dev/pkg/encoders/hex"
	"nwcly.dev/pkg/encoders/kind"
	"nwcly.dev/pkg/encoders/tag"
	"nwcly.dev/pkg/encoders/tags"
	"nwcly.dev/pkg/encoders/timestamp"
	"nwcly.dev/pkg/protocol/ws"
	"nwcly.dev/pkg/utils/context"
)

// respSpec scripts one response event for a request.
type respSpec struct {
	itemID string
	result string
	err    *NwcError
	// dropETag omits the e tag so correlation must fall back
	dropETag bool
}

// scriptedWallet decrypts requests and produces signed, encrypted response
// events per a scripted handler.
type scriptedWallet struct {
	signer *p256k.Signer
	pub    string
	cipher *Cipher

	mu      sync.Mutex
	handler func(method Capability, params json.RawMessage) []respSpec
	// requests seen, by method
	requests []Capability
}

func newScriptedWallet(t *testing.T, clientPub string) *scriptedWallet {
	t.Helper()
	s := &p256k.Signer{}
	if err := s.Generate(); err != nil {
		t.Fatalf("wallet keygen: %v", err)
	}
	pk, err := hex.Dec(clientPub)
	if err != nil {
		t.Fatalf("client pub: %v", err)
	}
	ci, err := NewCipher(s.Sec(), pk)
	if err != nil {
		t.Fatalf("wallet cipher: %v", err)
	}
	return &scriptedWallet{signer: s, pub: hex.Enc(s.Pub()), cipher: ci}
}

func (w *scriptedWallet) script(
	h func(method Capability, params json.RawMessage) []respSpec,
) {
	w.mu.Lock()
	w.handler = h
	w.mu.Unlock()
}

func (w *scriptedWallet) seen() []Capability {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Capability(nil), w.requests...)
}

// respond decrypts the request and builds the scripted response events.
func (w *scriptedWallet) respond(
	t *testing.T, reqEv *event.E, clientPub string,
) (evs []*event.E) {
	t.Helper()
	scheme, _ := SchemeForEvent(reqEv, Nip44V2)
	plain, err := w.cipher.Decrypt(reqEv.Content, scheme)
	if err != nil {
		t.Errorf("wallet cannot decrypt request: %v", err)
		return nil
	}
	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err = json.Unmarshal(plain, &req); err != nil {
		t.Errorf("wallet cannot decode request: %v", err)
		return nil
	}
	w.mu.Lock()
	w.requests = append(w.requests, Capability(req.Method))
	h := w.handler
	w.mu.Unlock()
	if h == nil {
		return nil
	}
	for _, spec := range h(Capability(req.Method), req.Params) {
		body := map[string]any{"result_type": req.Method}
		if spec.err != nil {
			body["error"] = spec.err
		} else {
			body["result"] = json.RawMessage(spec.result)
		}
		raw, err := json.Marshal(body)
		if err != nil {
			t.Errorf("marshal response: %v", err)
			return nil
		}
		content, err := w.cipher.Encrypt(raw, scheme)
		if err != nil {
			t.Errorf("encrypt response: %v", err)
			return nil
		}
		tt := tags.New(
			tag.New("p", clientPub),
			tag.New("encryption", string(scheme)),
		)
		if !spec.dropETag {
			tt = tt.Append(tag.New("e", reqEv.ID))
		}
		if spec.itemID != "" {
			tt = tt.Append(tag.New("d", spec.itemID))
		}
		ev := &event.E{
			Content:   content,
			CreatedAt: timestamp.Now(),
			Kind:      kind.WalletResponse,
			Tags:      tt,
		}
		if err = ev.Sign(w.signer); err != nil {
			t.Errorf("sign response: %v", err)
			return nil
		}
		evs = append(evs, ev)
	}
	return
}

// fakeShared satisfies SharedSubscription.
type fakeShared struct{ id string }

func (f *fakeShared) ID() string { return f.id }
func (f *fakeShared) Unsub()     {}

// fakeSession answers requests through the scripted wallet, in memory.
type fakeSession struct {
	url      string
	provider *fakeProvider
	status   ws.Status
	// refuse shared subscription creation this many times
	failShared int
	mu         sync.Mutex
}

func (s *fakeSession) URL() string { return s.url }

func (s *fakeSession) Status() ws.Status { return s.status }

func (s *fakeSession) Subscribe(
	c context.T, id string, ff *filters.T,
) error {
	s.provider.mu.Lock()
	s.provider.named[s.url+"/"+id] = ff
	s.provider.mu.Unlock()
	return nil
}

func (s *fakeSession) Unsubscribe(id string) {}

func (s *fakeSession) CreateSharedSubscription(
	c context.T, ff *filters.T, timeout time.Duration,
) (SharedSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failShared > 0 {
		s.failShared--
		return nil, nil
	}
	return &fakeShared{id: s.url + "/resp"}, nil
}

func (s *fakeSession) Query(
	c context.T, f *filter.F, timeout time.Duration, rc *RetryConfig,
) *QueryOutcome {
	s.provider.mu.Lock()
	info := s.provider.infoEvent
	s.provider.mu.Unlock()
	if info != nil && f.Kinds.Contains(kind.WalletInfo) {
		return &QueryOutcome{Kind: QuerySuccess, Events: event.S{info}}
	}
	return &QueryOutcome{Kind: QueryTimeout}
}

func (s *fakeSession) RequestOneVia(
	c context.T, sub SharedSubscription, ev *event.E, correlationID string,
	timeout time.Duration, rc *RetryConfig,
) *QueryOutcome {
	p := s.provider
	p.mu.Lock()
	p.published = append(p.published, ev)
	wallet := p.wallet
	clientPub := p.clientPub
	p.mu.Unlock()
	responses := wallet.respond(p.t, ev, clientPub)
	if len(responses) == 0 {
		select {
		case <-c.Done():
		case <-time.After(timeout):
		}
		return &QueryOutcome{Kind: QueryTimeout}
	}
	// later item responses arrive through the shared subscription sink
	for _, extra := range responses[1:] {
		go func(extra *event.E, delay time.Duration) {
			time.Sleep(delay)
			p.sinkFn()(s.url, extra)
		}(extra, 5*time.Millisecond)
	}
	return &QueryOutcome{
		Kind: QuerySuccess, Events: event.S{responses[0]},
	}
}

// fakeProvider is an in-memory SessionProvider backed by a scripted wallet.
type fakeProvider struct {
	t         *testing.T
	wallet    *scriptedWallet
	clientPub string
	urls      []string

	mu        sync.Mutex
	sessions  map[string]*fakeSession
	sink      EventSink
	named     map[string]*filters.T
	published []*event.E
	infoEvent *event.E
	openErr   error
	snapshots chan ConnectionSnapshot
}

func newFakeProvider(
	t *testing.T, wallet *scriptedWallet, clientPub string, urls ...string,
) *fakeProvider {
	if len(urls) == 0 {
		urls = []string{"wss://fake.test"}
	}
	p := &fakeProvider{
		t:         t,
		wallet:    wallet,
		clientPub: clientPub,
		urls:      urls,
		sessions:  make(map[string]*fakeSession),
		named:     make(map[string]*filters.T),
		snapshots: make(chan ConnectionSnapshot, 32),
	}
	for _, u := range urls {
		p.sessions[u] = &fakeSession{
			url: u, provider: p, status: ws.Connected,
		}
	}
	return p
}

func (p *fakeProvider) sinkFn() EventSink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink
}

func (p *fakeProvider) Open(
	c context.T, sink EventSink, configure func(h *RelayHandle),
) error {
	p.mu.Lock()
	p.sink = sink
	err := p.openErr
	sessions := make([]*fakeSession, 0, len(p.sessions))
	for _, u := range p.urls {
		sessions = append(sessions, p.sessions[u])
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	for _, s := range sessions {
		configure(&RelayHandle{URL: s.url, Session: s})
	}
	return nil
}

func (p *fakeProvider) RuntimeHandles() (handles []*RelayHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.urls {
		if s, ok := p.sessions[u]; ok {
			handles = append(handles, &RelayHandle{URL: u, Session: s})
		}
	}
	return
}

func (p *fakeProvider) EnsureRelay(c context.T, url string) (
	*RelayHandle, error,
) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[url]
	if !ok {
		s = &fakeSession{url: url, provider: p, status: ws.Connected}
		p.sessions[url] = s
	}
	return &RelayHandle{URL: url, Session: s}, nil
}

func (p *fakeProvider) Publish(c context.T, ev *event.E) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, ev)
	return nil
}

func (p *fakeProvider) PublishTo(
	c context.T, url string, ev *event.E,
) error {
	return p.Publish(c, ev)
}

func (p *fakeProvider) Authenticate(
	c context.T, url string, ev *event.E,
) error {
	return nil
}

func (p *fakeProvider) Snapshots() <-chan ConnectionSnapshot {
	return p.snapshots
}

func (p *fakeProvider) Close() error { return nil }

func (p *fakeProvider) publishedEvents() []*event.E {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*event.E(nil), p.published...)
}

// newTestClient wires a client to a scripted wallet over the fake provider.
func newTestClient(
	t *testing.T, opts ...ClientOption,
) (cl *Client, wallet *scriptedWallet, provider *fakeProvider) {
	t.Helper()
	clientKey := &p256k.Signer{}
	if err := clientKey.Generate(); err != nil {
		t.Fatalf("client keygen: %v", err)
	}
	clientPub := hex.Enc(clientKey.Pub())
	wallet = newScriptedWallet(t, clientPub)
	provider = newFakeProvider(t, wallet, clientPub)
	creds := &Credentials{
		WalletPubkey: wallet.pub,
		Relays:       []string{"wss://fake.test"},
		Secret:       hex.Enc(clientKey.Sec()),
	}
	opts = append(
		[]ClientOption{
			WithSessionProvider(provider),
			WithTimeout(2 * time.Second),
		}, opts...,
	)
	cl, err := NewClientFromCredentials(context.Bg(), creds, opts...)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(func() { cl.Close() })
	return
}

// tagsWith builds a tag list with one key/value tag.
func tagsWith(key, value string) tags.T {
	return tags.New(tag.New(key, value))
}

// infoEventFor builds a signed wallet info event for the scripted wallet.
func infoEventFor(
	t *testing.T, wallet *scriptedWallet, content string, tt tags.T,
) *event.E {
	t.Helper()
	ev := &event.E{
		Content:   content,
		CreatedAt: timestamp.Now(),
		Kind:      kind.WalletInfo,
		Tags:      tt,
	}
	if err := ev.Sign(wallet.signer); err != nil {
		t.Fatalf("sign info event: %v", err)
	}
	return ev
}
