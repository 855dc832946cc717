package nwc

import (
	"sync"

	"nwcly.dev/pkg/utils/chk"
	"nwcly.dev/pkg/utils/context"
)

// SessionManager hands out reference counted clients keyed by connection
// URI, so independent parts of an application sharing a wallet connection
// share one client and its relay sessions.
type SessionManager struct {
	ctx  context.T
	opts []ClientOption

	mu       sync.Mutex
	sessions map[string]*managedClient
}

type managedClient struct {
	client *Client
	refs   int
}

// NewSessionManager creates a manager whose clients live under the given
// context and share the given options.
func NewSessionManager(c context.T, opts ...ClientOption) *SessionManager {
	return &SessionManager{
		ctx:      c,
		opts:     opts,
		sessions: make(map[string]*managedClient),
	}
}

// Acquire returns the client for the URI, creating it on first use. Every
// Acquire must be paired with a Release.
func (m *SessionManager) Acquire(uri string) (cl *Client, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mc, ok := m.sessions[uri]; ok {
		mc.refs++
		return mc.client, nil
	}
	if cl, err = NewClient(m.ctx, uri, m.opts...); chk.E(err) {
		return
	}
	m.sessions[uri] = &managedClient{client: cl, refs: 1}
	return
}

// Release drops one reference to the URI's client; the last release closes
// and disposes it, so a later Acquire builds a fresh instance.
func (m *SessionManager) Release(uri string) {
	m.mu.Lock()
	mc, ok := m.sessions[uri]
	if ok {
		mc.refs--
		if mc.refs <= 0 {
			delete(m.sessions, uri)
		} else {
			mc = nil
		}
	}
	m.mu.Unlock()
	if ok && mc != nil {
		chk.D(mc.client.Close())
	}
}

// Close disposes every managed client regardless of reference counts.
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managedClient)
	m.mu.Unlock()
	for _, mc := range sessions {
		chk.D(mc.client.Close())
	}
}
