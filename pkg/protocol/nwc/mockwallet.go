package nwc

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"lukechampine.com/frand"

	"nwcly.dev/pkg/crypto/p256k"
	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/filter"
	"nwcly.dev/pkg/encoders/filters"
	"nwcly.dev/pkg/encoders/hex"
	"nwcly.dev/pkg/encoders/kind"
	"nwcly.dev/pkg/encoders/kinds"
	"nwcly.dev/pkg/encoders/tag"
	"nwcly.dev/pkg/encoders/tags"
	"nwcly.dev/pkg/encoders/timestamp"
	"nwcly.dev/pkg/protocol/ws"
	"nwcly.dev/pkg/utils/chk"
	"nwcly.dev/pkg/utils/context"
	"nwcly.dev/pkg/utils/log"
)

// MockWalletService is a scriptable NIP-47 wallet service speaking to real
// relays, for exercising clients end to end without touching money.
type MockWalletService struct {
	relay     string
	signer    *p256k.Signer
	walletPub string
	client    *ws.Client
	ctx       context.T
	cancel    context.F

	balance      Msat
	balanceMutex sync.RWMutex

	// conversation keys per connected client pubkey
	clients      map[string]*Cipher
	clientsMutex sync.RWMutex

	// Handlers overrides the per-method behavior; absent methods get the
	// built-in canned implementations.
	Handlers map[Capability]func(params json.RawMessage) (any, *NwcError)
}

// NewMockWalletService creates a mock wallet with a fresh identity and the
// given starting balance.
func NewMockWalletService(relay string, balance Msat) (
	m *MockWalletService, err error,
) {
	s := &p256k.Signer{}
	if err = s.Generate(); chk.E(err) {
		return
	}
	ctx, cancel := context.Cancel(context.Bg())
	return &MockWalletService{
		relay:     relay,
		signer:    s,
		walletPub: hex.Enc(s.Pub()),
		ctx:       ctx,
		cancel:    cancel,
		balance:   balance,
		clients:   make(map[string]*Cipher),
		Handlers: make(
			map[Capability]func(json.RawMessage) (any, *NwcError),
		),
	}, nil
}

// WalletPubkey returns the wallet's public key in hex.
func (m *MockWalletService) WalletPubkey() string { return m.walletPub }

// ConnectionURIFor builds a connection URI for a client secret key.
func (m *MockWalletService) ConnectionURIFor(clientSecret string) string {
	creds := &Credentials{
		WalletPubkey: m.walletPub,
		Relays:       []string{m.relay},
		Secret:       clientSecret,
	}
	return creds.BuildConnectionURI()
}

// Start connects to the relay, publishes the info event and begins
// answering requests.
func (m *MockWalletService) Start() (err error) {
	if m.client, err = ws.RelayConnect(m.ctx, m.relay); chk.E(err) {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	if err = m.publishWalletInfo(); chk.E(err) {
		return fmt.Errorf("failed to publish wallet info: %w", err)
	}
	if err = m.subscribeToRequests(); chk.E(err) {
		return fmt.Errorf("failed to subscribe to requests: %w", err)
	}
	return
}

// Stop disconnects the mock wallet.
func (m *MockWalletService) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.client != nil {
		chk.D(m.client.Close())
	}
}

func (m *MockWalletService) publishWalletInfo() (err error) {
	ev := &event.E{
		Content: "get_info get_balance make_invoice pay_invoice " +
			"pay_keysend lookup_invoice list_transactions " +
			"multi_pay_invoice multi_pay_keysend",
		CreatedAt: timestamp.Now(),
		Kind:      kind.WalletInfo,
		Tags: tags.New(
			tag.New("encryption", "nip44_v2 nip04"),
			tag.New("notifications", "payment_received payment_sent"),
		),
	}
	if err = ev.Sign(m.signer); chk.E(err) {
		return
	}
	return m.client.Publish(m.ctx, ev)
}

func (m *MockWalletService) subscribeToRequests() (err error) {
	f := filter.New()
	f.Kinds = kinds.New(kind.WalletRequest)
	f.Tags["p"] = []string{m.walletPub}
	f.Since = timestamp.Now()
	var sub *ws.Subscription
	if sub, err = m.client.Subscribe(
		m.ctx, filters.New(f),
	); chk.E(err) {
		return
	}
	go func() {
		for {
			select {
			case <-m.ctx.Done():
				return
			case ev := <-sub.Events:
				if ev == nil {
					continue
				}
				if err := m.processRequestEvent(ev); err != nil {
					log.D.F("mock wallet: %v", err)
				}
			}
		}
	}()
	return
}

func (m *MockWalletService) cipherFor(clientPub string) (
	ci *Cipher, err error,
) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()
	if existing, ok := m.clients[clientPub]; ok {
		return existing, nil
	}
	var pk []byte
	if pk, err = hex.Dec(clientPub); chk.E(err) {
		return
	}
	if ci, err = NewCipher(m.signer.Sec(), pk); chk.E(err) {
		return
	}
	m.clients[clientPub] = ci
	return
}

func (m *MockWalletService) processRequestEvent(ev *event.E) (err error) {
	ci, err := m.cipherFor(ev.Pubkey)
	if err != nil {
		return
	}
	scheme, _ := SchemeForEvent(ev, Nip44V2)
	var plain []byte
	if plain, err = ci.Decrypt(ev.Content, scheme); err != nil {
		return
	}
	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err = json.Unmarshal(plain, &req); err != nil {
		return
	}
	method := Capability(req.Method)
	switch method {
	case MultiPayInvoice:
		return m.processMultiPayInvoice(ev, ci, scheme, req.Params)
	case MultiPayKeysend:
		return m.processMultiPayKeysend(ev, ci, scheme, req.Params)
	}
	result, nwcErr := m.dispatch(method, req.Params)
	return m.respond(ev, ci, scheme, method, "", result, nwcErr)
}

func (m *MockWalletService) dispatch(
	method Capability, params json.RawMessage,
) (result any, nwcErr *NwcError) {
	if h, ok := m.Handlers[method]; ok {
		return h(params)
	}
	switch method {
	case GetInfo:
		return m.getInfo(), nil
	case GetBalance:
		return m.getBalance(), nil
	case MakeInvoice:
		return m.makeInvoice(params)
	case PayInvoice:
		return m.payInvoice(params)
	case PayKeysend:
		return m.payKeysend(params)
	default:
		return nil, &NwcError{
			Code:    "NOT_IMPLEMENTED",
			Message: "unsupported method " + string(method),
		}
	}
}

func (m *MockWalletService) processMultiPayInvoice(
	ev *event.E, ci *Cipher, scheme EncryptionScheme,
	params json.RawMessage,
) (err error) {
	var p MultiPayInvoiceParams
	if err = json.Unmarshal(params, &p); err != nil {
		return
	}
	for _, item := range p.Invoices {
		body, _ := json.Marshal(PayInvoiceParams{
			Invoice: item.Invoice, Amount: item.Amount,
		})
		result, nwcErr := m.dispatch(PayInvoice, body)
		if e := m.respond(
			ev, ci, scheme, MultiPayInvoice, item.ID, result, nwcErr,
		); e != nil {
			err = e
		}
	}
	return
}

func (m *MockWalletService) processMultiPayKeysend(
	ev *event.E, ci *Cipher, scheme EncryptionScheme,
	params json.RawMessage,
) (err error) {
	var p MultiPayKeysendParams
	if err = json.Unmarshal(params, &p); err != nil {
		return
	}
	for _, item := range p.Keysends {
		body, _ := json.Marshal(PayKeysendParams{
			Pubkey: item.Pubkey, Amount: item.Amount,
			Preimage: item.Preimage, TLVRecords: item.TLVRecords,
		})
		result, nwcErr := m.dispatch(PayKeysend, body)
		if e := m.respond(
			ev, ci, scheme, MultiPayKeysend, item.ID, result, nwcErr,
		); e != nil {
			err = e
		}
	}
	return
}

// respond encrypts and publishes one response event correlated to the
// request; itemID sets the d tag for multi items.
func (m *MockWalletService) respond(
	req *event.E, ci *Cipher, scheme EncryptionScheme, method Capability,
	itemID string, result any, nwcErr *NwcError,
) (err error) {
	resp := map[string]any{"result_type": string(method)}
	if nwcErr != nil {
		resp["error"] = nwcErr
	} else {
		resp["result"] = result
	}
	var body []byte
	if body, err = json.Marshal(resp); chk.E(err) {
		return
	}
	var content string
	if content, err = ci.Encrypt(body, scheme); chk.E(err) {
		return
	}
	tt := tags.New(
		tag.New("p", req.Pubkey),
		tag.New("e", req.ID),
		tag.New("encryption", string(scheme)),
	)
	if itemID != "" {
		tt = tt.Append(tag.New("d", itemID))
	}
	ev := &event.E{
		Content:   content,
		CreatedAt: timestamp.Now(),
		Kind:      kind.WalletResponse,
		Tags:      tt,
	}
	if err = ev.Sign(m.signer); chk.E(err) {
		return
	}
	return m.client.Publish(m.ctx, ev)
}

func (m *MockWalletService) getInfo() map[string]any {
	return map[string]any{
		"alias":         "Mock Wallet",
		"color":         "#3399FF",
		"pubkey":        m.walletPub,
		"network":       "regtest",
		"block_height":  850000,
		"methods":       []string{"get_info", "get_balance", "make_invoice", "pay_invoice"},
		"notifications": []string{"payment_received", "payment_sent"},
	}
}

func (m *MockWalletService) getBalance() map[string]any {
	m.balanceMutex.RLock()
	defer m.balanceMutex.RUnlock()
	return map[string]any{"balance": m.balance}
}

func (m *MockWalletService) makeInvoice(params json.RawMessage) (
	any, *NwcError,
) {
	var p MakeInvoiceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &NwcError{Code: "OTHER", Message: "invalid params"}
	}
	now := time.Now().Unix()
	expires := now + 24*3600
	return map[string]any{
		"type":         TxIncoming,
		"state":        TxStatePending,
		"invoice":      fmt.Sprintf("lnbcrt%d", p.Amount),
		"description":  p.Description,
		"payment_hash": hex.Enc(frand.Bytes(32)),
		"amount":       p.Amount,
		"created_at":   now,
		"expires_at":   expires,
	}, nil
}

func (m *MockWalletService) payInvoice(params json.RawMessage) (
	any, *NwcError,
) {
	var p PayInvoiceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &NwcError{Code: "OTHER", Message: "invalid params"}
	}
	amount := Msat(1000)
	if p.Amount != nil {
		amount = *p.Amount
	}
	m.balanceMutex.Lock()
	if m.balance < amount {
		m.balanceMutex.Unlock()
		return nil, &NwcError{
			Code: "INSUFFICIENT_BALANCE", Message: "insufficient balance",
		}
	}
	m.balance -= amount
	m.balanceMutex.Unlock()
	preimage := hex.Enc(frand.Bytes(32))
	go m.notifyAll(PaymentSent, map[string]any{
		"type":         TxOutgoing,
		"state":        TxStateSettled,
		"invoice":      p.Invoice,
		"preimage":     preimage,
		"payment_hash": hex.Enc(frand.Bytes(32)),
		"amount":       amount,
		"created_at":   time.Now().Unix(),
		"settled_at":   time.Now().Unix(),
	})
	return map[string]any{"preimage": preimage, "fees_paid": 0}, nil
}

func (m *MockWalletService) payKeysend(params json.RawMessage) (
	any, *NwcError,
) {
	var p PayKeysendParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &NwcError{Code: "OTHER", Message: "invalid params"}
	}
	m.balanceMutex.Lock()
	if m.balance < p.Amount {
		m.balanceMutex.Unlock()
		return nil, &NwcError{
			Code: "INSUFFICIENT_BALANCE", Message: "insufficient balance",
		}
	}
	m.balance -= p.Amount
	m.balanceMutex.Unlock()
	return map[string]any{
		"preimage": hex.Enc(frand.Bytes(32)), "fees_paid": 0,
	}, nil
}

// SimulateIncomingPayment credits the balance and pushes a payment_received
// notification to every connected client.
func (m *MockWalletService) SimulateIncomingPayment(
	amount Msat, description string,
) {
	m.balanceMutex.Lock()
	m.balance += amount
	m.balanceMutex.Unlock()
	m.notifyAll(PaymentReceived, map[string]any{
		"type":         TxIncoming,
		"state":        TxStateSettled,
		"description":  description,
		"preimage":     hex.Enc(frand.Bytes(32)),
		"payment_hash": hex.Enc(frand.Bytes(32)),
		"amount":       amount,
		"created_at":   time.Now().Unix(),
		"settled_at":   time.Now().Unix(),
	})
}

func (m *MockWalletService) notifyAll(
	nt NotificationType, payload map[string]any,
) {
	body, err := json.Marshal(map[string]any{
		"notification_type": string(nt),
		"notification":      payload,
	})
	if chk.E(err) {
		return
	}
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	for clientPub, ci := range m.clients {
		content, err := ci.Encrypt(body, Nip44V2)
		if chk.E(err) {
			continue
		}
		ev := &event.E{
			Content:   content,
			CreatedAt: timestamp.Now(),
			Kind:      kind.WalletNotification,
			Tags: tags.New(
				tag.New("p", clientPub),
				tag.New("encryption", "nip44_v2"),
			),
		}
		if err = ev.Sign(m.signer); chk.E(err) {
			continue
		}
		chk.D(m.client.Publish(m.ctx, ev))
	}
}
