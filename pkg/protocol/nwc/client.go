package nwc

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"nwcly.dev/pkg/crypto/p256k"
	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/filters"
	"nwcly.dev/pkg/encoders/hex"
	"nwcly.dev/pkg/protocol/ws"
	"nwcly.dev/pkg/utils/chk"
	"nwcly.dev/pkg/utils/context"
	"nwcly.dev/pkg/utils/log"
)

// defaultRequestTimeout bounds a request when the caller's context carries
// no deadline of its own.
const defaultRequestTimeout = 60 * time.Second

// metadataQueryTimeout bounds each relay's info event query.
const metadataQueryTimeout = 10 * time.Second

// Client is a wallet connect client: the typed façade over the request
// engine, notification pipeline and session runtime for one connection URI.
type Client struct {
	creds     *Credentials
	signer    *p256k.Signer
	clientPub string

	cipher        *Cipher
	registry      *Registry
	provider      SessionProvider
	ownsProvider  bool
	lifecycle     *lifecycle
	notifications *broadcaster

	metadata  atomic.Pointer[WalletMetadata]
	info      atomic.Pointer[GetInfoResult]
	activeEnc atomic.String

	timeout       time.Duration
	requestExpiry time.Duration

	ctx    context.T
	cancel context.C
	closed atomic.Bool
}

// ClientOption configures a Client at construction.
type ClientOption func(*Client)

// WithTimeout sets the default per-request deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) { cl.timeout = d }
}

// WithRequestExpiry stamps every request event with an expiration tag this
// far in the future, letting relays drop stale requests.
func WithRequestExpiry(d time.Duration) ClientOption {
	return func(cl *Client) { cl.requestExpiry = d }
}

// WithSessionProvider substitutes the session runtime; the provider is not
// closed with the client.
func WithSessionProvider(p SessionProvider) ClientOption {
	return func(cl *Client) {
		cl.provider = p
		cl.ownsProvider = false
	}
}

// NewClient parses the connection URI, derives the per-peer secrets and
// launches background initialization. Construction never blocks on the
// network.
func NewClient(c context.T, uri string, opts ...ClientOption) (
	cl *Client, err error,
) {
	var creds *Credentials
	if creds, err = ParseConnectionURI(uri); chk.E(err) {
		return
	}
	return NewClientFromCredentials(c, creds, opts...)
}

// NewClientFromCredentials is NewClient for already-parsed credentials.
func NewClientFromCredentials(
	c context.T, creds *Credentials, opts ...ClientOption,
) (cl *Client, err error) {
	ctx, cancel := context.Cause(c)
	cl = &Client{
		creds:         creds,
		registry:      NewRegistry(),
		notifications: newBroadcaster(),
		timeout:       defaultRequestTimeout,
		ctx:           ctx,
		cancel:        cancel,
		ownsProvider:  true,
	}
	cl.signer = &p256k.Signer{}
	var sec []byte
	if sec, err = hex.Dec(creds.Secret); chk.E(err) {
		cancel(err)
		return nil, err
	}
	if err = cl.signer.InitSec(sec); chk.E(err) {
		cancel(err)
		return nil, err
	}
	cl.clientPub = hex.Enc(cl.signer.Pub())
	var walletPub []byte
	if walletPub, err = hex.Dec(creds.WalletPubkey); chk.E(err) {
		cancel(err)
		return nil, err
	}
	if cl.cipher, err = NewCipher(sec, walletPub); chk.E(err) {
		cancel(err)
		return nil, err
	}
	cl.activeEnc.Store(string(Nip44V2))
	for _, opt := range opts {
		opt(cl)
	}
	if cl.provider == nil {
		cl.provider = NewRuntime(ctx, creds, nil)
	}
	cl.lifecycle = newLifecycle(
		ctx, cl.provider, creds.NormalizedRelays,
		func() *filters.T {
			return ResponseFilters(creds.WalletPubkey, cl.clientPub)
		},
		cl.sink,
		func(h *RelayHandle) {
			// notifications ride a per-relay named subscription with both
			// the strict and the permissive filter installed
			if err := h.Session.Subscribe(
				ctx, "nwc-ntf",
				NotificationFilters(creds.WalletPubkey, cl.clientPub),
			); err != nil {
				log.D.F("{%s} notification subscribe: %v", h.URL, err)
			}
		},
	)
	cl.lifecycle.Start()
	return cl, nil
}

// Credentials returns the parsed connection credentials.
func (cl *Client) Credentials() *Credentials { return cl.creds }

// ClientPubkey returns the client's public key in hex.
func (cl *Client) ClientPubkey() string { return cl.clientPub }

// InitPhase exposes the initialization state machine's current phase.
func (cl *Client) InitPhase() InitPhase { return cl.lifecycle.Phase() }

func (cl *Client) activeScheme() EncryptionScheme {
	return EncryptionScheme(cl.activeEnc.Load())
}

// ActiveEncryption returns the scheme requests are currently encrypted
// with.
func (cl *Client) ActiveEncryption() EncryptionScheme {
	return cl.activeScheme()
}

// Metadata returns the latest wallet metadata, or nil before any refresh.
func (cl *Client) Metadata() *WalletMetadata { return cl.metadata.Load() }

func (cl *Client) ensureDeadline(c context.T) (context.T, context.F) {
	if _, ok := c.Deadline(); ok {
		return c, func() {}
	}
	return context.Timeout(c, cl.timeout)
}

// call runs a request and decodes the typed result.
func call[T any](
	cl *Client, c context.T, method Capability, params any,
) (result *T, err error) {
	var resp *WireResponse
	if resp, err = cl.roundTrip(c, method, params); err != nil {
		return
	}
	if resp.Error != nil {
		return nil, &WalletError{Err: *resp.Error}
	}
	result = new(T)
	if err = json.Unmarshal(resp.Result, result); err != nil {
		return nil, &ProtocolError{
			Msg: "cannot decode " + string(method) + " result: " +
				err.Error(),
		}
	}
	return
}

// callMulti runs a batched request and decodes each item.
func callMulti[T any](
	cl *Client, c context.T, method Capability, params any, keys []string,
) (results map[string]MultiResult[T], err error) {
	var wire map[string]*WireResponse
	if wire, err = cl.roundTripMulti(c, method, params, keys); err != nil {
		return
	}
	results = make(map[string]MultiResult[T], len(wire))
	for key, resp := range wire {
		if resp.Error != nil {
			results[key] = MultiResult[T]{Err: resp.Error}
			continue
		}
		item := new(T)
		if err = json.Unmarshal(resp.Result, item); err != nil {
			return nil, &ProtocolError{
				Msg: "cannot decode " + string(method) + " item " + key +
					": " + err.Error(),
			}
		}
		results[key] = MultiResult[T]{Result: item}
	}
	return
}

// observe wraps a suspending call in an observable request handle, wiring
// the request event ID through to the handle once the event is built.
func observe[T any](
	cl *Client, run func(c context.T) (*T, error),
) *RequestHandle[T] {
	return newRequestHandle(
		cl.ctx, func(c context.T, note func(string)) (*T, error) {
			return run(context.Value(c, noteEventIDKey{}, note))
		},
	)
}

// GetBalance returns the wallet balance in millisatoshi.
func (cl *Client) GetBalance(c context.T) (res *GetBalanceResult, err error) {
	return call[GetBalanceResult](cl, c, GetBalance, nil)
}

// GetBalanceRequest is the observable form of GetBalance.
func (cl *Client) GetBalanceRequest() *RequestHandle[GetBalanceResult] {
	return observe(cl, func(c context.T) (*GetBalanceResult, error) {
		return cl.GetBalance(c)
	})
}

// GetInfo returns node information; the network name is normalized and the
// latest result is retained for DescribeWallet.
func (cl *Client) GetInfo(c context.T) (res *GetInfoResult, err error) {
	if res, err = call[GetInfoResult](cl, c, GetInfo, nil); err != nil {
		return
	}
	res.Network = NormalizeNetwork(res.Network)
	cl.info.Store(res)
	return
}

// GetInfoRequest is the observable form of GetInfo.
func (cl *Client) GetInfoRequest() *RequestHandle[GetInfoResult] {
	return observe(cl, func(c context.T) (*GetInfoResult, error) {
		return cl.GetInfo(c)
	})
}

// PayInvoice pays a bolt11 invoice.
func (cl *Client) PayInvoice(
	c context.T, params *PayInvoiceParams,
) (res *PayResult, err error) {
	return call[PayResult](cl, c, PayInvoice, params)
}

// PayInvoiceRequest is the observable form of PayInvoice.
func (cl *Client) PayInvoiceRequest(
	params *PayInvoiceParams,
) *RequestHandle[PayResult] {
	return observe(cl, func(c context.T) (*PayResult, error) {
		return cl.PayInvoice(c, params)
	})
}

// MultiPayInvoice pays a batch of invoices; the result maps each item id to
// its own success or wallet error. Items without a caller-supplied id get a
// random one, returned as the map keys.
func (cl *Client) MultiPayInvoice(
	c context.T, params *MultiPayInvoiceParams,
) (results map[string]MultiResult[PayResult], err error) {
	items := make([]MultiPayInvoiceItem, len(params.Invoices))
	keys := make([]string, len(params.Invoices))
	for i, item := range params.Invoices {
		if item.ID == "" {
			item.ID = newItemID()
		}
		items[i] = item
		keys[i] = item.ID
	}
	return callMulti[PayResult](
		cl, c, MultiPayInvoice,
		&MultiPayInvoiceParams{Invoices: items}, keys,
	)
}

// MultiPayInvoiceRequest is the observable form of MultiPayInvoice.
func (cl *Client) MultiPayInvoiceRequest(
	params *MultiPayInvoiceParams,
) *RequestHandle[map[string]MultiResult[PayResult]] {
	return observe(
		cl, func(c context.T) (*map[string]MultiResult[PayResult], error) {
			m, err := cl.MultiPayInvoice(c, params)
			if err != nil {
				return nil, err
			}
			return &m, nil
		},
	)
}

// PayKeysend sends a spontaneous keysend payment.
func (cl *Client) PayKeysend(
	c context.T, params *PayKeysendParams,
) (res *PayResult, err error) {
	return call[PayResult](cl, c, PayKeysend, params)
}

// PayKeysendRequest is the observable form of PayKeysend.
func (cl *Client) PayKeysendRequest(
	params *PayKeysendParams,
) *RequestHandle[PayResult] {
	return observe(cl, func(c context.T) (*PayResult, error) {
		return cl.PayKeysend(c, params)
	})
}

// MultiPayKeysend sends a batch of keysend payments.
func (cl *Client) MultiPayKeysend(
	c context.T, params *MultiPayKeysendParams,
) (results map[string]MultiResult[PayResult], err error) {
	items := make([]MultiPayKeysendItem, len(params.Keysends))
	keys := make([]string, len(params.Keysends))
	for i, item := range params.Keysends {
		if item.ID == "" {
			item.ID = newItemID()
		}
		items[i] = item
		keys[i] = item.ID
	}
	return callMulti[PayResult](
		cl, c, MultiPayKeysend,
		&MultiPayKeysendParams{Keysends: items}, keys,
	)
}

// MultiPayKeysendRequest is the observable form of MultiPayKeysend.
func (cl *Client) MultiPayKeysendRequest(
	params *MultiPayKeysendParams,
) *RequestHandle[map[string]MultiResult[PayResult]] {
	return observe(
		cl, func(c context.T) (*map[string]MultiResult[PayResult], error) {
			m, err := cl.MultiPayKeysend(c, params)
			if err != nil {
				return nil, err
			}
			return &m, nil
		},
	)
}

// MakeInvoice creates an invoice and returns it as a transaction record.
func (cl *Client) MakeInvoice(
	c context.T, params *MakeInvoiceParams,
) (tx *Transaction, err error) {
	var resp *WireResponse
	if resp, err = cl.roundTrip(c, MakeInvoice, params); err != nil {
		return
	}
	if resp.Error != nil {
		return nil, &WalletError{Err: *resp.Error}
	}
	return DecodeTransaction(resp.Result)
}

// MakeInvoiceRequest is the observable form of MakeInvoice.
func (cl *Client) MakeInvoiceRequest(
	params *MakeInvoiceParams,
) *RequestHandle[Transaction] {
	return observe(cl, func(c context.T) (*Transaction, error) {
		return cl.MakeInvoice(c, params)
	})
}

// LookupInvoice looks a payment up by hash or invoice; at least one must be
// given.
func (cl *Client) LookupInvoice(
	c context.T, params *LookupInvoiceParams,
) (tx *Transaction, err error) {
	if params == nil ||
		(params.PaymentHash == "" && params.Invoice == "") {
		return nil, &ProtocolError{
			Msg: "lookup_invoice needs a payment_hash or an invoice",
		}
	}
	var resp *WireResponse
	if resp, err = cl.roundTrip(c, LookupInvoice, params); err != nil {
		return
	}
	if resp.Error != nil {
		return nil, &WalletError{Err: *resp.Error}
	}
	return DecodeTransaction(resp.Result)
}

// LookupInvoiceRequest is the observable form of LookupInvoice.
func (cl *Client) LookupInvoiceRequest(
	params *LookupInvoiceParams,
) *RequestHandle[Transaction] {
	return observe(cl, func(c context.T) (*Transaction, error) {
		return cl.LookupInvoice(c, params)
	})
}

// ListTransactions returns the wallet's transaction history.
func (cl *Client) ListTransactions(
	c context.T, params *ListTransactionsParams,
) (txs []Transaction, err error) {
	var res *ListTransactionsResult
	if res, err = call[ListTransactionsResult](
		cl, c, ListTransactions, params,
	); err != nil {
		return
	}
	return res.Transactions, nil
}

// ListTransactionsRequest is the observable form of ListTransactions.
func (cl *Client) ListTransactionsRequest(
	params *ListTransactionsParams,
) *RequestHandle[ListTransactionsResult] {
	return observe(cl, func(c context.T) (*ListTransactionsResult, error) {
		return call[ListTransactionsResult](cl, c, ListTransactions, params)
	})
}

// SignMessage asks the wallet to sign an arbitrary message.
func (cl *Client) SignMessage(
	c context.T, params *SignMessageParams,
) (res *SignMessageResult, err error) {
	return call[SignMessageResult](cl, c, SignMessage, params)
}

// SignMessageRequest is the observable form of SignMessage.
func (cl *Client) SignMessageRequest(
	params *SignMessageParams,
) *RequestHandle[SignMessageResult] {
	return observe(cl, func(c context.T) (*SignMessageResult, error) {
		return cl.SignMessage(c, params)
	})
}

// RawRequest runs any method and returns the undecoded response envelope,
// for forward compatibility with methods this client has no types for.
func (cl *Client) RawRequest(
	c context.T, method Capability, params any,
) (resp *WireResponse, err error) {
	return cl.roundTrip(c, method, params)
}

// RefreshWalletMetadata fans a query for the wallet info event out across
// every ready relay; the first non-empty result wins, the parsed metadata
// is stored and the active encryption renegotiated.
func (cl *Client) RefreshWalletMetadata(c context.T) (
	md *WalletMetadata, err error,
) {
	c, cancel := cl.ensureDeadline(c)
	defer cancel()
	var ready []readyRelay
	if ready, err = cl.lifecycle.AwaitReady(c); err != nil {
		return nil, AsFailure(err)
	}
	if len(ready) == 0 {
		return nil, &NetworkError{Msg: "no relays available"}
	}
	qctx, qcancel := context.Cancel(c)
	defer qcancel()
	found := make(chan *event.E, len(ready))
	g, gctx := errgroup.WithContext(qctx)
	for _, rr := range ready {
		g.Go(func() error {
			out := rr.handle.Session.Query(
				gctx, InfoFilter(cl.creds.WalletPubkey),
				metadataQueryTimeout, DefaultRetryConfig,
			)
			if out.Kind == QuerySuccess && len(out.Events) > 0 {
				found <- out.Events[0]
				qcancel()
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(found)
	}()
	ev, ok := <-found
	if !ok || ev == nil {
		return nil, &NetworkError{Msg: "unable to fetch wallet metadata"}
	}
	if ev.Pubkey != cl.creds.WalletPubkey {
		return nil, &ProtocolError{Msg: "info event not authored by wallet"}
	}
	if md, err = ParseInfoEvent(ev); err != nil {
		return nil, AsFailure(err)
	}
	var scheme EncryptionScheme
	if scheme, err = SelectScheme(md, PreferredEncryptionOrder); err != nil {
		return nil, AsFailure(err)
	}
	cl.metadata.Store(md)
	cl.activeEnc.Store(string(scheme))
	return
}

// RefreshWalletMetadataRequest is the observable form of
// RefreshWalletMetadata.
func (cl *Client) RefreshWalletMetadataRequest() *RequestHandle[WalletMetadata] {
	return observe(cl, func(c context.T) (*WalletMetadata, error) {
		return cl.RefreshWalletMetadata(c)
	})
}

// DescribeWallet merges the connection URI, the latest metadata and node
// info and the negotiated encryption into one descriptor, fetching whatever
// is missing.
func (cl *Client) DescribeWallet(c context.T) (
	desc *WalletDescriptor, err error,
) {
	md := cl.Metadata()
	if md == nil {
		if md, err = cl.RefreshWalletMetadata(c); err != nil {
			return
		}
	}
	info := cl.info.Load()
	if info == nil {
		if info, err = cl.GetInfo(c); err != nil {
			return
		}
	}
	return &WalletDescriptor{
		URI:              cl.creds.BuildConnectionURI(),
		Metadata:         md,
		Info:             info,
		ActiveEncryption: cl.activeScheme(),
	}, nil
}

// Notifications subscribes to decoded wallet notifications. The returned
// cancel function releases the subscription; the channel is closed on
// cancel and on client close.
func (cl *Client) Notifications() (<-chan Notification, func()) {
	return cl.notifications.Subscribe()
}

// ConnectionStatus aggregates the current per-relay connection states.
func (cl *Client) ConnectionStatus() OverallStatus {
	statuses := make(map[string]ws.Status)
	for _, h := range cl.provider.RuntimeHandles() {
		statuses[h.URL] = h.Session.Status()
	}
	for _, url := range cl.creds.NormalizedRelays() {
		if _, ok := statuses[url]; !ok {
			statuses[url] = ws.Disconnected
		}
	}
	return Aggregate(statuses)
}

// Close cancels every pending awaiter, closes the notification channel,
// releases the sessions (and the runtime, when owned) and wipes the derived
// key material. Safe to call more than once.
func (cl *Client) Close() (err error) {
	if !cl.closed.CompareAndSwap(false, true) {
		return nil
	}
	cl.registry.CancelAll()
	cl.notifications.Close()
	cl.lifecycle.Close()
	cl.cancel(errors.New("client closed"))
	if cl.ownsProvider {
		err = cl.provider.Close()
	}
	cl.cipher.Close()
	cl.signer.Zero()
	return
}
