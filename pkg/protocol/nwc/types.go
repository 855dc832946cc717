// Package nwc implements the client side of the Nostr Wallet Connect
// protocol (NIP-47): typed wallet operations delivered as signed, encrypted
// events to a wallet service over one or more relays, with response
// correlation and push notifications.
package nwc

import (
	"encoding/json"
	"strings"
)

// Msat is a non-negative amount in millisatoshi.
type Msat uint64

// Capability represents a NIP-47 method name.
type Capability string

var (
	GetInfo          = Capability("get_info")
	GetBalance       = Capability("get_balance")
	MakeInvoice      = Capability("make_invoice")
	PayInvoice       = Capability("pay_invoice")
	PayKeysend       = Capability("pay_keysend")
	LookupInvoice    = Capability("lookup_invoice")
	ListTransactions = Capability("list_transactions")
	SignMessage      = Capability("sign_message")
	MultiPayInvoice  = Capability("multi_pay_invoice")
	MultiPayKeysend  = Capability("multi_pay_keysend")
)

// EncryptionScheme names a NIP-47 content encryption. Values the client does
// not recognize are carried through verbatim so wallets can advertise future
// schemes; only the two known schemes can ever become active.
type EncryptionScheme string

var (
	Nip44V2 = EncryptionScheme("nip44_v2")
	Nip04   = EncryptionScheme("nip04")
)

// Supported reports whether the client can actually use the scheme.
func (e EncryptionScheme) Supported() bool {
	return e == Nip44V2 || e == Nip04
}

// PreferredEncryptionOrder is the negotiation preference, best first.
var PreferredEncryptionOrder = []EncryptionScheme{Nip44V2, Nip04}

// ParseEncryptionList splits a tag value into scheme tokens; wallets use
// space or comma separators in the wild.
func ParseEncryptionList(s string) (schemes []EncryptionScheme) {
	for _, tok := range strings.FieldsFunc(
		s, func(r rune) bool { return r == ' ' || r == ',' },
	) {
		if tok != "" {
			schemes = append(schemes, EncryptionScheme(tok))
		}
	}
	return
}

// NotificationType names a NIP-47 push notification. Unknown values survive
// parsing verbatim.
type NotificationType string

var (
	PaymentReceived = NotificationType("payment_received")
	PaymentSent     = NotificationType("payment_sent")
)

// Notification is a decoded wallet push notification.
type Notification struct {
	Type        NotificationType
	Transaction *Transaction
}

// WalletMetadata is the parsed form of the wallet info event (kind 13194).
type WalletMetadata struct {
	Capabilities  []Capability
	Encryptions   []EncryptionScheme
	Notifications []NotificationType

	// DefaultedToNip04 is set when the info event carried no encryption
	// tag, in which case NIP-47 specifies nip04.
	DefaultedToNip04 bool
}

// HasCapability reports whether the wallet advertises the method.
func (m *WalletMetadata) HasCapability(c Capability) bool {
	if m == nil {
		return false
	}
	for _, cc := range m.Capabilities {
		if cc == c {
			return true
		}
	}
	return false
}

// AdvertisesEncryption reports whether the wallet advertises the scheme.
func (m *WalletMetadata) AdvertisesEncryption(e EncryptionScheme) bool {
	if m == nil {
		return false
	}
	for _, ee := range m.Encryptions {
		if ee == e {
			return true
		}
	}
	return false
}

// HasNotification reports whether the wallet advertises the notification.
func (m *WalletMetadata) HasNotification(n NotificationType) bool {
	if m == nil {
		return false
	}
	for _, nn := range m.Notifications {
		if nn == n {
			return true
		}
	}
	return false
}

// NwcError is the wallet side error envelope from a response.
type NwcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error renders the code and message as one string.
func (e *NwcError) Error() string {
	return e.Code + " " + e.Message
}

// WireResponse is the decoded but untyped response envelope.
type WireResponse struct {
	ResultType string          `json:"result_type"`
	Result     json.RawMessage `json:"result"`
	Error      *NwcError       `json:"error"`
}

// WireRequest is the plaintext request body before encryption.
type WireRequest struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// MultiResult is the per-item outcome of a multi request: either a typed
// result or the wallet's error for that item.
type MultiResult[T any] struct {
	Result *T
	Err    *NwcError
}

// Ok reports whether the item succeeded.
func (m MultiResult[T]) Ok() bool { return m.Err == nil }

// Transaction is a payment record, shared by lookup, listing, invoice
// creation and notifications.
type Transaction struct {
	Type            string          `json:"type"`
	State           string          `json:"state,omitempty"`
	Invoice         string          `json:"invoice,omitempty"`
	Description     string          `json:"description,omitempty"`
	DescriptionHash string          `json:"description_hash,omitempty"`
	Preimage        string          `json:"preimage,omitempty"`
	PaymentHash     string          `json:"payment_hash"`
	Amount          Msat            `json:"amount"`
	FeesPaid        *Msat           `json:"fees_paid,omitempty"`
	CreatedAt       int64           `json:"created_at"`
	ExpiresAt       *int64          `json:"expires_at,omitempty"`
	SettledAt       *int64          `json:"settled_at,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// Transaction directions and states as they appear on the wire.
const (
	TxIncoming = "incoming"
	TxOutgoing = "outgoing"

	TxStatePending = "pending"
	TxStateSettled = "settled"
	TxStateExpired = "expired"
	TxStateFailed  = "failed"
	TxStateUnknown = "unknown"
)

// GetBalanceResult is the result of get_balance.
type GetBalanceResult struct {
	Balance Msat `json:"balance"`
}

// GetInfoResult is the result of get_info.
type GetInfoResult struct {
	Alias         string             `json:"alias"`
	Color         string             `json:"color"`
	Pubkey        string             `json:"pubkey"`
	Network       string             `json:"network"`
	BlockHeight   *uint64            `json:"block_height,omitempty"`
	BlockHash     *string            `json:"block_hash,omitempty"`
	Methods       []Capability       `json:"methods"`
	Notifications []NotificationType `json:"notifications,omitempty"`
}

// Networks a wallet can report; anything else normalizes to unknown.
const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkSignet  = "signet"
	NetworkRegtest = "regtest"
	NetworkUnknown = "unknown"
)

// NormalizeNetwork maps a reported network name onto the known set.
func NormalizeNetwork(s string) string {
	switch strings.ToLower(s) {
	case NetworkMainnet, NetworkTestnet, NetworkSignet, NetworkRegtest:
		return strings.ToLower(s)
	}
	return NetworkUnknown
}

// PayInvoiceParams are the parameters of pay_invoice.
type PayInvoiceParams struct {
	Invoice  string `json:"invoice"`
	Amount   *Msat  `json:"amount,omitempty"`
	Metadata any    `json:"metadata,omitempty"`
}

// PayResult is the success result of the payment methods.
type PayResult struct {
	Preimage string `json:"preimage"`
	FeesPaid *Msat  `json:"fees_paid,omitempty"`
}

// MultiPayInvoiceItem is one invoice of a multi_pay_invoice batch.
type MultiPayInvoiceItem struct {
	ID       string `json:"id,omitempty"`
	Invoice  string `json:"invoice"`
	Amount   *Msat  `json:"amount,omitempty"`
	Metadata any    `json:"metadata,omitempty"`
}

// MultiPayInvoiceParams are the parameters of multi_pay_invoice.
type MultiPayInvoiceParams struct {
	Invoices []MultiPayInvoiceItem `json:"invoices"`
}

// TLVRecord is a custom TLV attached to a keysend payment.
type TLVRecord struct {
	Type  uint64 `json:"type"`
	Value string `json:"value"`
}

// PayKeysendParams are the parameters of pay_keysend.
type PayKeysendParams struct {
	Pubkey     string      `json:"pubkey"`
	Amount     Msat        `json:"amount"`
	Preimage   string      `json:"preimage,omitempty"`
	TLVRecords []TLVRecord `json:"tlv_records,omitempty"`
}

// MultiPayKeysendItem is one payment of a multi_pay_keysend batch.
type MultiPayKeysendItem struct {
	ID         string      `json:"id,omitempty"`
	Pubkey     string      `json:"pubkey"`
	Amount     Msat        `json:"amount"`
	Preimage   string      `json:"preimage,omitempty"`
	TLVRecords []TLVRecord `json:"tlv_records,omitempty"`
}

// MultiPayKeysendParams are the parameters of multi_pay_keysend.
type MultiPayKeysendParams struct {
	Keysends []MultiPayKeysendItem `json:"keysends"`
}

// MakeInvoiceParams are the parameters of make_invoice.
type MakeInvoiceParams struct {
	Amount          Msat    `json:"amount"`
	Description     string  `json:"description,omitempty"`
	DescriptionHash string  `json:"description_hash,omitempty"`
	Expiry          *uint32 `json:"expiry,omitempty"`
	Metadata        any     `json:"metadata,omitempty"`
}

// LookupInvoiceParams are the parameters of lookup_invoice; at least one of
// the two fields must be set.
type LookupInvoiceParams struct {
	PaymentHash string `json:"payment_hash,omitempty"`
	Invoice     string `json:"invoice,omitempty"`
}

// ListTransactionsParams are the parameters of list_transactions.
type ListTransactionsParams struct {
	From   *uint64 `json:"from,omitempty"`
	Until  *uint64 `json:"until,omitempty"`
	Limit  *uint16 `json:"limit,omitempty"`
	Offset *uint32 `json:"offset,omitempty"`
	Unpaid bool    `json:"unpaid"`
	Type   string  `json:"type,omitempty"`
}

// ListTransactionsResult is the result of list_transactions.
type ListTransactionsResult struct {
	Transactions []Transaction `json:"transactions"`
}

// SignMessageParams are the parameters of sign_message.
type SignMessageParams struct {
	Message string `json:"message"`
}

// SignMessageResult is the result of sign_message.
type SignMessageResult struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// WalletDescriptor merges everything known about the wallet behind a
// connection.
type WalletDescriptor struct {
	URI              string
	Metadata         *WalletMetadata
	Info             *GetInfoResult
	ActiveEncryption EncryptionScheme
}
