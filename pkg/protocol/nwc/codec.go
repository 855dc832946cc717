package nwc

import (
	"bytes"
	"encoding/json"
	"strings"

	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/kind"
	"nwcly.dev/pkg/encoders/tag"
)

// EncodeRequest serializes a request body {method, params} to minified JSON.
func EncodeRequest(method Capability, params any) (b []byte, err error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err = enc.Encode(
		WireRequest{Method: string(method), Params: params},
	); err != nil {
		return
	}
	b = bytes.TrimRight(buf.Bytes(), "\n")
	return
}

// DecodeResponse parses a response envelope {result_type, result, error}.
// Anything that is not a JSON object with a result_type is a protocol
// violation.
func DecodeResponse(b []byte) (resp *WireResponse, err error) {
	resp = &WireResponse{}
	if err = json.Unmarshal(b, resp); err != nil {
		return nil, &ProtocolError{
			Msg: "response is not a JSON object: " + err.Error(),
		}
	}
	if resp.ResultType == "" {
		return nil, &ProtocolError{Msg: "response has no result_type"}
	}
	if resp.Error != nil && resp.Error.Code == "" {
		// an empty error object means no error
		resp.Error = nil
	}
	return
}

// transactionWire shadows Transaction with pointers so required fields can
// be told apart from zero values.
type transactionWire struct {
	Type            *string         `json:"type"`
	State           *string         `json:"state"`
	Invoice         string          `json:"invoice"`
	Description     string          `json:"description"`
	DescriptionHash string          `json:"description_hash"`
	Preimage        string          `json:"preimage"`
	PaymentHash     *string         `json:"payment_hash"`
	Amount          *uint64         `json:"amount"`
	FeesPaid        *Msat           `json:"fees_paid"`
	CreatedAt       *int64          `json:"created_at"`
	ExpiresAt       *int64          `json:"expires_at"`
	SettledAt       *int64          `json:"settled_at"`
	Metadata        json.RawMessage `json:"metadata"`
}

// DecodeTransaction parses a transaction object, requiring type,
// payment_hash, amount and created_at. An unrecognized direction is a
// protocol violation; an unrecognized state is dropped.
func DecodeTransaction(raw json.RawMessage) (tx *Transaction, err error) {
	var w transactionWire
	if err = json.Unmarshal(raw, &w); err != nil {
		return nil, &ProtocolError{
			Msg: "transaction is not a JSON object: " + err.Error(),
		}
	}
	switch {
	case w.Type == nil:
		return nil, &ProtocolError{Msg: "transaction missing type"}
	case w.PaymentHash == nil:
		return nil, &ProtocolError{Msg: "transaction missing payment_hash"}
	case w.Amount == nil:
		return nil, &ProtocolError{Msg: "transaction missing amount"}
	case w.CreatedAt == nil:
		return nil, &ProtocolError{Msg: "transaction missing created_at"}
	}
	if *w.Type != TxIncoming && *w.Type != TxOutgoing {
		return nil, &ProtocolError{
			Msg: "unrecognized transaction type " + *w.Type,
		}
	}
	tx = &Transaction{
		Type:            *w.Type,
		Invoice:         w.Invoice,
		Description:     w.Description,
		DescriptionHash: w.DescriptionHash,
		Preimage:        w.Preimage,
		PaymentHash:     *w.PaymentHash,
		Amount:          Msat(*w.Amount),
		FeesPaid:        w.FeesPaid,
		CreatedAt:       *w.CreatedAt,
		ExpiresAt:       w.ExpiresAt,
		SettledAt:       w.SettledAt,
		Metadata:        w.Metadata,
	}
	if w.State != nil {
		switch *w.State {
		case TxStatePending, TxStateSettled, TxStateExpired, TxStateFailed,
			TxStateUnknown:
			tx.State = *w.State
		}
	}
	return
}

// notificationWire is the plaintext body of a notification event.
type notificationWire struct {
	NotificationType string          `json:"notification_type"`
	Notification     json.RawMessage `json:"notification"`
}

// DecodeNotification parses a decrypted notification body into its type and
// transaction.
func DecodeNotification(b []byte) (n *Notification, err error) {
	var w notificationWire
	if err = json.Unmarshal(b, &w); err != nil {
		return nil, &ProtocolError{
			Msg: "notification is not a JSON object: " + err.Error(),
		}
	}
	if w.NotificationType == "" {
		return nil, &ProtocolError{Msg: "notification has no type"}
	}
	var tx *Transaction
	if tx, err = DecodeTransaction(w.Notification); err != nil {
		return nil, err
	}
	return &Notification{
		Type:        NotificationType(w.NotificationType),
		Transaction: tx,
	}, nil
}

// ParseInfoEvent decodes a wallet info event (kind 13194) into metadata: the
// content is a whitespace separated capability list; the encryption tag
// holds scheme tokens; the notifications tag's first value holds a space
// separated type list.
func ParseInfoEvent(ev *event.E) (md *WalletMetadata, err error) {
	if !ev.Kind.Equal(kind.WalletInfo) {
		return nil, &ProtocolError{
			Msg: "info event has kind " + ev.Kind.String(),
		}
	}
	md = &WalletMetadata{}
	for _, tok := range strings.Fields(ev.Content) {
		md.Capabilities = append(md.Capabilities, Capability(tok))
	}
	if encTag := ev.Tags.GetFirst(tag.New("encryption")); encTag != nil {
		md.Encryptions = ParseEncryptionList(encTag.Value())
	} else {
		// NIP-47 default when the wallet predates the encryption tag
		md.DefaultedToNip04 = true
	}
	if ntfTag := ev.Tags.GetFirst(tag.New("notifications")); ntfTag != nil {
		for _, tok := range strings.Fields(ntfTag.Value()) {
			md.Notifications = append(
				md.Notifications, NotificationType(tok),
			)
		}
	}
	return
}
