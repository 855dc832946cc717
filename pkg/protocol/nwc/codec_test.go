package nwc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/kind"
	"nwcly.dev/pkg/encoders/tags"
	"nwcly.dev/pkg/encoders/timestamp"
)

func TestEncodeRequest(t *testing.T) {
	b, err := EncodeRequest(
		PayInvoice, &PayInvoiceParams{Invoice: "lnbc1"},
	)
	require.NoError(t, err)
	assert.Equal(
		t,
		`{"method":"pay_invoice","params":{"invoice":"lnbc1"}}`,
		string(b),
	)
	// the same input encodes identically
	b2, err := EncodeRequest(
		PayInvoice, &PayInvoiceParams{Invoice: "lnbc1"},
	)
	require.NoError(t, err)
	assert.Equal(t, b, b2)
}

func TestDecodeResponse(t *testing.T) {
	resp, err := DecodeResponse(
		[]byte(`{"result_type":"get_balance","result":{"balance":1}}`),
	)
	require.NoError(t, err)
	assert.Equal(t, "get_balance", resp.ResultType)
	assert.Nil(t, resp.Error)

	resp, err = DecodeResponse(
		[]byte(`{"result_type":"pay_invoice","error":` +
			`{"code":"RESTRICTED","message":"no"}}`),
	)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "RESTRICTED", resp.Error.Code)

	// an empty error object means no error
	resp, err = DecodeResponse(
		[]byte(`{"result_type":"pay_invoice","error":{}}`),
	)
	require.NoError(t, err)
	assert.Nil(t, resp.Error)
}

func TestDecodeResponseProtocolViolations(t *testing.T) {
	var pe *ProtocolError
	_, err := DecodeResponse([]byte(`not json`))
	require.ErrorAs(t, err, &pe)
	_, err = DecodeResponse([]byte(`{"result":{}}`))
	require.ErrorAs(t, err, &pe)
	_, err = DecodeResponse([]byte(`[1,2,3]`))
	require.ErrorAs(t, err, &pe)
}

func TestDecodeTransaction(t *testing.T) {
	tx, err := DecodeTransaction([]byte(
		`{"type":"incoming","state":"settled","payment_hash":"ph",` +
			`"amount":2500,"created_at":1700000000,"fees_paid":10,` +
			`"metadata":{"comment":"hi"}}`,
	))
	require.NoError(t, err)
	assert.Equal(t, TxIncoming, tx.Type)
	assert.Equal(t, TxStateSettled, tx.State)
	assert.Equal(t, Msat(2500), tx.Amount)
	require.NotNil(t, tx.FeesPaid)
	assert.Equal(t, Msat(10), *tx.FeesPaid)
	// metadata survives verbatim
	assert.JSONEq(t, `{"comment":"hi"}`, string(tx.Metadata))
}

func TestDecodeTransactionRequiredFields(t *testing.T) {
	var pe *ProtocolError
	cases := []string{
		`{"payment_hash":"ph","amount":1,"created_at":1}`,
		`{"type":"incoming","amount":1,"created_at":1}`,
		`{"type":"incoming","payment_hash":"ph","created_at":1}`,
		`{"type":"incoming","payment_hash":"ph","amount":1}`,
		// an unrecognized direction is a protocol violation
		`{"type":"sideways","payment_hash":"ph","amount":1,"created_at":1}`,
	}
	for _, c := range cases {
		_, err := DecodeTransaction([]byte(c))
		require.ErrorAs(t, err, &pe, "case %s", c)
	}
}

func TestDecodeTransactionUnknownStateDropped(t *testing.T) {
	tx, err := DecodeTransaction([]byte(
		`{"type":"outgoing","state":"quantum","payment_hash":"ph",` +
			`"amount":1,"created_at":1}`,
	))
	require.NoError(t, err)
	assert.Empty(t, tx.State)
}

func TestDecodeNotification(t *testing.T) {
	n, err := DecodeNotification([]byte(
		`{"notification_type":"payment_received","notification":` +
			`{"type":"incoming","payment_hash":"ph","amount":5,` +
			`"created_at":1}}`,
	))
	require.NoError(t, err)
	assert.Equal(t, PaymentReceived, n.Type)
	assert.Equal(t, Msat(5), n.Transaction.Amount)
}

func infoEvent(content string, tt tags.T) *event.E {
	return &event.E{
		Content:   content,
		CreatedAt: timestamp.Now(),
		Kind:      kind.WalletInfo,
		Tags:      tt,
	}
}

func TestParseInfoEventCapabilities(t *testing.T) {
	md, err := ParseInfoEvent(infoEvent(
		"pay_invoice get_balance  something_new", tags.New(),
	))
	require.NoError(t, err)
	assert.Equal(
		t,
		[]Capability{PayInvoice, GetBalance, Capability("something_new")},
		md.Capabilities,
	)
}

func TestParseInfoEventEncryptionWhitespace(t *testing.T) {
	md, err := ParseInfoEvent(infoEvent(
		"pay_invoice", tagsWith("encryption", "nip44_v2   nip04"),
	))
	require.NoError(t, err)
	assert.Equal(t, []EncryptionScheme{Nip44V2, Nip04}, md.Encryptions)
	assert.False(t, md.DefaultedToNip04)
}

func TestParseInfoEventEncryptionCommas(t *testing.T) {
	md, err := ParseInfoEvent(infoEvent(
		"pay_invoice", tagsWith("encryption", "nip44_v2,nip04"),
	))
	require.NoError(t, err)
	assert.Equal(t, []EncryptionScheme{Nip44V2, Nip04}, md.Encryptions)
}

func TestParseInfoEventMissingEncryptionTag(t *testing.T) {
	md, err := ParseInfoEvent(infoEvent("pay_invoice", tags.New()))
	require.NoError(t, err)
	assert.Empty(t, md.Encryptions)
	assert.True(t, md.DefaultedToNip04)
	scheme, err := SelectScheme(md, PreferredEncryptionOrder)
	require.NoError(t, err)
	assert.Equal(t, Nip04, scheme)
}

func TestParseInfoEventNotifications(t *testing.T) {
	md, err := ParseInfoEvent(infoEvent(
		"pay_invoice",
		tagsWith("notifications", "payment_received payment_sent exotic"),
	))
	require.NoError(t, err)
	assert.Equal(
		t,
		[]NotificationType{
			PaymentReceived, PaymentSent, NotificationType("exotic"),
		},
		md.Notifications,
	)
}

func TestParseInfoEventWrongKind(t *testing.T) {
	ev := infoEvent("x", tags.New())
	ev.Kind = kind.WalletResponse
	var pe *ProtocolError
	_, err := ParseInfoEvent(ev)
	require.ErrorAs(t, err, &pe)
}

func TestTransactionJSONRoundTripsMetadata(t *testing.T) {
	tx := Transaction{
		Type:        TxIncoming,
		PaymentHash: "ph",
		Amount:      1,
		CreatedAt:   1,
		Metadata:    json.RawMessage(`{"a":[1,2,3]}`),
	}
	b, err := json.Marshal(tx)
	require.NoError(t, err)
	var back Transaction
	require.NoError(t, json.Unmarshal(b, &back))
	assert.JSONEq(t, string(tx.Metadata), string(back.Metadata))
}
