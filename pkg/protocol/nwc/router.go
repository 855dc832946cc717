package nwc

import (
	"encoding/json"

	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/kind"
	"nwcly.dev/pkg/encoders/tag"
	"nwcly.dev/pkg/utils/log"
)

// sink is the output callback handed to the session provider; it dispatches
// every inbound event by kind.
func (cl *Client) sink(url string, ev *event.E) {
	defer func() {
		if r := recover(); r != nil {
			log.E.F("{%s} event handler panic: %v", url, r)
		}
	}()
	switch {
	case ev.Kind.Equal(kind.WalletResponse):
		cl.handleResponseEvent(url, ev, "")
	case ev.Kind.Equal(kind.WalletNotification):
		cl.handleNotificationEvent(url, ev)
	default:
		log.T.F("{%s} ignoring event of kind %s", url, ev.Kind)
	}
}

// authentic checks that the event was authored by the wallet and, when a p
// tag is present, that it addresses this client.
func (cl *Client) authentic(ev *event.E) bool {
	if ev.Pubkey != cl.creds.WalletPubkey {
		return false
	}
	if pTag := ev.Tags.GetFirst(tag.New("p")); pTag != nil {
		return pTag.Value() == cl.clientPub
	}
	return true
}

// handleResponseEvent decrypts, correlates and delivers a response event.
// overrideID is the correlation the engine already knows, for multi
// responses that arrive without an e tag.
func (cl *Client) handleResponseEvent(
	url string, ev *event.E, overrideID string,
) {
	if !cl.authentic(ev) {
		log.D.F("{%s} dropping inauthentic response %s", url, ev.ID)
		return
	}
	plain, err := cl.cipher.DecryptEvent(
		ev, cl.activeScheme(), cl.Metadata(),
	)
	if err != nil {
		log.D.F("{%s} cannot decrypt response %s: %v", url, ev.ID, err)
		return
	}
	resp, err := DecodeResponse(plain)
	if err != nil {
		log.D.F("{%s} cannot decode response %s: %v", url, ev.ID, err)
		return
	}
	id := ""
	if eTag := ev.Tags.GetFirst(tag.New("e")); eTag != nil {
		id = eTag.Value()
	}
	if id == "" {
		id = overrideID
	}
	if id == "" {
		var ok bool
		if id, ok = cl.registry.ResolveRequestID(resp); !ok {
			log.D.F("{%s} uncorrelatable response %s", url, ev.ID)
			return
		}
	}
	if cl.registry.CompleteSingle(id, resp) == SingleCompleted {
		return
	}
	// a multi item: keyed by d tag, falling back to the payment hash in
	// the result
	key := ""
	if dTag := ev.Tags.GetFirst(tag.New("d")); dTag != nil {
		key = dTag.Value()
	}
	if key == "" && len(resp.Result) > 0 {
		var probe struct {
			PaymentHash string `json:"payment_hash"`
		}
		if json.Unmarshal(resp.Result, &probe) == nil {
			key = probe.PaymentHash
		}
	}
	if key == "" {
		log.T.F("{%s} multi response without item key on %s", url, ev.ID)
		return
	}
	cl.registry.AddMulti(id, key, resp)
}

// handleNotificationEvent decrypts and decodes a push notification and
// emits it into the broadcast channel. Unknown notification types drop.
func (cl *Client) handleNotificationEvent(url string, ev *event.E) {
	if !cl.authentic(ev) {
		log.D.F("{%s} dropping inauthentic notification %s", url, ev.ID)
		return
	}
	plain, err := cl.cipher.DecryptEvent(
		ev, cl.activeScheme(), cl.Metadata(),
	)
	if err != nil {
		log.D.F("{%s} cannot decrypt notification %s: %v", url, ev.ID, err)
		return
	}
	n, err := DecodeNotification(plain)
	if err != nil {
		log.D.F("{%s} cannot decode notification %s: %v", url, ev.ID, err)
		return
	}
	switch n.Type {
	case PaymentReceived, PaymentSent:
		cl.notifications.Publish(*n)
	default:
		log.T.F("{%s} dropping unknown notification type %s", url, n.Type)
	}
}
