// Package event is a codec for nostr events: the JSON wire form, the
// canonical form that is hashed to produce the event ID, and signing and
// verification over it.
package event

import (
	"bytes"
	"encoding/json"

	"github.com/minio/sha256-simd"

	"nwcly.dev/pkg/crypto/p256k"
	"nwcly.dev/pkg/encoders/hex"
	"nwcly.dev/pkg/encoders/kind"
	"nwcly.dev/pkg/encoders/tags"
	"nwcly.dev/pkg/encoders/timestamp"
	"nwcly.dev/pkg/interfaces/signer"
	"nwcly.dev/pkg/utils/errorf"
)

// E is the primary datatype of nostr. Identifiers and the signature are
// lower case hex strings as on the wire.
type E struct {
	// ID is the SHA256 hash of the canonical encoding of the event.
	ID string `json:"id"`
	// Pubkey is the x-only public key of the event author.
	Pubkey string `json:"pubkey"`
	// CreatedAt is the unix timestamp claimed by the author.
	CreatedAt *timestamp.T `json:"created_at"`
	// Kind is the protocol code for the type of event.
	Kind *kind.T `json:"kind"`
	// Tags is the list of tags, a three-ish layer scheme of strings.
	Tags tags.T `json:"tags"`
	// Content is an arbitrary string, interpreted per Kind.
	Content string `json:"content"`
	// Sig is the schnorr signature over ID by Pubkey.
	Sig string `json:"sig"`
}

// S is a list of events that sorts in reverse chronological order.
type S []*E

// Len returns the length of the list.
func (ev S) Len() int { return len(ev) }

// Less returns whether the first is newer than the second.
func (ev S) Less(i, j int) bool {
	return ev[i].CreatedAt.I64() > ev[j].CreatedAt.I64()
}

// Swap two indexes of the list with each other.
func (ev S) Swap(i, j int) { ev[i], ev[j] = ev[j], ev[i] }

// C is a channel that carries events.
type C chan *E

// New makes a new event.E.
func New() (ev *E) { return &E{Tags: tags.New()} }

// marshalNoEscape is encoding/json without HTML escaping, which the nostr
// canonical form requires.
func marshalNoEscape(v any) (b []byte, err error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err = enc.Encode(v); err != nil {
		return
	}
	b = bytes.TrimRight(buf.Bytes(), "\n")
	return
}

// Serialize renders the event into minified JSON.
func (ev *E) Serialize() (b []byte) {
	b, _ = marshalNoEscape(ev)
	return
}

// Canonical renders the form that is hashed to produce the event ID:
// [0,pubkey,created_at,kind,tags,content].
func (ev *E) Canonical() (b []byte, err error) {
	t := ev.Tags
	if t == nil {
		t = tags.New()
	}
	return marshalNoEscape(
		[]any{0, ev.Pubkey, ev.CreatedAt.I64(), ev.Kind.Int(), t, ev.Content},
	)
}

// GetID computes the event ID from the canonical form.
func (ev *E) GetID() (id []byte, err error) {
	var b []byte
	if b, err = ev.Canonical(); err != nil {
		return
	}
	h := sha256.Sum256(b)
	id = h[:]
	return
}

// Sign fills in Pubkey, ID and Sig using the given signer. CreatedAt is set
// to now if it is missing.
func (ev *E) Sign(sign signer.I) (err error) {
	if ev.CreatedAt == nil {
		ev.CreatedAt = timestamp.Now()
	}
	ev.Pubkey = hex.Enc(sign.Pub())
	var id []byte
	if id, err = ev.GetID(); err != nil {
		return
	}
	ev.ID = hex.Enc(id)
	var sig []byte
	if sig, err = sign.Sign(id); err != nil {
		return
	}
	ev.Sig = hex.Enc(sig)
	return
}

// Verify checks that the ID matches the canonical form and the signature
// validates against the author's public key.
func (ev *E) Verify() (valid bool, err error) {
	var id []byte
	if id, err = ev.GetID(); err != nil {
		return
	}
	if hex.Enc(id) != ev.ID {
		return false, errorf.T("event ID does not match canonical form")
	}
	var pub, sig []byte
	if pub, err = hex.Dec(ev.Pubkey); err != nil {
		return
	}
	if sig, err = hex.Dec(ev.Sig); err != nil {
		return
	}
	return p256k.VerifyWithPub(pub, id, sig)
}
