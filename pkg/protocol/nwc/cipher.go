package nwc

import (
	"nwcly.dev/pkg/crypto/encryption"
	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/tag"
)

// Cipher holds the two per-peer secrets, derived once at client
// construction, and encrypts or decrypts under either scheme.
type Cipher struct {
	conversationKey []byte // nip44 v2
	sharedSecret    []byte // nip04
}

// NewCipher derives both secrets between the client secret key and the
// wallet public key.
func NewCipher(sec, walletPub []byte) (c *Cipher, err error) {
	c = &Cipher{}
	if c.conversationKey, err = encryption.ConversationKey(
		sec, walletPub,
	); err != nil {
		return nil, err
	}
	if c.sharedSecret, err = encryption.SharedSecretNip04(
		sec, walletPub,
	); err != nil {
		return nil, err
	}
	return
}

// Encrypt the plaintext under the given scheme.
func (c *Cipher) Encrypt(plaintext []byte, scheme EncryptionScheme) (
	payload string, err error,
) {
	switch scheme {
	case Nip44V2:
		return encryption.EncryptNip44(plaintext, c.conversationKey)
	case Nip04:
		return encryption.EncryptNip04(plaintext, c.sharedSecret)
	}
	return "", &EncryptionUnsupportedError{
		Msg: "cannot encrypt with scheme " + string(scheme),
	}
}

// Decrypt the payload under the given scheme.
func (c *Cipher) Decrypt(payload string, scheme EncryptionScheme) (
	plaintext []byte, err error,
) {
	switch scheme {
	case Nip44V2:
		return encryption.DecryptNip44(payload, c.conversationKey)
	case Nip04:
		return encryption.DecryptNip04(payload, c.sharedSecret)
	}
	return nil, &EncryptionUnsupportedError{
		Msg: "cannot decrypt with scheme " + string(scheme),
	}
}

// Close zeroes the derived key material.
func (c *Cipher) Close() {
	encryption.Zero(c.conversationKey)
	encryption.Zero(c.sharedSecret)
}

// SelectScheme picks the active scheme from wallet metadata given a
// preference order. Unsupported advertised schemes are ignored; an empty
// advertisement only passes when the info event defaulted to nip04.
func SelectScheme(
	md *WalletMetadata, prefs []EncryptionScheme,
) (scheme EncryptionScheme, err error) {
	var candidates []EncryptionScheme
	for _, e := range md.Encryptions {
		if e.Supported() {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		if md.DefaultedToNip04 {
			return Nip04, nil
		}
		return "", &EncryptionUnsupportedError{
			Msg: "wallet advertises no supported encryption scheme",
		}
	}
	for _, p := range prefs {
		for _, c := range candidates {
			if c == p {
				return c, nil
			}
		}
	}
	return candidates[0], nil
}

// SchemeForEvent returns the scheme to decrypt an inbound event with. The
// event's encryption tag is authoritative when it names a supported scheme;
// otherwise the active scheme is inferred.
func SchemeForEvent(ev *event.E, active EncryptionScheme) (
	scheme EncryptionScheme, fromTag bool,
) {
	if encTag := ev.Tags.GetFirst(tag.New("encryption")); encTag != nil {
		if s := EncryptionScheme(encTag.Value()); s.Supported() {
			return s, true
		}
	}
	return active, false
}

// DecryptEvent applies the decryption policy: decrypt with the scheme for
// the event; on failure, when the scheme was inferred rather than tagged and
// the wallet advertises nip04, retry once with nip04; if that also fails the
// original failure propagates.
func (c *Cipher) DecryptEvent(
	ev *event.E, active EncryptionScheme, md *WalletMetadata,
) (plaintext []byte, err error) {
	scheme, fromTag := SchemeForEvent(ev, active)
	if plaintext, err = c.Decrypt(ev.Content, scheme); err == nil {
		return
	}
	if !fromTag && scheme != Nip04 && md.AdvertisesEncryption(Nip04) {
		if retried, retryErr := c.Decrypt(ev.Content, Nip04); retryErr == nil {
			return retried, nil
		}
	}
	return nil, err
}
