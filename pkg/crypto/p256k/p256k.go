// Package p256k implements the signer.I identity interface over the btcec
// secp256k1 library, plus the ECDH used to derive direct message secrets.
package p256k

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nwcly.dev/pkg/encoders/hex"
	"nwcly.dev/pkg/utils/errorf"
)

// Signer is a secp256k1 schnorr signing identity.
type Signer struct {
	sec *btcec.PrivateKey
	pub []byte
}

// Generate creates a new random keypair.
func (s *Signer) Generate() (err error) {
	if s.sec, err = btcec.NewPrivateKey(); err != nil {
		return
	}
	s.pub = schnorr.SerializePubKey(s.sec.PubKey())
	return
}

// InitSec initialises the signer from a 32 byte secret key.
func (s *Signer) InitSec(sec []byte) (err error) {
	if len(sec) != 32 {
		return errorf.E("secret key must be 32 bytes, got %d", len(sec))
	}
	s.sec, _ = btcec.PrivKeyFromBytes(sec)
	s.pub = schnorr.SerializePubKey(s.sec.PubKey())
	return
}

// Sec returns the secret key bytes.
func (s *Signer) Sec() []byte {
	if s.sec == nil {
		return nil
	}
	return s.sec.Serialize()
}

// Pub returns the 32 byte x-only public key.
func (s *Signer) Pub() []byte { return s.pub }

// Sign produces a 64 byte schnorr signature over a 32 byte digest.
func (s *Signer) Sign(digest []byte) (sig []byte, err error) {
	if s.sec == nil {
		err = errorf.E("signer has no secret key")
		return
	}
	var ss *schnorr.Signature
	if ss, err = schnorr.Sign(s.sec, digest); err != nil {
		return
	}
	sig = ss.Serialize()
	return
}

// Verify checks a schnorr signature over a 32 byte digest against the
// signer's public key.
func (s *Signer) Verify(digest, sig []byte) (valid bool, err error) {
	return VerifyWithPub(s.pub, digest, sig)
}

// Zero wipes the secret key material.
func (s *Signer) Zero() {
	if s.sec != nil {
		s.sec.Zero()
		s.sec = nil
	}
}

// VerifyWithPub checks a schnorr signature over a digest against a 32 byte
// x-only public key.
func VerifyWithPub(pub, digest, sig []byte) (valid bool, err error) {
	var pk *btcec.PublicKey
	if pk, err = schnorr.ParsePubKey(pub); err != nil {
		return
	}
	var ss *schnorr.Signature
	if ss, err = schnorr.ParseSignature(sig); err != nil {
		return
	}
	valid = ss.Verify(digest, pk)
	return
}

// ParsePub lifts a 32 byte x-only public key onto the curve.
func ParsePub(pub []byte) (pk *btcec.PublicKey, err error) {
	return schnorr.ParsePubKey(pub)
}

// ECDH returns the 32 byte x coordinate of sec * pub, the raw shared point
// both direct message schemes start from.
func ECDH(sec *btcec.PrivateKey, pub []byte) (shared []byte, err error) {
	var pk *btcec.PublicKey
	if pk, err = schnorr.ParsePubKey(pub); err != nil {
		return
	}
	var point, tweak btcec.JacobianPoint
	pk.AsJacobian(&point)
	btcec.ScalarMultNonConst(&sec.Key, &point, &tweak)
	tweak.ToAffine()
	shared = make([]byte, 32)
	tweak.X.PutBytesUnchecked(shared)
	return
}

// SecFromBytes lifts 32 secret key bytes into a private key.
func SecFromBytes(sec []byte) (k *btcec.PrivateKey, err error) {
	if len(sec) != 32 {
		return nil, errorf.E("secret key must be 32 bytes, got %d", len(sec))
	}
	k, _ = btcec.PrivKeyFromBytes(sec)
	return
}

// HexToBin decodes a 32 byte hex key, validating its length.
func HexToBin(s string) (b []byte, err error) {
	if b, err = hex.Dec(s); err != nil {
		return
	}
	if len(b) != 32 {
		return nil, errorf.E("key must be 32 bytes, got %d", len(b))
	}
	return
}
