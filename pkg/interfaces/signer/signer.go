// Package signer defines the interface for schnorr signing identities used
// to author nostr events.
package signer

// I is a signing identity. Implementations hold a secp256k1 keypair; the
// public key is the 32 byte BIP-340 x-only form.
type I interface {
	// Generate creates a new random keypair.
	Generate() (err error)
	// InitSec initialises the identity from a 32 byte secret key.
	InitSec(sec []byte) (err error)
	// Sec returns the secret key bytes.
	Sec() []byte
	// Pub returns the 32 byte x-only public key.
	Pub() []byte
	// Sign produces a 64 byte schnorr signature over a 32 byte digest.
	Sign(digest []byte) (sig []byte, err error)
	// Verify checks a schnorr signature over a 32 byte digest.
	Verify(digest, sig []byte) (valid bool, err error)
	// Zero wipes the secret key material.
	Zero()
}
