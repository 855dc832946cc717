// Package encryption implements the two nostr direct message ciphers used by
// wallet connect: NIP-44 version 2 (chacha20 with an hmac) and the legacy
// NIP-04 (AES-256-CBC). Both operate on secrets derived once per peer.
package encryption

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"math"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/frand"

	"nwcly.dev/pkg/crypto/p256k"
	"nwcly.dev/pkg/utils/errorf"
)

const (
	nip44Version     = 2
	nip44Salt        = "nip44-v2"
	minPlaintextSize = 1
	maxPlaintextSize = 65535
)

// ConversationKey derives the NIP-44 v2 conversation key between a secret key
// and a peer's x-only public key: hkdf-extract over the ECDH x coordinate
// with the "nip44-v2" salt.
func ConversationKey(sec, peerPub []byte) (ck []byte, err error) {
	sk, err := p256k.SecFromBytes(sec)
	if err != nil {
		return
	}
	var shared []byte
	if shared, err = p256k.ECDH(sk, peerPub); err != nil {
		return
	}
	ck = hkdf.Extract(sha256.New, shared, []byte(nip44Salt))
	return
}

func messageKeys(ck, nonce []byte) (
	chachaKey, chachaNonce, hmacKey []byte, err error,
) {
	if len(ck) != 32 {
		err = errorf.E("conversation key must be 32 bytes, got %d", len(ck))
		return
	}
	if len(nonce) != 32 {
		err = errorf.E("nonce must be 32 bytes, got %d", len(nonce))
		return
	}
	keys := make([]byte, 76)
	if _, err = hkdf.Expand(sha256.New, ck, nonce).Read(keys); err != nil {
		return
	}
	return keys[0:32], keys[32:44], keys[44:76], nil
}

func calcPaddedLen(unpadded int) int {
	if unpadded <= 32 {
		return 32
	}
	nextPower := 1 << int(math.Floor(math.Log2(float64(unpadded-1)))+1)
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((unpadded-1)/chunk + 1)
}

func pad(plaintext []byte) (padded []byte, err error) {
	n := len(plaintext)
	if n < minPlaintextSize || n > maxPlaintextSize {
		return nil, errorf.E("invalid plaintext length %d", n)
	}
	padded = make([]byte, 2+calcPaddedLen(n))
	binary.BigEndian.PutUint16(padded[0:2], uint16(n))
	copy(padded[2:], plaintext)
	return
}

func unpad(padded []byte) (plaintext []byte, err error) {
	if len(padded) < 2 {
		return nil, errorf.T("padded data too short")
	}
	n := int(binary.BigEndian.Uint16(padded[0:2]))
	if n == 0 || n > len(padded)-2 {
		return nil, errorf.T("invalid padding")
	}
	if len(padded) != 2+calcPaddedLen(n) {
		return nil, errorf.T("invalid padded length")
	}
	return padded[2 : 2+n], nil
}

func hmacAad(key, message, aad []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(aad)
	h.Write(message)
	return h.Sum(nil)
}

// EncryptNip44 encrypts a plaintext under the conversation key, returning the
// base64 payload: version || nonce || ciphertext || mac.
func EncryptNip44(plaintext []byte, ck []byte) (payload string, err error) {
	nonce := frand.Bytes(32)
	return encryptNip44(plaintext, ck, nonce)
}

func encryptNip44(plaintext, ck, nonce []byte) (payload string, err error) {
	chachaKey, chachaNonce, hmacKey, err := messageKeys(ck, nonce)
	if err != nil {
		return
	}
	var padded []byte
	if padded, err = pad(plaintext); err != nil {
		return
	}
	var c *chacha20.Cipher
	if c, err = chacha20.NewUnauthenticatedCipher(
		chachaKey, chachaNonce,
	); err != nil {
		return
	}
	ciphertext := make([]byte, len(padded))
	c.XORKeyStream(ciphertext, padded)
	mac := hmacAad(hmacKey, ciphertext, nonce)
	out := make([]byte, 0, 1+32+len(ciphertext)+32)
	out = append(out, nip44Version)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	out = append(out, mac...)
	payload = base64.StdEncoding.EncodeToString(out)
	return
}

// DecryptNip44 decrypts a base64 NIP-44 payload under the conversation key.
func DecryptNip44(payload string, ck []byte) (plaintext []byte, err error) {
	if len(payload) > 0 && payload[0] == '#' {
		return nil, errorf.T("unsupported encryption version")
	}
	var data []byte
	if data, err = base64.StdEncoding.DecodeString(payload); err != nil {
		return nil, errorf.T("invalid base64 payload")
	}
	if len(data) < 99 || len(data) > 65603 {
		return nil, errorf.T("invalid payload size %d", len(data))
	}
	if data[0] != nip44Version {
		return nil, errorf.T("unknown encryption version %d", data[0])
	}
	nonce := data[1:33]
	ciphertext := data[33 : len(data)-32]
	mac := data[len(data)-32:]
	chachaKey, chachaNonce, hmacKey, err := messageKeys(ck, nonce)
	if err != nil {
		return
	}
	if !hmac.Equal(hmacAad(hmacKey, ciphertext, nonce), mac) {
		return nil, errorf.T("invalid mac")
	}
	var c *chacha20.Cipher
	if c, err = chacha20.NewUnauthenticatedCipher(
		chachaKey, chachaNonce,
	); err != nil {
		return
	}
	padded := make([]byte, len(ciphertext))
	c.XORKeyStream(padded, ciphertext)
	return unpad(padded)
}
