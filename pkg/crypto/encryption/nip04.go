package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"strings"

	"lukechampine.com/frand"

	"nwcly.dev/pkg/crypto/p256k"
	"nwcly.dev/pkg/utils/errorf"
)

// SharedSecretNip04 derives the legacy NIP-04 shared secret between a secret
// key and a peer's x-only public key: the raw ECDH x coordinate, unhashed.
func SharedSecretNip04(sec, peerPub []byte) (ss []byte, err error) {
	sk, err := p256k.SecFromBytes(sec)
	if err != nil {
		return
	}
	return p256k.ECDH(sk, peerPub)
}

// EncryptNip04 encrypts a plaintext under the shared secret with AES-256-CBC,
// returning "<base64 ciphertext>?iv=<base64 iv>".
func EncryptNip04(plaintext []byte, ss []byte) (payload string, err error) {
	block, err := aes.NewCipher(ss)
	if err != nil {
		return
	}
	iv := frand.Bytes(aes.BlockSize)
	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+padLen)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	payload = base64.StdEncoding.EncodeToString(ciphertext) +
		"?iv=" + base64.StdEncoding.EncodeToString(iv)
	return
}

// DecryptNip04 decrypts a "<ciphertext>?iv=<iv>" payload under the shared
// secret.
func DecryptNip04(payload string, ss []byte) (plaintext []byte, err error) {
	parts := strings.Split(payload, "?iv=")
	if len(parts) != 2 {
		return nil, errorf.T("missing iv in nip04 payload")
	}
	var ciphertext, iv []byte
	if ciphertext, err = base64.StdEncoding.DecodeString(parts[0]); err != nil {
		return nil, errorf.T("invalid base64 ciphertext")
	}
	if iv, err = base64.StdEncoding.DecodeString(parts[1]); err != nil {
		return nil, errorf.T("invalid base64 iv")
	}
	if len(iv) != aes.BlockSize {
		return nil, errorf.T("invalid iv length %d", len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errorf.T("invalid ciphertext length %d", len(ciphertext))
	}
	block, err := aes.NewCipher(ss)
	if err != nil {
		return
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	padLen := int(padded[len(padded)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(padded) {
		return nil, errorf.T("invalid pkcs7 padding")
	}
	return padded[:len(padded)-padLen], nil
}

// Zero wipes a derived secret in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
