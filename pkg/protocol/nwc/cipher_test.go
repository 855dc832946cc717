package nwc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nwcly.dev/pkg/crypto/p256k"
	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/kind"
	"nwcly.dev/pkg/encoders/tag"
	"nwcly.dev/pkg/encoders/tags"
	"nwcly.dev/pkg/encoders/timestamp"
)

func testCipherPair(t *testing.T) (client, wallet *Cipher) {
	t.Helper()
	ck := &p256k.Signer{}
	require.NoError(t, ck.Generate())
	wk := &p256k.Signer{}
	require.NoError(t, wk.Generate())
	var err error
	client, err = NewCipher(ck.Sec(), wk.Pub())
	require.NoError(t, err)
	wallet, err = NewCipher(wk.Sec(), ck.Pub())
	require.NoError(t, err)
	return
}

func TestCipherRoundTripBothSchemes(t *testing.T) {
	client, wallet := testCipherPair(t)
	for _, scheme := range []EncryptionScheme{Nip44V2, Nip04} {
		payload, err := client.Encrypt([]byte("hello wallet"), scheme)
		require.NoError(t, err)
		plain, err := wallet.Decrypt(payload, scheme)
		require.NoError(t, err)
		assert.Equal(t, "hello wallet", string(plain), string(scheme))
	}
}

func TestCipherUnknownScheme(t *testing.T) {
	client, _ := testCipherPair(t)
	var eu *EncryptionUnsupportedError
	_, err := client.Encrypt([]byte("x"), EncryptionScheme("nip99"))
	require.ErrorAs(t, err, &eu)
	_, err = client.Decrypt("x", EncryptionScheme("nip99"))
	require.ErrorAs(t, err, &eu)
}

func TestSelectScheme(t *testing.T) {
	// preference order wins when both are advertised
	scheme, err := SelectScheme(
		&WalletMetadata{Encryptions: []EncryptionScheme{Nip04, Nip44V2}},
		PreferredEncryptionOrder,
	)
	require.NoError(t, err)
	assert.Equal(t, Nip44V2, scheme)

	// only nip04
	scheme, err = SelectScheme(
		&WalletMetadata{Encryptions: []EncryptionScheme{Nip04}},
		PreferredEncryptionOrder,
	)
	require.NoError(t, err)
	assert.Equal(t, Nip04, scheme)

	// unknown schemes are ignored, leaving nip04
	scheme, err = SelectScheme(
		&WalletMetadata{Encryptions: []EncryptionScheme{
			EncryptionScheme("nip99"), Nip04,
		}},
		PreferredEncryptionOrder,
	)
	require.NoError(t, err)
	assert.Equal(t, Nip04, scheme)

	// nothing advertised but the info event defaulted
	scheme, err = SelectScheme(
		&WalletMetadata{DefaultedToNip04: true}, PreferredEncryptionOrder,
	)
	require.NoError(t, err)
	assert.Equal(t, Nip04, scheme)

	// nothing advertised and no default
	var eu *EncryptionUnsupportedError
	_, err = SelectScheme(&WalletMetadata{}, PreferredEncryptionOrder)
	require.ErrorAs(t, err, &eu)

	// only unknown schemes and no default
	_, err = SelectScheme(
		&WalletMetadata{Encryptions: []EncryptionScheme{
			EncryptionScheme("nip99"),
		}},
		PreferredEncryptionOrder,
	)
	require.ErrorAs(t, err, &eu)
}

func respEvent(content string, tt tags.T) *event.E {
	return &event.E{
		Content:   content,
		CreatedAt: timestamp.Now(),
		Kind:      kind.WalletResponse,
		Tags:      tt,
	}
}

func TestSchemeForEvent(t *testing.T) {
	// a supported tag is authoritative
	scheme, fromTag := SchemeForEvent(
		respEvent("x", tagsWith("encryption", "nip04")), Nip44V2,
	)
	assert.Equal(t, Nip04, scheme)
	assert.True(t, fromTag)

	// an unsupported tag falls back to the active scheme
	scheme, fromTag = SchemeForEvent(
		respEvent("x", tagsWith("encryption", "nip99")), Nip44V2,
	)
	assert.Equal(t, Nip44V2, scheme)
	assert.False(t, fromTag)

	// no tag infers the active scheme
	scheme, fromTag = SchemeForEvent(respEvent("x", tags.New()), Nip04)
	assert.Equal(t, Nip04, scheme)
	assert.False(t, fromTag)
}

func TestDecryptEventNip04Fallback(t *testing.T) {
	client, wallet := testCipherPair(t)
	payload, err := wallet.Encrypt([]byte("legacy"), Nip04)
	require.NoError(t, err)
	// no encryption tag, active scheme nip44, wallet advertises nip04
	ev := respEvent(payload, tags.New(tag.New("e", "abc")))
	md := &WalletMetadata{Encryptions: []EncryptionScheme{Nip04}}
	plain, err := client.DecryptEvent(ev, Nip44V2, md)
	require.NoError(t, err)
	assert.Equal(t, "legacy", string(plain))
}

func TestDecryptEventNoFallbackWhenTagged(t *testing.T) {
	client, wallet := testCipherPair(t)
	payload, err := wallet.Encrypt([]byte("legacy"), Nip04)
	require.NoError(t, err)
	// the tag says nip44 but the content is nip04: the tagged scheme is
	// authoritative, so the failure propagates
	ev := respEvent(payload, tagsWith("encryption", "nip44_v2"))
	md := &WalletMetadata{Encryptions: []EncryptionScheme{Nip04}}
	_, err = client.DecryptEvent(ev, Nip44V2, md)
	require.Error(t, err)
}

func TestDecryptEventNoFallbackWithoutAdvertisement(t *testing.T) {
	client, wallet := testCipherPair(t)
	payload, err := wallet.Encrypt([]byte("legacy"), Nip04)
	require.NoError(t, err)
	ev := respEvent(payload, tags.New())
	// the wallet does not advertise nip04, so no retry happens
	md := &WalletMetadata{Encryptions: []EncryptionScheme{Nip44V2}}
	_, err = client.DecryptEvent(ev, Nip44V2, md)
	require.Error(t, err)
}
