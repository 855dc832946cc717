package encryption

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nwcly.dev/pkg/crypto/p256k"
)

func testKeys(t *testing.T) (aSec, aPub, bSec, bPub []byte) {
	t.Helper()
	a := &p256k.Signer{}
	require.NoError(t, a.Generate())
	b := &p256k.Signer{}
	require.NoError(t, b.Generate())
	return a.Sec(), a.Pub(), b.Sec(), b.Pub()
}

func TestConversationKeySymmetry(t *testing.T) {
	aSec, aPub, bSec, bPub := testKeys(t)
	ab, err := ConversationKey(aSec, bPub)
	require.NoError(t, err)
	ba, err := ConversationKey(bSec, aPub)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 32)
}

func TestNip44RoundTrip(t *testing.T) {
	aSec, _, _, bPub := testKeys(t)
	ck, err := ConversationKey(aSec, bPub)
	require.NoError(t, err)
	for _, msg := range []string{
		"x",
		"a typical wallet connect payload with some length to it",
		strings.Repeat("big", 5000),
	} {
		payload, err := EncryptNip44([]byte(msg), ck)
		require.NoError(t, err)
		plain, err := DecryptNip44(payload, ck)
		require.NoError(t, err)
		assert.Equal(t, msg, string(plain))
	}
}

func TestNip44RejectsTampering(t *testing.T) {
	aSec, _, _, bPub := testKeys(t)
	ck, err := ConversationKey(aSec, bPub)
	require.NoError(t, err)
	payload, err := EncryptNip44([]byte("payload"), ck)
	require.NoError(t, err)

	// flip a character somewhere in the middle
	broken := []byte(payload)
	mid := len(broken) / 2
	if broken[mid] == 'A' {
		broken[mid] = 'B'
	} else {
		broken[mid] = 'A'
	}
	if _, err = DecryptNip44(string(broken), ck); err == nil {
		t.Fatal("tampered payload decrypted")
	}
}

func TestNip44RejectsWrongKey(t *testing.T) {
	aSec, _, bSec, bPub := testKeys(t)
	ck, err := ConversationKey(aSec, bPub)
	require.NoError(t, err)
	payload, err := EncryptNip44([]byte("secret"), ck)
	require.NoError(t, err)
	_, _, _, cPub := testKeys(t)
	other, err := ConversationKey(bSec, cPub)
	require.NoError(t, err)
	if _, err = DecryptNip44(payload, other); err == nil {
		t.Fatal("decrypted under an unrelated key")
	}
}

func TestNip44RejectsFutureVersion(t *testing.T) {
	_, err := DecryptNip44("#fancy-future-payload", make([]byte, 32))
	require.Error(t, err)
}

func TestNip44EmptyPlaintextRefused(t *testing.T) {
	_, err := EncryptNip44(nil, make([]byte, 32))
	require.Error(t, err)
}

func TestNip04RoundTrip(t *testing.T) {
	aSec, aPub, bSec, bPub := testKeys(t)
	ab, err := SharedSecretNip04(aSec, bPub)
	require.NoError(t, err)
	ba, err := SharedSecretNip04(bSec, aPub)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)

	payload, err := EncryptNip04([]byte("legacy scheme payload"), ab)
	require.NoError(t, err)
	assert.Contains(t, payload, "?iv=")
	plain, err := DecryptNip04(payload, ba)
	require.NoError(t, err)
	assert.Equal(t, "legacy scheme payload", string(plain))
}

func TestNip04RejectsMalformed(t *testing.T) {
	ss := make([]byte, 32)
	for _, bad := range []string{
		"no-iv-separator",
		"!!!?iv=!!!",
		"?iv=",
	} {
		if _, err := DecryptNip04(bad, ss); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
