package nwc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnectionURI(t *testing.T) {
	uri := "nostr+walletconnect://" +
		"b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4" +
		"?relay=wss%3A%2F%2Frelay.damus.io&relay=wss://example.com" +
		"&secret=71a8c14c1407c113601079c4302dab36460f0ccd0ad506f1f2dc73b5100e4f3c" +
		"&lud16=alice@example.com"
	creds, err := ParseConnectionURI(uri)
	require.NoError(t, err)
	assert.Equal(
		t,
		"b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4",
		creds.WalletPubkey,
	)
	assert.Equal(
		t, []string{"wss://relay.damus.io", "wss://example.com"},
		creds.Relays,
	)
	assert.Equal(
		t,
		"71a8c14c1407c113601079c4302dab36460f0ccd0ad506f1f2dc73b5100e4f3c",
		creds.Secret,
	)
	assert.Equal(t, "alice@example.com", creds.Lud16)
}

func TestParseConnectionURISchemeCaseInsensitive(t *testing.T) {
	uri := "NOSTR+WALLETCONNECT://" +
		"b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4" +
		"?relay=wss://example.com" +
		"&secret=71a8c14c1407c113601079c4302dab36460f0ccd0ad506f1f2dc73b5100e4f3c"
	_, err := ParseConnectionURI(uri)
	require.NoError(t, err)
}

func TestParseConnectionURIDedupesRelays(t *testing.T) {
	uri := "nostr+walletconnect://" +
		"b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4" +
		"?relay=wss://example.com&relay=%20wss://example.com%20" +
		"&relay=wss://other.example" +
		"&secret=71a8c14c1407c113601079c4302dab36460f0ccd0ad506f1f2dc73b5100e4f3c"
	creds, err := ParseConnectionURI(uri)
	require.NoError(t, err)
	assert.Equal(
		t, []string{"wss://example.com", "wss://other.example"},
		creds.Relays,
	)
}

func TestParseConnectionURIRejects(t *testing.T) {
	bad := []string{
		"invalid://test",
		"nostr+walletconnect://",
		"nostr+walletconnect://nothex",
		// no relay
		"nostr+walletconnect://b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4?secret=71a8c14c1407c113601079c4302dab36460f0ccd0ad506f1f2dc73b5100e4f3c",
		// no secret
		"nostr+walletconnect://b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4?relay=wss://example.com",
		// short secret
		"nostr+walletconnect://b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4?relay=wss://example.com&secret=abcd",
	}
	for _, uri := range bad {
		if _, err := ParseConnectionURI(uri); err == nil {
			t.Fatalf("expected error for %s", uri)
		}
	}
}

func TestConnectionURIRoundTrip(t *testing.T) {
	creds := &Credentials{
		WalletPubkey: "b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4",
		Relays:       []string{"wss://relay.damus.io", "wss://example.com"},
		Secret:       "71a8c14c1407c113601079c4302dab36460f0ccd0ad506f1f2dc73b5100e4f3c",
		Lud16:        "alice@example.com",
	}
	parsed, err := ParseConnectionURI(creds.BuildConnectionURI())
	require.NoError(t, err)
	assert.Equal(t, creds, parsed)
}

func TestNormalizedRelays(t *testing.T) {
	creds := &Credentials{
		Relays: []string{
			"WSS://Example.com/", "wss://example.com", "https://relay.x",
			"not a url at all://", "relay.y",
		},
	}
	assert.Equal(
		t,
		[]string{"wss://example.com", "wss://relay.x", "wss://relay.y"},
		creds.NormalizedRelays(),
	)
}
