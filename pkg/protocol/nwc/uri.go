package nwc

import (
	"net/url"
	"strings"

	"nwcly.dev/pkg/crypto/p256k"
	"nwcly.dev/pkg/encoders/hex"
	"nwcly.dev/pkg/utils/errorf"
	"nwcly.dev/pkg/utils/normalize"
)

// Scheme of a wallet connect URI, matched case-insensitively.
const Scheme = "nostr+walletconnect"

// Credentials are the immutable contents of a connection URI.
type Credentials struct {
	// WalletPubkey is the wallet service's x-only public key, lower hex.
	WalletPubkey string
	// Relays is the ordered, deduplicated relay list; never empty.
	Relays []string
	// Secret is the client's secret key, lower hex.
	Secret string
	// Lud16 is the optional lightning address bundled with the connection.
	Lud16 string
}

// ParseConnectionURI parses a nostr+walletconnect:// URI into credentials.
func ParseConnectionURI(uri string) (creds *Credentials, err error) {
	var p *url.URL
	if p, err = url.Parse(uri); err != nil {
		return nil, errorf.D("unparseable connection URI: %v", err)
	}
	if !strings.EqualFold(p.Scheme, Scheme) {
		return nil, errorf.D("incorrect scheme %q", p.Scheme)
	}
	host := p.Host
	if host == "" {
		// some URI builders emit the pubkey as an opaque part
		host = strings.SplitN(p.Opaque, "?", 2)[0]
	}
	var pk []byte
	if pk, err = p256k.HexToBin(host); err != nil {
		return nil, errorf.D("invalid wallet public key %q", host)
	}
	query := p.Query()
	relayParams, ok := query["relay"]
	if !ok || len(relayParams) == 0 {
		return nil, errorf.D("missing relay parameter")
	}
	var relays []string
	seen := make(map[string]struct{})
	for _, r := range relayParams {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		relays = append(relays, r)
	}
	if len(relays) == 0 {
		return nil, errorf.D("no usable relays")
	}
	secret := query.Get("secret")
	if secret == "" {
		return nil, errorf.D("missing secret parameter")
	}
	var sk []byte
	if sk, err = p256k.HexToBin(secret); err != nil {
		return nil, errorf.D("invalid secret")
	}
	return &Credentials{
		WalletPubkey: hex.Enc(pk),
		Relays:       relays,
		Secret:       hex.Enc(sk),
		Lud16:        query.Get("lud16"),
	}, nil
}

// BuildConnectionURI renders credentials back into a connection URI.
func (c *Credentials) BuildConnectionURI() string {
	q := url.Values{}
	for _, r := range c.Relays {
		q.Add("relay", r)
	}
	q.Set("secret", c.Secret)
	if c.Lud16 != "" {
		q.Set("lud16", c.Lud16)
	}
	return Scheme + "://" + c.WalletPubkey + "?" + q.Encode()
}

// NormalizedRelays returns the relay list mapped through URL normalization,
// dropping anything unusable.
func (c *Credentials) NormalizedRelays() (relays []string) {
	seen := make(map[string]struct{})
	for _, r := range c.Relays {
		nm := normalize.URL(r)
		if nm == "" {
			continue
		}
		if _, dup := seen[nm]; dup {
			continue
		}
		seen[nm] = struct{}{}
		relays = append(relays, nm)
	}
	return
}
