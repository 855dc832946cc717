// Package normalize canonicalizes relay URLs so the same relay always maps
// to the same key.
package normalize

import (
	"net/url"
	"strings"
)

// URL lower cases the scheme and host of a relay URL, maps http(s) to
// ws(s), defaults a bare host to wss, and strips the trailing slash.
func URL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if !strings.Contains(u, "://") {
		u = "wss://" + u
	}
	p, err := url.Parse(u)
	if err != nil {
		return ""
	}
	switch strings.ToLower(p.Scheme) {
	case "http", "ws":
		p.Scheme = "ws"
	case "https", "wss":
		p.Scheme = "wss"
	default:
		return ""
	}
	p.Host = strings.ToLower(p.Host)
	return strings.TrimRight(p.String(), "/")
}
