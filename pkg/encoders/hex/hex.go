// Package hex wraps the SIMD accelerated hex codec with the short names
// used throughout this module. All nostr identifiers are lower case hex;
// input validation happens here so the fast path below never sees bad
// bytes.
package hex

import (
	"strings"

	"github.com/templexxx/xhex"

	"nwcly.dev/pkg/utils/errorf"
)

// Enc encodes a byte slice as a lower case hex string.
func Enc(b []byte) string {
	dst := make([]byte, len(b)*2)
	xhex.Encode(dst, b)
	return string(dst)
}

func hexVal(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f'
}

// Dec decodes a hex string, accepting upper case input.
func Dec(s string) (b []byte, err error) {
	s = strings.ToLower(s)
	if len(s)%2 != 0 {
		return nil, errorf.T("odd length hex string (%d)", len(s))
	}
	for i := 0; i < len(s); i++ {
		if !hexVal(s[i]) {
			return nil, errorf.T("invalid hex character %q", s[i])
		}
	}
	b = make([]byte, len(s)/2)
	xhex.Decode(b, []byte(s))
	return
}

// Valid reports whether s is well formed hex of the given byte length.
func Valid(s string, nBytes int) bool {
	if len(s) != nBytes*2 {
		return false
	}
	_, err := Dec(s)
	return err == nil
}
