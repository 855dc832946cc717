// Package kind is a codec for nostr event kind numbers, with the kinds used
// by the wallet connect protocol predefined.
package kind

import (
	"strconv"
)

// T is a nostr event kind.
type T struct {
	K uint16
}

// New creates a kind from an integer.
func New[V int | uint16 | uint32 | int64](k V) *T { return &T{K: uint16(k)} }

var (
	// WalletInfo is the replaceable event a wallet service publishes to
	// advertise its capabilities (NIP-47).
	WalletInfo = New(13194)
	// WalletRequest is an ephemeral client -> wallet service request.
	WalletRequest = New(23194)
	// WalletResponse is an ephemeral wallet service -> client response.
	WalletResponse = New(23195)
	// WalletNotification is an ephemeral wallet service push notification.
	WalletNotification = New(23197)
	// ClientAuthentication is the NIP-42 auth event.
	ClientAuthentication = New(22242)
)

// Int returns the kind number as an int.
func (k *T) Int() int {
	if k == nil {
		return 0
	}
	return int(k.K)
}

// Equal reports whether two kinds are the same number.
func (k *T) Equal(other *T) bool {
	return k != nil && other != nil && k.K == other.K
}

// String renders the kind number as decimal.
func (k *T) String() string { return strconv.Itoa(k.Int()) }

// MarshalJSON renders the kind as a bare integer.
func (k *T) MarshalJSON() ([]byte, error) {
	return strconv.AppendUint(nil, uint64(k.K), 10), nil
}

// UnmarshalJSON parses a bare integer into the kind.
func (k *T) UnmarshalJSON(b []byte) (err error) {
	var v uint64
	if v, err = strconv.ParseUint(string(b), 10, 16); err != nil {
		return
	}
	k.K = uint16(v)
	return
}
