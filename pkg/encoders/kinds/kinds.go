// Package kinds is a list of kind.T for use in filters.
package kinds

import (
	"encoding/json"

	"nwcly.dev/pkg/encoders/kind"
)

// T is a list of kinds.
type T struct {
	K []*kind.T
}

// New creates a kinds.T from a list of kind.T.
func New(k ...*kind.T) *T { return &T{K: k} }

// Len returns the number of kinds in the list.
func (k *T) Len() int {
	if k == nil {
		return 0
	}
	return len(k.K)
}

// Contains reports whether the list includes the given kind.
func (k *T) Contains(other *kind.T) bool {
	if k == nil {
		return false
	}
	for _, kk := range k.K {
		if kk.Equal(other) {
			return true
		}
	}
	return false
}

// MarshalJSON renders the list as a JSON array of integers.
func (k *T) MarshalJSON() ([]byte, error) {
	ks := make([]uint16, 0, len(k.K))
	for _, kk := range k.K {
		ks = append(ks, kk.K)
	}
	return json.Marshal(ks)
}

// UnmarshalJSON parses a JSON array of integers into the list.
func (k *T) UnmarshalJSON(b []byte) (err error) {
	var ks []uint16
	if err = json.Unmarshal(b, &ks); err != nil {
		return
	}
	k.K = make([]*kind.T, 0, len(ks))
	for _, v := range ks {
		k.K = append(k.K, kind.New(v))
	}
	return
}
