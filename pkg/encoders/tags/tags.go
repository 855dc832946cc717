// Package tags is a codec for the list of tags on a nostr event.
package tags

import (
	"nwcly.dev/pkg/encoders/tag"
)

// T is the list of tags on an event.
type T []tag.T

// New creates a tags.T from a list of tag.T. The result is never nil, so
// an empty list serializes as [] rather than null.
func New(t ...tag.T) T {
	if t == nil {
		return T{}
	}
	return T(t)
}

// GetFirst returns the first tag starting with the given prefix, or nil.
func (t T) GetFirst(prefix tag.T) tag.T {
	for _, tt := range t {
		if tt.StartsWith(prefix) {
			return tt
		}
	}
	return nil
}

// GetAll returns every tag starting with the given prefix.
func (t T) GetAll(prefix tag.T) (found []tag.T) {
	for _, tt := range t {
		if tt.StartsWith(prefix) {
			found = append(found, tt)
		}
	}
	return
}

// FirstValue returns the value of the first tag with the given key, or "".
func (t T) FirstValue(key string) string {
	if found := t.GetFirst(tag.New(key)); found != nil {
		return found.Value()
	}
	return ""
}

// Append adds tags to the list, returning the extended list.
func (t T) Append(tt ...tag.T) T { return append(t, tt...) }
