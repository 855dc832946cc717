// Package tag is a codec for the tag lists attached to nostr events. A tag is
// a list of strings where the first element is the key.
package tag

// T is a single tag: key, value, and any further elements.
type T []string

// New creates a tag from its elements.
func New(elems ...string) T { return T(elems) }

// Key returns the first element of the tag, or "" if empty.
func (t T) Key() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the second element of the tag, or "" if absent.
func (t T) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// StartsWith reports whether the tag begins with all elements of the prefix;
// an empty final prefix element matches any value in that position.
func (t T) StartsWith(prefix T) bool {
	if len(prefix) > len(t) {
		return false
	}
	for i, p := range prefix {
		if i == len(prefix)-1 && p == "" {
			return true
		}
		if p != t[i] {
			return false
		}
	}
	return true
}
