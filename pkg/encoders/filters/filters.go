// Package filters is a list of filter.F, matching an event when any member
// matches.
package filters

import (
	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/filter"
)

// T is a list of filters.
type T struct {
	F []*filter.F
}

// New creates a filters.T from a list of filter.F.
func New(f ...*filter.F) *T { return &T{F: f} }

// Match reports whether any filter in the list matches the event.
func (ff *T) Match(ev *event.E) bool {
	for _, f := range ff.F {
		if f.Match(ev) {
			return true
		}
	}
	return false
}

// MatchIgnoringTimestampConstraints is Match without since/until windows.
func (ff *T) MatchIgnoringTimestampConstraints(ev *event.E) bool {
	for _, f := range ff.F {
		if f.MatchIgnoringTimestampConstraints(ev) {
			return true
		}
	}
	return false
}
