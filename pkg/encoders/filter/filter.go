// Package filter is a codec for nostr filters (queries), including matching
// of events against them. Tag queries are held with their bare key; the "#"
// prefix is added on the wire.
package filter

import (
	"bytes"
	"encoding/json"

	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/kinds"
	"nwcly.dev/pkg/encoders/tag"
	"nwcly.dev/pkg/encoders/timestamp"
)

// F is the query form for requesting events from a nostr relay.
type F struct {
	Ids     []string
	Kinds   *kinds.T
	Authors []string
	Tags    map[string][]string
	Since   *timestamp.T
	Until   *timestamp.T
	Limit   *uint
}

// New creates an empty filter ready for use.
func New() *F { return &F{Tags: make(map[string][]string)} }

// Clone returns a copy of the filter that can be modified independently.
func (f *F) Clone() (clone *F) {
	clone = &F{
		Ids:     append([]string(nil), f.Ids...),
		Authors: append([]string(nil), f.Authors...),
		Since:   f.Since,
		Until:   f.Until,
		Limit:   f.Limit,
		Tags:    make(map[string][]string, len(f.Tags)),
	}
	if f.Kinds != nil {
		clone.Kinds = kinds.New(f.Kinds.K...)
	}
	for k, v := range f.Tags {
		clone.Tags[k] = append([]string(nil), v...)
	}
	return
}

type filterJSON struct {
	Ids     []string     `json:"ids,omitempty"`
	Kinds   *kinds.T     `json:"kinds,omitempty"`
	Authors []string     `json:"authors,omitempty"`
	Since   *timestamp.T `json:"since,omitempty"`
	Until   *timestamp.T `json:"until,omitempty"`
	Limit   *uint        `json:"limit,omitempty"`
}

// MarshalJSON renders the filter with tag queries flattened into "#k" keys.
func (f *F) MarshalJSON() (b []byte, err error) {
	if b, err = json.Marshal(
		filterJSON{
			Ids:     f.Ids,
			Kinds:   f.Kinds,
			Authors: f.Authors,
			Since:   f.Since,
			Until:   f.Until,
			Limit:   f.Limit,
		},
	); err != nil {
		return
	}
	if len(f.Tags) == 0 {
		return
	}
	extra := make(map[string][]string, len(f.Tags))
	for k, v := range f.Tags {
		extra["#"+k] = v
	}
	var eb []byte
	if eb, err = json.Marshal(extra); err != nil {
		return
	}
	// merge the two objects
	if bytes.Equal(b, []byte("{}")) {
		return eb, nil
	}
	b = append(b[:len(b)-1], ',')
	b = append(b, eb[1:]...)
	return
}

// UnmarshalJSON parses a filter, collecting "#k" keys into tag queries.
func (f *F) UnmarshalJSON(b []byte) (err error) {
	var fj filterJSON
	if err = json.Unmarshal(b, &fj); err != nil {
		return
	}
	f.Ids, f.Kinds, f.Authors = fj.Ids, fj.Kinds, fj.Authors
	f.Since, f.Until, f.Limit = fj.Since, fj.Until, fj.Limit
	var raw map[string]json.RawMessage
	if err = json.Unmarshal(b, &raw); err != nil {
		return
	}
	f.Tags = make(map[string][]string)
	for k, v := range raw {
		if len(k) < 2 || k[0] != '#' {
			continue
		}
		var vals []string
		if err = json.Unmarshal(v, &vals); err != nil {
			return
		}
		f.Tags[k[1:]] = vals
	}
	return
}

// Match reports whether the event satisfies every constraint of the filter.
func (f *F) Match(ev *event.E) bool {
	if !f.MatchIgnoringTimestampConstraints(ev) {
		return false
	}
	if f.Since != nil && ev.CreatedAt.I64() < f.Since.I64() {
		return false
	}
	if f.Until != nil && ev.CreatedAt.I64() > f.Until.I64() {
		return false
	}
	return true
}

// MatchIgnoringTimestampConstraints is Match without since/until, used after
// EOSE when relays may deliver slightly out of window.
func (f *F) MatchIgnoringTimestampConstraints(ev *event.E) bool {
	if ev == nil {
		return false
	}
	if len(f.Ids) > 0 && !contains(f.Ids, ev.ID) {
		return false
	}
	if f.Kinds.Len() > 0 && !f.Kinds.Contains(ev.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, ev.Pubkey) {
		return false
	}
	for k, vals := range f.Tags {
		matched := false
		for _, t := range ev.Tags.GetAll(tag.New(k)) {
			if contains(vals, t.Value()) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
