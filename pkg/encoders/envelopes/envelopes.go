// Package envelopes is a client side codec for the NIP-01 relay message
// envelopes: the JSON arrays labelled EVENT, REQ, CLOSE, EOSE, CLOSED, OK,
// NOTICE and AUTH.
package envelopes

import (
	"bytes"
	"encoding/json"

	"nwcly.dev/pkg/encoders/event"
	"nwcly.dev/pkg/encoders/filters"
	"nwcly.dev/pkg/utils/errorf"
)

// Labels of the envelope types a client receives.
const (
	LEvent  = "EVENT"
	LEose   = "EOSE"
	LClosed = "CLOSED"
	LOk     = "OK"
	LNotice = "NOTICE"
	LAuth   = "AUTH"
)

// Event carries an event for a subscription.
type Event struct {
	SubID string
	Event *event.E
}

// Eose marks the end of stored events for a subscription.
type Eose struct {
	SubID string
}

// Closed reports a subscription terminated by the relay.
type Closed struct {
	SubID  string
	Reason string
}

// Ok acknowledges (or refuses) a published event.
type Ok struct {
	EventID string
	OK      bool
	Reason  string
}

// Notice is a human readable message from the relay.
type Notice struct {
	Message string
}

// AuthChallenge is a NIP-42 challenge from the relay.
type AuthChallenge struct {
	Challenge string
}

// Parse identifies and decodes a relay -> client message. The returned value
// is one of the envelope types above.
func Parse(b []byte) (v any, err error) {
	var arr []json.RawMessage
	if err = json.Unmarshal(b, &arr); err != nil {
		return
	}
	if len(arr) < 1 {
		return nil, errorf.T("empty envelope")
	}
	var label string
	if err = json.Unmarshal(arr[0], &label); err != nil {
		return
	}
	str := func(i int) (s string, err error) {
		if i < len(arr) {
			err = json.Unmarshal(arr[i], &s)
		}
		return
	}
	switch label {
	case LEvent:
		if len(arr) < 3 {
			return nil, errorf.T("EVENT envelope too short")
		}
		env := &Event{Event: event.New()}
		if env.SubID, err = str(1); err != nil {
			return
		}
		if err = json.Unmarshal(arr[2], env.Event); err != nil {
			return
		}
		return env, nil
	case LEose:
		env := &Eose{}
		env.SubID, err = str(1)
		return env, err
	case LClosed:
		env := &Closed{}
		if env.SubID, err = str(1); err != nil {
			return
		}
		env.Reason, err = str(2)
		return env, err
	case LOk:
		if len(arr) < 3 {
			return nil, errorf.T("OK envelope too short")
		}
		env := &Ok{}
		if env.EventID, err = str(1); err != nil {
			return
		}
		if err = json.Unmarshal(arr[2], &env.OK); err != nil {
			return
		}
		env.Reason, _ = str(3)
		return env, nil
	case LNotice:
		env := &Notice{}
		env.Message, err = str(1)
		return env, err
	case LAuth:
		env := &AuthChallenge{}
		env.Challenge, err = str(1)
		return env, err
	}
	return nil, errorf.T("unknown envelope label %q", label)
}

func marshalParts(parts ...any) (b []byte) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(parts)
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// ReqMessage renders a ["REQ",id,filter...] client -> relay message.
func ReqMessage(subID string, ff *filters.T) (b []byte) {
	parts := []any{"REQ", subID}
	for _, f := range ff.F {
		parts = append(parts, f)
	}
	return marshalParts(parts...)
}

// CloseMessage renders a ["CLOSE",id] client -> relay message.
func CloseMessage(subID string) (b []byte) {
	return marshalParts("CLOSE", subID)
}

// EventMessage renders an ["EVENT",event] submission.
func EventMessage(ev *event.E) (b []byte) {
	return marshalParts(LEvent, ev)
}

// AuthMessage renders an ["AUTH",event] NIP-42 response.
func AuthMessage(ev *event.E) (b []byte) {
	return marshalParts(LAuth, ev)
}
