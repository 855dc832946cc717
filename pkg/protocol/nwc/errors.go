package nwc

import (
	"errors"
	"fmt"
)

// Failure is the closed set of error kinds every public entry point returns.
// The concrete types carry whatever diagnostics the path had available.
type Failure interface {
	error
	failureKind() string
}

// NetworkError covers connection refusals, stream failures, every relay
// failing, and the absence of usable response subscriptions.
type NetworkError struct {
	Msg         string
	Reason      string
	CloseCode   int
	CloseReason string
	Cause       error
}

func (e *NetworkError) failureKind() string { return "network" }

// Error composes the available diagnostics into one string.
func (e *NetworkError) Error() string {
	s := "network: " + e.Msg
	if e.Reason != "" {
		s += ": " + e.Reason
	}
	if e.CloseCode != 0 && e.CloseCode != -1 {
		s += fmt.Sprintf(" (close %d %s)", e.CloseCode, e.CloseReason)
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap exposes the underlying cause.
func (e *NetworkError) Unwrap() error { return e.Cause }

// TimeoutError means the deadline elapsed before a response or readiness.
type TimeoutError struct {
	Msg string
}

func (e *TimeoutError) failureKind() string { return "timeout" }

// Error returns the timeout description.
func (e *TimeoutError) Error() string { return "timeout: " + e.Msg }

// WalletError wraps an error envelope returned by the wallet service.
type WalletError struct {
	Err NwcError
}

func (e *WalletError) failureKind() string { return "wallet" }

// Error returns the wallet's code and message.
func (e *WalletError) Error() string { return "wallet: " + e.Err.Error() }

// ProtocolError means malformed JSON, missing required fields, or an
// unexpected event kind.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) failureKind() string { return "protocol" }

// Error returns the protocol violation description.
func (e *ProtocolError) Error() string { return "protocol: " + e.Msg }

// EncryptionUnsupportedError means no mutually supported encryption scheme
// exists between client and wallet.
type EncryptionUnsupportedError struct {
	Msg string
}

func (e *EncryptionUnsupportedError) failureKind() string {
	return "encryption_unsupported"
}

// Error returns the negotiation failure description.
func (e *EncryptionUnsupportedError) Error() string {
	return "encryption unsupported: " + e.Msg
}

// UnknownError is the catch-all for non-categorizable failures, including
// recovered panics.
type UnknownError struct {
	Msg   string
	Cause error
}

func (e *UnknownError) failureKind() string { return "unknown" }

// Error composes the message and cause.
func (e *UnknownError) Error() string {
	if e.Cause != nil {
		return "unknown: " + e.Msg + ": " + e.Cause.Error()
	}
	return "unknown: " + e.Msg
}

// Unwrap exposes the underlying cause.
func (e *UnknownError) Unwrap() error { return e.Cause }

// AsFailure coerces any error into a Failure, wrapping foreign errors as
// UnknownError so callers always see the closed set.
func AsFailure(err error) Failure {
	if err == nil {
		return nil
	}
	var f Failure
	if errors.As(err, &f) {
		return f
	}
	return &UnknownError{Msg: "unexpected error", Cause: err}
}

// recoverFailure converts a recovered panic value into a Failure.
func recoverFailure(r any) Failure {
	if err, ok := r.(error); ok {
		return &UnknownError{Msg: "panic", Cause: err}
	}
	return &UnknownError{Msg: fmt.Sprintf("panic: %v", r)}
}
