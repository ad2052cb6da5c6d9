// Package rtcerr implements the error wrappers of the engine's error
// taxonomy. The kind determines how a failure propagates: config and
// state errors surface at API call time, protocol and auth errors drop
// the offending packet, fatal errors make the session terminal.
package rtcerr

import (
	"fmt"
)

// ConfigError indicates invalid configuration input: a bad candidate, a
// malformed fingerprint string, invalid ICE credentials. Not
// recoverable for the same input.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ConfigError: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ProtocolError indicates malformed DTLS, SRTP or RTP bytes. The packet
// is dropped and the session continues.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ProtocolError: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// AuthError indicates an SRTP tag mismatch or a replayed packet. The
// packet is dropped silently except for a debug counter.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("AuthError: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// StateError indicates an API call in the wrong phase, for example
// starting DTLS before the remote fingerprint is known.
type StateError struct {
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("StateError: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *StateError) Unwrap() error {
	return e.Err
}

// FatalError indicates the session cannot continue: ICE failed, DTLS
// aborted, or the peer certificate did not match the negotiated
// fingerprint. The session becomes terminal.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("FatalError: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error {
	return e.Err
}
