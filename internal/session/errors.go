package session

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportUnavailable means there is no active transport session.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrNotConnected means a session exists but is not authenticated yet.
	ErrNotConnected = errors.New("session not connected")
	// ErrSendFailed wraps transport round-trip failures.
	ErrSendFailed = errors.New("send failed")
	// ErrInvalidAddress rejects sends without a destination.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrChallengeEncodingFailed is logged when a challenge cannot be
	// rendered; the machine waits for the next challenge.
	ErrChallengeEncodingFailed = errors.New("challenge encoding failed")
	// ErrPermanentLogout is logged when the remote side de-authorizes the
	// session; auto-reconnect halts until Restart.
	ErrPermanentLogout = errors.New("permanent logout")
)

// SendError reports a failed transport round trip.
type SendError struct {
	Address string
	JID     string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.JID, e.Err)
}

func (e *SendError) Unwrap() []error {
	return []error{ErrSendFailed, e.Err}
}
