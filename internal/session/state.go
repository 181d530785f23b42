// Package session owns the lifecycle of the single protocol session:
// connecting, challenge issuance, authentication and reconnects.
package session

import (
	"encoding/json"
	"fmt"
)

// Status is the connection lifecycle state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusChallengeReady
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusChallengeReady:
		return "qr_ready"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for _, st := range []Status{StatusDisconnected, StatusConnecting, StatusChallengeReady, StatusConnected} {
		if st.String() == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", name)
}

// State is a complete snapshot of the session. Consumers must treat every
// published State as authoritative, never as a patch.
//
// Challenge is set only in StatusChallengeReady and Identity only in
// StatusConnected; the constructors below are the only way to build one.
type State struct {
	Status      Status  `json:"status"`
	Challenge   *string `json:"challenge"`
	Identity    *string `json:"identity"`
	IsConnected bool    `json:"isConnected"`
}

func disconnectedState() State { return State{Status: StatusDisconnected} }

func connectingState() State { return State{Status: StatusConnecting} }

func challengeState(encoded string) State {
	return State{Status: StatusChallengeReady, Challenge: &encoded}
}

func connectedState(identity string) State {
	return State{Status: StatusConnected, Identity: &identity, IsConnected: true}
}

// Equal reports whether two snapshots carry the same values.
func (s State) Equal(o State) bool {
	return s.Status == o.Status &&
		s.IsConnected == o.IsConnected &&
		strPtrEqual(s.Challenge, o.Challenge) &&
		strPtrEqual(s.Identity, o.Identity)
}

// ChallengeValue returns the encoded challenge or "".
func (s State) ChallengeValue() string {
	if s.Challenge == nil {
		return ""
	}
	return *s.Challenge
}

// IdentityValue returns the session identity or "".
func (s State) IdentityValue() string {
	if s.Identity == nil {
		return ""
	}
	return *s.Identity
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
