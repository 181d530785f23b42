// Package events fans session state and messages out to every connected
// observer.
package events

import (
	"time"

	"github.com/wabridge/wabridge/internal/message"
	"github.com/wabridge/wabridge/internal/session"
)

// Event kinds
const (
	KindStateChanged       = "state.changed"
	KindChallengeIssued    = "challenge.issued"
	KindMessageReceived    = "message.received"
	KindSendResult         = "send.result"
	KindSessionEstablished = "session.established"
)

// Event is one published occurrence. Only the fields of its Kind are set.
type Event struct {
	Kind      string    `json:"kind"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	// For state.changed: the full snapshot, never a delta
	State *session.State `json:"state,omitempty"`

	// For challenge.issued
	Challenge string `json:"challenge,omitempty"`

	// For message.received
	Message         *message.Message `json:"message,omitempty"`
	ConversationKey string           `json:"conversationKey,omitempty"`

	// For send.result
	SendResult *session.SendResult `json:"sendResult,omitempty"`

	// For session.established
	Identity string `json:"identity,omitempty"`
}

func StateChanged(s session.State) Event {
	return Event{Kind: KindStateChanged, State: &s}
}

func ChallengeIssued(encoded string) Event {
	return Event{Kind: KindChallengeIssued, Challenge: encoded}
}

func MessageReceived(m message.Message) Event {
	return Event{Kind: KindMessageReceived, Message: &m, ConversationKey: m.ConversationKey}
}

func SendResultEvent(r session.SendResult) Event {
	return Event{Kind: KindSendResult, SendResult: &r}
}

func SessionEstablished(identity string) Event {
	return Event{Kind: KindSessionEstablished, Identity: identity}
}
