package session

import (
	"context"
	"time"

	"github.com/wabridge/wabridge/internal/message"
)

// LifecycleKind identifies a transport lifecycle event.
type LifecycleKind int

const (
	LifecycleConnecting LifecycleKind = iota
	LifecycleChallenge
	LifecycleOpened
	LifecycleClosed
)

func (k LifecycleKind) String() string {
	switch k {
	case LifecycleConnecting:
		return "connecting"
	case LifecycleChallenge:
		return "challenge"
	case LifecycleOpened:
		return "opened"
	case LifecycleClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LifecycleEvent is emitted by a Handle while its session evolves.
type LifecycleEvent struct {
	Kind LifecycleKind
	// Challenge is the raw scannable payload (LifecycleChallenge).
	Challenge string
	// SelfAddress is the transport-reported own address (LifecycleOpened).
	SelfAddress string
	// Reason and Permanent describe a closure (LifecycleClosed). Permanent
	// means the remote side de-authorized this device.
	Reason    string
	Permanent bool
}

// SendReceipt is the transport's confirmation of a sent message.
type SendReceipt struct {
	ID        string
	Timestamp time.Time
}

// Transport opens protocol sessions. Each Connect returns a fresh Handle; a
// Handle is never reused after it closes.
type Transport interface {
	Connect(ctx context.Context) (Handle, error)
}

// Handle is one live protocol session.
type Handle interface {
	// Subscribe registers the callbacks for this handle's events. It is
	// called once, right after Connect.
	Subscribe(onLifecycle func(LifecycleEvent), onMessage func(message.Payload))
	Send(ctx context.Context, jid, text string) (SendReceipt, error)
	Close() error
}

// Publisher receives every state change and normalized message.
type Publisher interface {
	PublishState(State)
	PublishChallenge(encoded string)
	PublishEstablished(identity string)
	PublishMessage(message.Message)
}

// Inbox folds normalized messages into conversation state. Ingest returns
// false when the message was already stored.
type Inbox interface {
	Ingest(message.Message) bool
}
