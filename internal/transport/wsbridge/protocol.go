package wsbridge

import "github.com/wabridge/wabridge/internal/message"

// Bridge events
const (
	EventConnectionUpdate = "connection.update"
	EventMessagesUpsert   = "messages.upsert"
)

// Bridge methods
const (
	MethodMessageSend = "message.send"
)

// connection.update values
const (
	ConnectionConnecting = "connecting"
	ConnectionOpen       = "open"
	ConnectionClose      = "close"
)

// UpsertNotify marks live message batches; history syncs use other types.
const UpsertNotify = "notify"

// ConnectionUpdate is the payload of connection.update. A single update can
// carry a QR payload without a connection change.
type ConnectionUpdate struct {
	Connection string `json:"connection,omitempty"`
	QR         string `json:"qr,omitempty"`
	SelfID     string `json:"selfId,omitempty"`
	Reason     string `json:"reason,omitempty"`
	LoggedOut  bool   `json:"loggedOut,omitempty"`
}

// MessagesUpsert is the payload of messages.upsert.
type MessagesUpsert struct {
	Type     string            `json:"type"`
	Messages []message.Payload `json:"messages"`
}

type SendParams struct {
	JID  string `json:"jid"`
	Text string `json:"text"`
}

// SendAck is the message.send result. Timestamp may be seconds or millis.
type SendAck struct {
	ID        string          `json:"id"`
	Timestamp message.FlexInt `json:"timestamp"`
}
