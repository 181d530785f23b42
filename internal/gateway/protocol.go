package gateway

// WebSocket methods. The first frame of every connection must be connect.
const (
	MethodConnect               = "connect"
	MethodMessageSend           = "message.send"
	MethodStateGet              = "state.get"
	MethodSessionRestart        = "session.restart"
	MethodConversationsList     = "conversations.list"
	MethodConversationsSelect   = "conversations.select"
	MethodConversationsMessages = "conversations.messages"
)

// Error codes carried in res frames and HTTP error bodies.
const (
	CodeHandshakeRequired    = "HANDSHAKE_REQUIRED"
	CodeAuthFailed           = "AUTH_FAILED"
	CodeInvalidParams        = "INVALID_PARAMS"
	CodeUnknownMethod        = "UNKNOWN_METHOD"
	CodeTransportUnavailable = "TRANSPORT_UNAVAILABLE"
	CodeNotConnected         = "NOT_CONNECTED"
	CodeInvalidAddress       = "INVALID_ADDRESS"
	CodeSendFailed           = "SEND_FAILED"
	CodeDuplicateRequest     = "DUPLICATE_REQUEST"
	CodeNotFound             = "NOT_FOUND"
	CodeInternal             = "ERROR"
)

// ConnectParams is sent by the client during handshake.
type ConnectParams struct {
	Token  string `json:"token"`
	Client string `json:"client,omitempty"` // free-form client name for logs
}

// SendParams asks the live session to send a text message. Address wins over
// PhoneNumber; a phone number may carry formatting, only its digits are used.
type SendParams struct {
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Address     string `json:"address,omitempty"`
	Text        string `json:"text"`
	RequestID   string `json:"requestId,omitempty"`
}

type SelectParams struct {
	Key string `json:"key"`
}

type MessagesParams struct {
	Key string `json:"key"`
}

type ListParams struct {
	Query string `json:"q,omitempty"`
}
