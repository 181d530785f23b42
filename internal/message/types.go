package message

import (
	"encoding/json"
	"fmt"
)

// Direction tells whether a message was received or sent by this session.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

func (d Direction) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "inbound":
		*d = Inbound
	case "outbound":
		*d = Outbound
	default:
		return fmt.Errorf("unknown direction %q", s)
	}
	return nil
}

// ContentKind is the single content shape a message was classified as.
type ContentKind int

const (
	KindText ContentKind = iota
	KindImage
	KindVideo
	KindAudio
	KindDocument
	KindSticker
)

var kindNames = [...]string{"text", "image", "video", "audio", "document", "sticker"}

func (k ContentKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

func (k ContentKind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

func (k *ContentKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for i, name := range kindNames {
		if name == s {
			*k = ContentKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown content kind %q", s)
}

// DeliveryStatus is only meaningful for outbound messages.
type DeliveryStatus int

const (
	StatusSent DeliveryStatus = iota
	StatusDelivered
	StatusRead
)

var statusNames = [...]string{"sent", "delivered", "read"}

func (s DeliveryStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

func (s DeliveryStatus) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *DeliveryStatus) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for i, n := range statusNames {
		if n == name {
			*s = DeliveryStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown delivery status %q", name)
}

// Media describes a non-text attachment. Fields the protocol did not provide
// stay empty; ByteLength is nil rather than 0 when the size is unknown.
type Media struct {
	URI        string `json:"uri,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	ByteLength *int64 `json:"byteLength,omitempty"`
	FileName   string `json:"fileName,omitempty"`
}

// Message is the canonical, immutable form of one protocol message.
type Message struct {
	ID              string         `json:"id"`
	ConversationKey string         `json:"conversationKey"`
	Direction       Direction      `json:"direction"`
	Kind            ContentKind    `json:"contentKind"`
	Text            string         `json:"text"`
	Media           *Media         `json:"media,omitempty"`
	TimestampMillis int64          `json:"timestampMillis"`
	Status          DeliveryStatus `json:"deliveryStatus"`
	SenderAddress   string         `json:"senderAddress,omitempty"`
}

// IsOwn reports whether the message was sent by this session.
func (m Message) IsOwn() bool { return m.Direction == Outbound }
