package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Payload is one raw message as emitted by the protocol bridge
// (messages.upsert entries).
type Payload struct {
	Key              Key      `json:"key"`
	MessageTimestamp FlexInt  `json:"messageTimestamp"`
	PushName         string   `json:"pushName,omitempty"`
	Message          *Content `json:"message,omitempty"`
}

// Key carries the delivery metadata of a payload.
type Key struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

// Content is the union of content shapes. At most one field is expected to be
// populated; Classify resolves ambiguity by fixed precedence.
type Content struct {
	Conversation        string        `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedText `json:"extendedTextMessage,omitempty"`
	ImageMessage        *MediaContent `json:"imageMessage,omitempty"`
	VideoMessage        *MediaContent `json:"videoMessage,omitempty"`
	AudioMessage        *MediaContent `json:"audioMessage,omitempty"`
	DocumentMessage     *MediaContent `json:"documentMessage,omitempty"`
	StickerMessage      *MediaContent `json:"stickerMessage,omitempty"`
}

type ExtendedText struct {
	Text string `json:"text"`
}

type MediaContent struct {
	URL        string   `json:"url,omitempty"`
	Mimetype   string   `json:"mimetype,omitempty"`
	FileLength *FlexInt `json:"fileLength,omitempty"`
	FileName   string   `json:"fileName,omitempty"`
	Caption    string   `json:"caption,omitempty"`
	Title      string   `json:"title,omitempty"`
}

// FlexInt decodes integers the bridge may encode as JSON numbers, numeric
// strings or {low, high} long objects.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("parse integer %q: %w", s, err)
		}
		*f = FlexInt(n)
	case '{':
		var long struct {
			Low  int64 `json:"low"`
			High int64 `json:"high"`
		}
		if err := json.Unmarshal(b, &long); err != nil {
			return err
		}
		*f = FlexInt(long.High<<32 | long.Low&0xffffffff)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		v, err := n.Int64()
		if err != nil {
			fv, ferr := n.Float64()
			if ferr != nil {
				return err
			}
			v = int64(fv)
		}
		*f = FlexInt(v)
	}
	return nil
}
