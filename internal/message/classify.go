package message

import (
	"github.com/google/uuid"

	"github.com/wabridge/wabridge/internal/address"
)

// Placeholder labels shown for media without a caption.
const (
	PlaceholderImage    = "[Image]"
	PlaceholderVideo    = "[Video]"
	PlaceholderAudio    = "[Audio]"
	PlaceholderDocument = "[Document]"
	PlaceholderSticker  = "[Sticker]"
)

const localIDPrefix = "local-"

// Envelope is the delivery metadata shared by every content variant.
type Envelope struct {
	ID              string
	ConversationKey string
	Direction       Direction
	TimestampMillis int64
	SenderAddress   string
}

func (e Envelope) status() DeliveryStatus {
	if e.Direction == Outbound {
		return StatusSent
	}
	return StatusRead
}

// NewText builds a text message.
func NewText(env Envelope, text string) Message {
	return Message{
		ID:              env.ID,
		ConversationKey: env.ConversationKey,
		Direction:       env.Direction,
		Kind:            KindText,
		Text:            text,
		TimestampMillis: env.TimestampMillis,
		Status:          env.status(),
		SenderAddress:   env.SenderAddress,
	}
}

// NewMedia builds a media message. label is the caption or the kind's
// placeholder.
func NewMedia(env Envelope, kind ContentKind, label string, media Media) Message {
	m := NewText(env, label)
	m.Kind = kind
	m.Media = &media
	return m
}

// Classify maps a raw payload to exactly one content variant. Content fields
// are probed in fixed order: conversation, extended text, image, video,
// audio, document, sticker. A payload with none of them becomes an empty
// text message.
func Classify(p Payload) Message {
	env := Envelope{
		ID:              p.Key.ID,
		ConversationKey: address.GroupAddress(p.Key.RemoteJID),
		Direction:       Inbound,
		TimestampMillis: address.NormalizeTimestamp(int64(p.MessageTimestamp)),
	}
	if p.Key.FromMe {
		env.Direction = Outbound
	}
	if address.IsGroup(env.ConversationKey) {
		env.SenderAddress = groupSender(p.Key)
	}

	c := p.Message
	switch {
	case c == nil:
		return NewText(env, "")
	case c.Conversation != "":
		return NewText(env, c.Conversation)
	case c.ExtendedTextMessage != nil:
		return NewText(env, c.ExtendedTextMessage.Text)
	case c.ImageMessage != nil:
		return NewMedia(env, KindImage, orDefault(c.ImageMessage.Caption, PlaceholderImage), mediaOf(c.ImageMessage))
	case c.VideoMessage != nil:
		return NewMedia(env, KindVideo, orDefault(c.VideoMessage.Caption, PlaceholderVideo), mediaOf(c.VideoMessage))
	case c.AudioMessage != nil:
		return NewMedia(env, KindAudio, PlaceholderAudio, mediaOf(c.AudioMessage))
	case c.DocumentMessage != nil:
		return NewMedia(env, KindDocument, orDefault(c.DocumentMessage.Title, PlaceholderDocument), mediaOf(c.DocumentMessage))
	case c.StickerMessage != nil:
		return NewMedia(env, KindSticker, PlaceholderSticker, mediaOf(c.StickerMessage))
	default:
		return NewText(env, "")
	}
}

// NewOutbound builds the local echo of a text message this session sent.
func NewOutbound(conversationKey, id, text string, timestampMillis int64) Message {
	if id == "" {
		id = NewLocalID()
	}
	return NewText(Envelope{
		ID:              id,
		ConversationKey: conversationKey,
		Direction:       Outbound,
		TimestampMillis: timestampMillis,
	}, text)
}

// NewLocalID returns an id for a locally generated message that cannot
// collide with protocol ids.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

func groupSender(k Key) string {
	if k.Participant != "" {
		return k.Participant
	}
	if member, ok := address.ExtractSenderFromGroupAddress(k.RemoteJID); ok {
		return member
	}
	return ""
}

func mediaOf(mc *MediaContent) Media {
	m := Media{
		URI:      mc.URL,
		MimeType: mc.Mimetype,
		FileName: mc.FileName,
	}
	if mc.FileLength != nil {
		n := int64(*mc.FileLength)
		m.ByteLength = &n
	}
	return m
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
