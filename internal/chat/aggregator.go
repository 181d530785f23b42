// Package chat folds the normalized message stream into per-peer
// conversations and prepares them for display.
package chat

import (
	"slices"
	"strings"
	"sync"

	"github.com/wabridge/wabridge/internal/address"
	"github.com/wabridge/wabridge/internal/message"
)

const previewLength = 50

// Conversation is a read snapshot of one peer or group thread.
type Conversation struct {
	Key             string            `json:"key"`
	DisplayName     string            `json:"displayName"`
	IsGroup         bool              `json:"isGroup"`
	LastMessage     string            `json:"lastMessage"`
	LastMessageTime int64             `json:"lastMessageTime"`
	UnreadCount     int               `json:"unreadCount"`
	Messages        []message.Message `json:"messages,omitempty"`
}

// Preview returns LastMessage truncated for list views.
func (c Conversation) Preview() string {
	return Truncate(c.LastMessage, previewLength)
}

type entry struct {
	Conversation
	ids map[string]struct{}
}

// Aggregator owns every conversation of the live session. Messages keep
// arrival order; they are never re-sorted by timestamp.
type Aggregator struct {
	mu     sync.RWMutex
	format address.Formatter
	convs  map[string]*entry // key → conversation
	order  []string          // creation order
	active string
}

func NewAggregator(format address.Formatter) *Aggregator {
	return &Aggregator{
		format: format,
		convs:  make(map[string]*entry),
	}
}

// Ingest appends m to its conversation, creating the conversation on first
// use. A message whose id is already stored is ignored and Ingest returns
// false.
func (a *Aggregator) Ingest(m message.Message) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	e := a.getOrCreate(m.ConversationKey)
	if _, exists := e.ids[m.ID]; exists {
		return false
	}
	e.ids[m.ID] = struct{}{}
	e.Messages = append(e.Messages, m)
	e.LastMessage = m.Text
	e.LastMessageTime = m.TimestampMillis
	if m.Direction == message.Inbound && m.ConversationKey != a.active {
		e.UnreadCount++
	}
	return true
}

func (a *Aggregator) getOrCreate(key string) *entry {
	if e, ok := a.convs[key]; ok {
		return e
	}
	e := &entry{
		Conversation: Conversation{
			Key:         key,
			DisplayName: a.format.DisplayName(key),
			IsGroup:     address.IsGroup(key),
		},
		ids: make(map[string]struct{}),
	}
	a.convs[key] = e
	a.order = append(a.order, key)
	return e
}

// SetFormatter swaps the address formatter and recomputes every display
// name with it.
func (a *Aggregator) SetFormatter(format address.Formatter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.format = format
	for _, e := range a.convs {
		e.DisplayName = format.DisplayName(e.Key)
	}
}

// Select makes key the active conversation and clears its unread count. An
// empty key clears the selection.
func (a *Aggregator) Select(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = key
	if e, ok := a.convs[key]; ok {
		e.UnreadCount = 0
	}
}

// Active returns the selected conversation key, or "".
func (a *Aggregator) Active() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// ListConversations returns every conversation without messages, most recent
// first. Equal times keep creation order.
func (a *Aggregator) ListConversations() []Conversation {
	a.mu.RLock()
	out := make([]Conversation, 0, len(a.order))
	for _, key := range a.order {
		c := a.convs[key].Conversation
		c.Messages = nil
		out = append(out, c)
	}
	a.mu.RUnlock()

	slices.SortStableFunc(out, func(x, y Conversation) int {
		switch {
		case x.LastMessageTime > y.LastMessageTime:
			return -1
		case x.LastMessageTime < y.LastMessageTime:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Search filters ListConversations by key, display name or last message.
func (a *Aggregator) Search(query string) []Conversation {
	all := a.ListConversations()
	if query == "" {
		return all
	}
	q := strings.ToLower(query)
	out := all[:0]
	for _, c := range all {
		if strings.Contains(c.Key, query) ||
			strings.Contains(strings.ToLower(c.DisplayName), q) ||
			strings.Contains(strings.ToLower(c.LastMessage), q) {
			out = append(out, c)
		}
	}
	return out
}

// Conversation returns a snapshot of one conversation including messages.
func (a *Aggregator) Conversation(key string) (Conversation, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.convs[key]
	if !ok {
		return Conversation{}, false
	}
	c := e.Conversation
	c.Messages = slices.Clone(e.Messages)
	return c, true
}

// Messages returns a copy of one conversation's messages in arrival order.
func (a *Aggregator) Messages(key string) []message.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.convs[key]
	if !ok {
		return nil
	}
	return slices.Clone(e.Messages)
}

// CurrentMessages returns the active conversation's messages in arrival
// order, or nil when nothing is selected.
func (a *Aggregator) CurrentMessages() []message.Message {
	a.mu.RLock()
	key := a.active
	a.mu.RUnlock()
	if key == "" {
		return nil
	}
	return a.Messages(key)
}

// Len returns the number of conversations.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.convs)
}

// Truncate cuts s to max runes and appends "...".
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
