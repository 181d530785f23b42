package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wabridge/wabridge/internal/message"
	"github.com/wabridge/wabridge/internal/session"
)

const DefaultBufferSize = 64

// Subscription is one observer's queue. C is closed when the subscription is
// removed or evicted for falling behind.
type Subscription struct {
	ID string
	C  <-chan Event

	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// offer queues e without blocking. It returns false when the queue is full.
func (s *Subscription) offer(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broadcaster is the process-wide publish point. The subscriber list is
// copy-on-write: Publish reads it without locking, so registration churn
// never delays delivery.
type Broadcaster struct {
	mu         sync.Mutex // serializes writers of subs
	pubMu      sync.Mutex // stamp and offer as one step, so every observer sees Seq ascending
	subs       atomic.Pointer[[]*Subscription]
	seq        atomic.Uint64
	bufferSize int
	now        func() time.Time
}

var _ session.Publisher = (*Broadcaster)(nil)

func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	b := &Broadcaster{bufferSize: bufferSize, now: time.Now}
	b.subs.Store(&[]*Subscription{})
	return b
}

// Subscribe registers a new observer.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan Event, b.bufferSize)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	old := *b.subs.Load()
	next := make([]*Subscription, 0, len(old)+1)
	next = append(next, old...)
	next = append(next, sub)
	b.subs.Store(&next)
	return sub
}

// Unsubscribe removes an observer and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	old := *b.subs.Load()
	next := make([]*Subscription, 0, len(old))
	var removed *Subscription
	for _, s := range old {
		if s.ID == id {
			removed = s
			continue
		}
		next = append(next, s)
	}
	b.subs.Store(&next)
	b.mu.Unlock()

	if removed != nil {
		removed.close()
	}
}

// Count returns the number of registered observers.
func (b *Broadcaster) Count() int {
	return len(*b.subs.Load())
}

// Publish stamps e and offers it to every observer. An observer whose queue
// is full is evicted instead of blocking the others.
func (b *Broadcaster) Publish(e Event) Event {
	b.pubMu.Lock()
	e = b.stamp(e)
	var evicted []string
	for _, sub := range *b.subs.Load() {
		if !sub.offer(e) {
			evicted = append(evicted, sub.ID)
		}
	}
	b.pubMu.Unlock()

	for _, id := range evicted {
		slog.Warn("event subscriber evicted", "subscriber", id, "kind", e.Kind)
		b.Unsubscribe(id)
	}
	return e
}

// Deliver sends e to a single observer. It reports false when the observer
// is gone or was evicted.
func (b *Broadcaster) Deliver(id string, e Event) bool {
	b.pubMu.Lock()
	e = b.stamp(e)
	var target *Subscription
	for _, sub := range *b.subs.Load() {
		if sub.ID == id {
			target = sub
			break
		}
	}
	delivered := target != nil && target.offer(e)
	b.pubMu.Unlock()

	if target != nil && !delivered {
		slog.Warn("event subscriber evicted", "subscriber", id, "kind", e.Kind)
		b.Unsubscribe(id)
	}
	return delivered
}

func (b *Broadcaster) stamp(e Event) Event {
	e.Seq = b.seq.Add(1)
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	return e
}

func (b *Broadcaster) PublishState(s session.State) { b.Publish(StateChanged(s)) }

func (b *Broadcaster) PublishChallenge(encoded string) { b.Publish(ChallengeIssued(encoded)) }

func (b *Broadcaster) PublishEstablished(identity string) { b.Publish(SessionEstablished(identity)) }

func (b *Broadcaster) PublishMessage(m message.Message) { b.Publish(MessageReceived(m)) }
