// Package wsbridge implements session.Transport over a WebSocket link to the
// protocol bridge process.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wabridge/wabridge/internal/address"
	"github.com/wabridge/wabridge/internal/message"
	"github.com/wabridge/wabridge/internal/session"
	"github.com/wabridge/wabridge/internal/wire"
)

const (
	readLimit    = 16 * 1024 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	writeWait    = 10 * time.Second
)

// ErrClosed is returned for requests on a link that has gone away.
var ErrClosed = errors.New("bridge link closed")

// Transport dials the bridge. Every Connect opens a fresh socket.
type Transport struct {
	URL    string
	Token  string
	Dialer *websocket.Dialer
}

func New(url, token string) *Transport {
	return &Transport{URL: url, Token: token, Dialer: websocket.DefaultDialer}
}

func (t *Transport) Connect(ctx context.Context) (session.Handle, error) {
	header := http.Header{}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial bridge %s: %w (status %d)", t.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial bridge %s: %w", t.URL, err)
	}
	slog.Debug("bridge link open", "url", t.URL)
	return newLink(ws), nil
}

// link is one live socket to the bridge.
type link struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan wire.Frame
	closed  bool

	onLifecycle func(session.LifecycleEvent)
	onMessage   func(message.Payload)

	done      chan struct{}
	closeOnce sync.Once
}

func newLink(ws *websocket.Conn) *link {
	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &link{
		ws:      ws,
		pending: make(map[string]chan wire.Frame),
		done:    make(chan struct{}),
	}
}

// Subscribe installs the callbacks and starts reading. Nothing is read before
// Subscribe, so no event can be missed.
func (l *link) Subscribe(onLifecycle func(session.LifecycleEvent), onMessage func(message.Payload)) {
	l.onLifecycle = onLifecycle
	l.onMessage = onMessage
	go l.readLoop()
	go l.pingLoop()
}

func (l *link) readLoop() {
	for {
		frame, err := wire.ReadFrame(l.ws)
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			slog.Warn("malformed bridge frame", "error", err)
			continue
		}
		if err != nil {
			if l.shutdown() {
				_ = l.ws.Close()
				l.onLifecycle(session.LifecycleEvent{Kind: session.LifecycleClosed, Reason: err.Error()})
			}
			return
		}
		switch frame.Type {
		case wire.TypeEvent:
			l.dispatchEvent(frame)
		case wire.TypeRes:
			l.mu.Lock()
			ch, ok := l.pending[frame.ID]
			delete(l.pending, frame.ID)
			l.mu.Unlock()
			if ok {
				ch <- frame
			}
		default:
			slog.Debug("bridge frame ignored", "type", frame.Type)
		}
	}
}

func (l *link) dispatchEvent(frame wire.Frame) {
	switch frame.Event {
	case EventConnectionUpdate:
		var u ConnectionUpdate
		if err := frame.Decode(&u); err != nil {
			slog.Warn("bad connection.update", "error", err)
			return
		}
		for _, le := range lifecycleEvents(u) {
			l.onLifecycle(le)
		}
	case EventMessagesUpsert:
		var u MessagesUpsert
		if err := frame.Decode(&u); err != nil {
			slog.Warn("bad messages.upsert", "error", err)
			return
		}
		if u.Type != UpsertNotify {
			slog.Debug("upsert batch skipped", "type", u.Type, "count", len(u.Messages))
			return
		}
		for _, p := range u.Messages {
			l.onMessage(p)
		}
	default:
		slog.Debug("bridge event ignored", "event", frame.Event)
	}
}

// lifecycleEvents maps one connection.update to zero or more lifecycle events.
func lifecycleEvents(u ConnectionUpdate) []session.LifecycleEvent {
	var out []session.LifecycleEvent
	if u.Connection == ConnectionConnecting {
		out = append(out, session.LifecycleEvent{Kind: session.LifecycleConnecting})
	}
	if u.QR != "" {
		out = append(out, session.LifecycleEvent{Kind: session.LifecycleChallenge, Challenge: u.QR})
	}
	switch u.Connection {
	case ConnectionOpen:
		out = append(out, session.LifecycleEvent{Kind: session.LifecycleOpened, SelfAddress: u.SelfID})
	case ConnectionClose:
		out = append(out, session.LifecycleEvent{Kind: session.LifecycleClosed, Reason: u.Reason, Permanent: u.LoggedOut})
	}
	return out
}

func (l *link) pingLoop() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			l.writeMu.Lock()
			err := l.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			l.writeMu.Unlock()
			if err != nil {
				slog.Debug("bridge ping failed", "error", err)
				return
			}
		}
	}
}

// Send issues message.send and waits for the bridge's reply.
func (l *link) Send(ctx context.Context, jid, text string) (session.SendReceipt, error) {
	id := uuid.NewString()
	req, err := wire.Req(id, MethodMessageSend, SendParams{JID: jid, Text: text})
	if err != nil {
		return session.SendReceipt{}, err
	}

	ch := make(chan wire.Frame, 1)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return session.SendReceipt{}, ErrClosed
	}
	l.pending[id] = ch
	l.mu.Unlock()

	forget := func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}

	if err := l.write(req); err != nil {
		forget()
		return session.SendReceipt{}, fmt.Errorf("write %s: %w", MethodMessageSend, err)
	}

	select {
	case <-ctx.Done():
		forget()
		return session.SendReceipt{}, ctx.Err()
	case <-l.done:
		return session.SendReceipt{}, ErrClosed
	case res := <-ch:
		if !res.Succeeded() {
			if res.Error != nil {
				return session.SendReceipt{}, res.Error
			}
			return session.SendReceipt{}, errors.New("bridge rejected message.send")
		}
		var ack SendAck
		if err := res.Decode(&ack); err != nil {
			return session.SendReceipt{}, fmt.Errorf("decode send ack: %w", err)
		}
		receipt := session.SendReceipt{ID: ack.ID}
		if ack.Timestamp > 0 {
			receipt.Timestamp = time.UnixMilli(address.NormalizeTimestamp(int64(ack.Timestamp)))
		}
		return receipt, nil
	}
}

func (l *link) write(f wire.Frame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return l.ws.WriteJSON(f)
}

// Close closes the socket without reporting a lifecycle event.
func (l *link) Close() error {
	if !l.shutdown() {
		return nil
	}
	l.writeMu.Lock()
	_ = l.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	l.writeMu.Unlock()
	return l.ws.Close()
}

// shutdown marks the link closed and fails pending requests. It returns true
// only for the first caller.
func (l *link) shutdown() bool {
	first := false
	l.closeOnce.Do(func() {
		first = true
		l.mu.Lock()
		l.closed = true
		l.pending = make(map[string]chan wire.Frame)
		l.mu.Unlock()
		close(l.done)
	})
	return first
}
