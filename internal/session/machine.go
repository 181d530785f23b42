package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wabridge/wabridge/internal/address"
	"github.com/wabridge/wabridge/internal/message"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	DefaultSendTimeout    = 30 * time.Second

	eventBufferSize = 64
)

// Config tunes the state machine.
type Config struct {
	ReconnectDelay time.Duration
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	DefaultDomain  string
}

// SendResult is the terminal outcome of a send request.
type SendResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	To        string    `json:"to"`
	JID       string    `json:"jid,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type loopEventKind int

const (
	evDialed loopEventKind = iota
	evLifecycle
	evInbound
	evEcho
	evRestart
	evResync
)

type loopEvent struct {
	kind      loopEventKind
	gen       uint64
	handle    Handle
	err       error
	lifecycle LifecycleEvent
	payload   message.Payload
	msg       message.Message
}

// Machine drives the session lifecycle:
//
//	Disconnected -> Connecting -> ChallengeReady -> Connected
//
// with automatic reconnects after a non-permanent closure. All transitions
// happen on the Run goroutine; Snapshot and Send are safe from any goroutine.
type Machine struct {
	transport Transport
	publisher Publisher
	inbox     Inbox
	encoder   ChallengeEncoder
	cfg       Config

	reconnectDelay atomic.Int64

	mu     sync.RWMutex
	state  State
	handle Handle

	events chan loopEvent
	done   chan struct{}

	// owned by Run
	gen        uint64
	dialCancel context.CancelFunc
	retry      *time.Timer
	retryC     <-chan time.Time
}

// NewMachine wires a state machine. encoder may be nil, in which case
// challenges are rendered as QR code data URLs.
func NewMachine(cfg Config, transport Transport, publisher Publisher, inbox Inbox, encoder ChallengeEncoder) *Machine {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.DefaultDomain == "" {
		cfg.DefaultDomain = address.DefaultDomain
	}
	if encoder == nil {
		encoder = QREncoder{}
	}
	m := &Machine{
		transport: transport,
		publisher: publisher,
		inbox:     inbox,
		encoder:   encoder,
		cfg:       cfg,
		state:     disconnectedState(),
		events:    make(chan loopEvent, eventBufferSize),
		done:      make(chan struct{}),
	}
	m.reconnectDelay.Store(int64(cfg.ReconnectDelay))
	return m
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SetReconnectDelay changes the backoff used for future retries.
func (m *Machine) SetReconnectDelay(d time.Duration) {
	if d > 0 {
		m.reconnectDelay.Store(int64(d))
	}
}

// Restart tears down the current session (if any), cancels a pending retry
// and connects again. It is the only way out of a permanent logout.
func (m *Machine) Restart() {
	m.post(loopEvent{kind: evRestart})
}

// Resync republishes the current snapshot from the loop so it is ordered
// with every other state event.
func (m *Machine) Resync() {
	m.post(loopEvent{kind: evResync})
}

// Run connects and processes session events until ctx is done.
func (m *Machine) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.teardown()

	m.connect(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("session machine stopping")
			return nil
		case <-m.retryC:
			m.retry, m.retryC = nil, nil
			slog.Info("reconnecting")
			m.connect(ctx)
		case ev := <-m.events:
			m.dispatch(ctx, ev)
		}
	}
}

func (m *Machine) dispatch(ctx context.Context, ev loopEvent) {
	switch ev.kind {
	case evDialed:
		m.onDialed(ev)
	case evLifecycle:
		if ev.gen != m.gen {
			return
		}
		m.onLifecycle(ev.lifecycle)
	case evInbound:
		if ev.gen != m.gen {
			return
		}
		if ev.payload.Message == nil {
			// protocol stubs and undecryptable placeholders carry no content
			slog.Debug("contentless message skipped", "id", ev.payload.Key.ID, "conversation", ev.payload.Key.RemoteJID)
			return
		}
		msg := message.Classify(ev.payload)
		if msg.ID == "" {
			msg.ID = message.NewLocalID()
		}
		m.ingest(msg)
	case evEcho:
		m.ingest(ev.msg)
	case evRestart:
		slog.Info("session restart requested")
		m.stopRetry()
		if m.Snapshot().Status != StatusDisconnected {
			m.dropHandle()
			m.setState(disconnectedState())
		}
		m.connect(ctx)
	case evResync:
		m.publisher.PublishState(m.Snapshot())
	}
}

func (m *Machine) connect(ctx context.Context) {
	m.stopRetry()
	m.dropHandle()
	gen := m.gen

	m.setState(connectingState())

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	m.dialCancel = cancel
	go func() {
		h, err := m.transport.Connect(dialCtx)
		m.post(loopEvent{kind: evDialed, gen: gen, handle: h, err: err})
	}()
}

func (m *Machine) onDialed(ev loopEvent) {
	if ev.gen != m.gen {
		if ev.handle != nil {
			_ = ev.handle.Close()
		}
		return
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if ev.err != nil {
		slog.Warn("transport connect failed", "error", ev.err)
		m.onClosed(LifecycleEvent{Kind: LifecycleClosed, Reason: ev.err.Error()})
		return
	}

	m.mu.Lock()
	m.handle = ev.handle
	m.mu.Unlock()

	gen := ev.gen
	ev.handle.Subscribe(
		func(le LifecycleEvent) { m.post(loopEvent{kind: evLifecycle, gen: gen, lifecycle: le}) },
		func(p message.Payload) { m.post(loopEvent{kind: evInbound, gen: gen, payload: p}) },
	)
}

func (m *Machine) onLifecycle(le LifecycleEvent) {
	status := m.Snapshot().Status
	switch le.Kind {
	case LifecycleConnecting:
		if status == StatusDisconnected || status == StatusConnecting {
			m.setState(connectingState())
		}
	case LifecycleChallenge:
		if status != StatusConnecting && status != StatusChallengeReady {
			slog.Debug("challenge ignored", "status", status)
			return
		}
		encoded, err := m.encoder.Encode(le.Challenge)
		if err != nil {
			if !errors.Is(err, ErrChallengeEncodingFailed) {
				err = fmt.Errorf("%w: %v", ErrChallengeEncodingFailed, err)
			}
			slog.Error("challenge dropped", "error", err)
			return
		}
		m.setState(challengeState(encoded))
		m.publisher.PublishChallenge(encoded)
		slog.Info("challenge issued")
	case LifecycleOpened:
		if status != StatusConnecting && status != StatusChallengeReady {
			return
		}
		identity := address.StripDevice(le.SelfAddress)
		m.setState(connectedState(identity))
		m.publisher.PublishEstablished(identity)
		slog.Info("session established", "identity", identity)
	case LifecycleClosed:
		m.onClosed(le)
	}
}

func (m *Machine) onClosed(le LifecycleEvent) {
	m.dropHandle()
	m.setState(disconnectedState())

	if le.Permanent {
		slog.Warn("session closed", "reason", le.Reason, "error", ErrPermanentLogout)
		return
	}
	delay := time.Duration(m.reconnectDelay.Load())
	slog.Info("session closed, retry scheduled", "reason", le.Reason, "delay", delay)
	m.stopRetry()
	m.retry = time.NewTimer(delay)
	m.retryC = m.retry.C
}

func (m *Machine) ingest(msg message.Message) {
	if m.inbox != nil && !m.inbox.Ingest(msg) {
		slog.Debug("duplicate message dropped", "id", msg.ID, "conversation", msg.ConversationKey)
		return
	}
	m.publisher.PublishMessage(msg)
}

// setState stores s and publishes it when anything changed.
func (m *Machine) setState(s State) {
	m.mu.Lock()
	changed := !m.state.Equal(s)
	m.state = s
	m.mu.Unlock()
	if changed {
		m.publisher.PublishState(s)
	}
}

// dropHandle discards the current handle and invalidates its pending events.
func (m *Machine) dropHandle() {
	m.gen++
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.mu.Lock()
	h := m.handle
	m.handle = nil
	m.mu.Unlock()
	if h != nil {
		if err := h.Close(); err != nil {
			slog.Debug("transport close", "error", err)
		}
	}
}

func (m *Machine) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry, m.retryC = nil, nil
	}
}

func (m *Machine) teardown() {
	m.stopRetry()
	m.dropHandle()
}

func (m *Machine) post(ev loopEvent) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// Send delivers text to addr through the live session. It runs on the
// caller's goroutine so inbound events keep flowing during the round trip.
// Bare phone numbers get the default domain appended.
func (m *Machine) Send(ctx context.Context, addr, text string) (SendResult, error) {
	res := SendResult{To: addr, Timestamp: time.Now()}

	m.mu.RLock()
	h, status := m.handle, m.state.Status
	m.mu.RUnlock()

	if h == nil {
		res.Message = ErrTransportUnavailable.Error()
		return res, ErrTransportUnavailable
	}
	if status != StatusConnected {
		res.Message = ErrNotConnected.Error()
		return res, ErrNotConnected
	}
	jid := address.ToJID(addr, m.cfg.DefaultDomain)
	if jid == "" {
		res.Message = ErrInvalidAddress.Error()
		return res, ErrInvalidAddress
	}
	res.JID = jid

	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()

	receipt, err := h.Send(sendCtx, jid, text)
	if err != nil {
		sendErr := &SendError{Address: addr, JID: jid, Err: err}
		res.Message = err.Error()
		slog.Warn("send failed", "jid", jid, "error", err)
		return res, sendErr
	}

	ts := receipt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	echo := message.NewOutbound(jid, receipt.ID, text, ts.UnixMilli())
	m.post(loopEvent{kind: evEcho, msg: echo})

	res.Success = true
	res.Message = "message sent"
	res.MessageID = echo.ID
	res.Timestamp = ts
	return res, nil
}
