package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wabridge/wabridge/internal/address"
	"github.com/wabridge/wabridge/internal/chat"
	"github.com/wabridge/wabridge/internal/config"
	"github.com/wabridge/wabridge/internal/cron"
	"github.com/wabridge/wabridge/internal/events"
	"github.com/wabridge/wabridge/internal/message"
	"github.com/wabridge/wabridge/internal/session"
	"github.com/wabridge/wabridge/internal/wire"
)

const testToken = "secret"

type fakeSession struct {
	mu       sync.Mutex
	state    session.State
	sendErr  error
	sent     []string
	restarts int
}

func (f *fakeSession) Snapshot() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Send(ctx context.Context, addr, text string) (session.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, addr)
	if f.sendErr != nil {
		return session.SendResult{To: addr, Message: f.sendErr.Error()}, f.sendErr
	}
	return session.SendResult{
		Success:   true,
		Message:   "message sent",
		To:        addr,
		JID:       address.ToJID(addr, ""),
		MessageID: "M1",
	}, nil
}

func (f *fakeSession) Restart() {
	f.mu.Lock()
	f.restarts++
	f.mu.Unlock()
}

func (f *fakeSession) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeSession) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

func (f *fakeSession) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

type testEnv struct {
	srv  *httptest.Server
	gw   *Server
	sess *fakeSession
	chat *chat.Aggregator
	bus  *events.Broadcaster
}

func newTestEnv(t *testing.T, opts ...func(*Server)) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Gateway.Auth.Token = testToken
	cfg.Locale.Timezone = "UTC"

	identity := "5511912345678"
	sess := &fakeSession{state: session.State{Status: session.StatusConnected, Identity: &identity, IsConnected: true}}
	agg := chat.NewAggregator(address.Formatter{CountryCode: "55"})
	bus := events.NewBroadcaster(16)
	gw := NewServer(cfg, sess, agg, bus)
	for _, opt := range opts {
		opt(gw)
	}

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, gw: gw, sess: sess, chat: agg, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, rd)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHealthNeedsNoToken(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["session"] != "connected" {
		t.Errorf("unexpected health %d %v", resp.StatusCode, body)
	}
}

func TestAPIAuth(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := http.Get(env.srv.URL + "/api/state")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: got %d", resp.StatusCode)
	}

	resp, _ = http.Get(env.srv.URL + "/api/state?token=" + testToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("query token: got %d", resp.StatusCode)
	}

	code, body := env.do(t, http.MethodGet, "/api/state", nil)
	if code != http.StatusOK || body["status"] != "connected" || body["identity"] != "5511912345678" || body["challenge"] != nil {
		t.Errorf("unexpected state %d %v", code, body)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/state", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestAPISendFormatsPhoneNumber(t *testing.T) {
	env := newTestEnv(t)
	code, body := env.do(t, http.MethodPost, "/api/messages", SendParams{PhoneNumber: "+55 (11) 99999-9999", Text: "ok"})
	if code != http.StatusOK || body["success"] != true || body["jid"] != "5511999999999@s.whatsapp.net" {
		t.Fatalf("unexpected response %d %v", code, body)
	}
	if sent := env.sess.sentTo(); len(sent) != 1 || sent[0] != "5511999999999" {
		t.Errorf("session saw %v", sent)
	}

	env.do(t, http.MethodPost, "/api/messages", SendParams{Address: "120363@g.us", PhoneNumber: "1", Text: "hi"})
	if sent := env.sess.sentTo(); len(sent) != 2 || sent[1] != "120363@g.us" {
		t.Errorf("address must win over phoneNumber, got %v", sent)
	}
}

func TestAPISendErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   SendParams
		status int
		code   string
	}{
		{"transport missing", session.ErrTransportUnavailable, SendParams{PhoneNumber: "1", Text: "x"}, http.StatusServiceUnavailable, CodeTransportUnavailable},
		{"not connected", session.ErrNotConnected, SendParams{PhoneNumber: "1", Text: "x"}, http.StatusConflict, CodeNotConnected},
		{"send failed", &session.SendError{Address: "1", Err: fmt.Errorf("boom")}, SendParams{PhoneNumber: "1", Text: "x"}, http.StatusBadGateway, CodeSendFailed},
		{"no target", nil, SendParams{Text: "x"}, http.StatusBadRequest, CodeInvalidParams},
		{"no text", nil, SendParams{PhoneNumber: "1", Text: "  "}, http.StatusBadRequest, CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.sess.setSendErr(tt.err)
			code, body := env.do(t, http.MethodPost, "/api/messages", tt.body)
			if code != tt.status || body["code"] != tt.code {
				t.Errorf("got %d %v, want %d %s", code, body, tt.status, tt.code)
			}
		})
	}
}

func TestAPISendDuplicateRequestID(t *testing.T) {
	env := newTestEnv(t)
	req := SendParams{PhoneNumber: "5511999999999", Text: "ok", RequestID: "req-1"}

	env.sess.setSendErr(session.ErrNotConnected)
	if code, _ := env.do(t, http.MethodPost, "/api/messages", req); code != http.StatusConflict {
		t.Fatalf("expected not connected, got %d", code)
	}

	env.sess.setSendErr(nil)
	if code, body := env.do(t, http.MethodPost, "/api/messages", req); code != http.StatusOK || body["requestId"] != "req-1" {
		t.Fatalf("failed attempt must not block a retry: %d %v", code, body)
	}
	if code, body := env.do(t, http.MethodPost, "/api/messages", req); code != http.StatusConflict || body["code"] != CodeDuplicateRequest {
		t.Errorf("expected duplicate, got %d %v", code, body)
	}
}

func seedConversations(env *testEnv) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	env.chat.Ingest(message.NewText(message.Envelope{ID: "a1", ConversationKey: "5511999999999@s.whatsapp.net", Direction: message.Inbound, TimestampMillis: base}, "bom dia"))
	env.chat.Ingest(message.NewText(message.Envelope{ID: "a2", ConversationKey: "5511999999999@s.whatsapp.net", Direction: message.Inbound, TimestampMillis: base + 60_000}, "tudo bem?"))
	env.chat.Ingest(message.NewText(message.Envelope{ID: "b1", ConversationKey: "120363041234567890@g.us", Direction: message.Inbound, TimestampMillis: base + 120_000, SenderAddress: "5521888888888@s.whatsapp.net"}, "reunião"))
}

func TestAPIConversations(t *testing.T) {
	env := newTestEnv(t)
	seedConversations(env)

	code, body := env.do(t, http.MethodGet, "/api/conversations", nil)
	list, _ := body["conversations"].([]any)
	if code != http.StatusOK || len(list) != 2 {
		t.Fatalf("unexpected list %d %v", code, body)
	}
	first := list[0].(map[string]any)
	if first["key"] != "120363041234567890@g.us" || first["isGroup"] != true || first["messages"] != nil {
		t.Errorf("unexpected first conversation %v", first)
	}

	_, body = env.do(t, http.MethodGet, "/api/conversations?q=TUDO", nil)
	if list := body["conversations"].([]any); len(list) != 1 {
		t.Errorf("search returned %v", list)
	}

	_, body = env.do(t, http.MethodPost, "/api/conversations/select", SelectParams{Key: "5511999999999"})
	if body["active"] != "5511999999999@s.whatsapp.net" {
		t.Fatalf("bare number must map to a key, got %v", body)
	}
	conv := body["conversation"].(map[string]any)
	if conv["unreadCount"].(float64) != 0 || conv["preview"] != "tudo bem?" {
		t.Errorf("unexpected selected conversation %v", conv)
	}

	_, body = env.do(t, http.MethodGet, "/api/messages/current", nil)
	groups := body["groups"].([]any)
	if len(groups) != 1 {
		t.Fatalf("expected one date group, got %v", groups)
	}
	msgs := groups[0].(map[string]any)["messages"].([]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["groupedWithNext"] != true {
		t.Errorf("unexpected grouped messages %v", msgs)
	}
}

func TestAPIConversationMessages(t *testing.T) {
	env := newTestEnv(t)
	seedConversations(env)

	code, body := env.do(t, http.MethodGet, "/api/conversations/"+url.PathEscape("120363041234567890@g.us")+"/messages", nil)
	if code != http.StatusOK {
		t.Fatalf("got %d %v", code, body)
	}
	groups := body["groups"].([]any)
	date := groups[0].(map[string]any)["date"]
	if date != "2024-03-01" {
		t.Errorf("unexpected date %v", date)
	}

	code, body = env.do(t, http.MethodGet, "/api/conversations/nobody@s.whatsapp.net/messages", nil)
	if code != http.StatusNotFound || body["code"] != CodeNotFound {
		t.Errorf("expected 404, got %d %v", code, body)
	}
}

func TestAPIRestart(t *testing.T) {
	env := newTestEnv(t)
	if code, _ := env.do(t, http.MethodPost, "/api/session/restart", nil); code != http.StatusAccepted {
		t.Errorf("got %d", code)
	}
	if env.sess.restartCount() != 1 {
		t.Errorf("restart not forwarded")
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: x", errInvalidParams), http.StatusBadRequest, CodeInvalidParams},
		{session.ErrInvalidAddress, http.StatusBadRequest, CodeInvalidAddress},
		{fmt.Errorf("%w: k", errConversationNotFound), http.StatusNotFound, CodeNotFound},
		{errDuplicateRequest, http.StatusConflict, CodeDuplicateRequest},
		{fmt.Errorf("wrapped: %w", session.ErrNotConnected), http.StatusConflict, CodeNotConnected},
		{session.ErrTransportUnavailable, http.StatusServiceUnavailable, CodeTransportUnavailable},
		{&session.SendError{Err: context.DeadlineExceeded}, http.StatusBadGateway, CodeSendFailed},
		{fmt.Errorf("other"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("errorStatus(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestSendTarget(t *testing.T) {
	if got := sendTarget(SendParams{PhoneNumber: "+1 (555) 010-0000"}); got != "15550100000" {
		t.Errorf("got %q", got)
	}
	if got := sendTarget(SendParams{Address: " 120363@g.us ", PhoneNumber: "1"}); got != "120363@g.us" {
		t.Errorf("got %q", got)
	}
	if got := sendTarget(SendParams{PhoneNumber: "abc"}); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestAPIJobs(t *testing.T) {
	ran := make(chan struct{}, 1)
	sched := cron.NewScheduler()
	if err := sched.Add("state-resync", "@every 1h", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, func(s *Server) { s.Jobs = sched })

	_, body := env.do(t, http.MethodGet, "/api/jobs", nil)
	jobs := body["jobs"].([]any)
	if len(jobs) != 1 || jobs[0].(map[string]any)["name"] != "state-resync" {
		t.Fatalf("unexpected jobs %v", body)
	}

	if code, _ := env.do(t, http.MethodPost, "/api/jobs/state-resync/run", nil); code != http.StatusAccepted {
		t.Fatalf("run: got %d", code)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	if code, _ := env.do(t, http.MethodPost, "/api/jobs/missing/run", nil); code != http.StatusNotFound {
		t.Errorf("missing job: got %d", code)
	}
}

// WebSocket

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) wire.Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	f, err := wire.ReadFrame(ws)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func request(t *testing.T, ws *websocket.Conn, id, method string, params any) {
	t.Helper()
	f, err := wire.Req(id, method, params)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteJSON(f); err != nil {
		t.Fatalf("write %s: %v", method, err)
	}
}

// handshake connects and consumes the res and the initial state event.
func handshake(t *testing.T, env *testEnv) (*websocket.Conn, string) {
	t.Helper()
	ws := dialWS(t, env)
	request(t, ws, "c1", MethodConnect, ConnectParams{Token: testToken, Client: "test"})
	res := readWS(t, ws)
	if !res.Succeeded() {
		t.Fatalf("connect rejected: %+v", res.Error)
	}
	var hello struct {
		ConnID string `json:"connId"`
	}
	res.Decode(&hello)

	ev := readWS(t, ws)
	if ev.Type != wire.TypeEvent || ev.Event != events.KindStateChanged {
		t.Fatalf("expected initial state.changed, got %+v", ev)
	}
	var e events.Event
	ev.Decode(&e)
	if e.State == nil || e.State.Status != session.StatusConnected {
		t.Fatalf("unexpected initial state %+v", e.State)
	}
	return ws, hello.ConnID
}

func TestWebSocketHandshakeRejections(t *testing.T) {
	env := newTestEnv(t)

	ws := dialWS(t, env)
	request(t, ws, "1", MethodStateGet, nil)
	if res := readWS(t, ws); res.Succeeded() || res.Error.Code != CodeHandshakeRequired {
		t.Errorf("expected handshake required, got %+v", res)
	}

	ws = dialWS(t, env)
	request(t, ws, "1", MethodConnect, ConnectParams{Token: "wrong"})
	if res := readWS(t, ws); res.Succeeded() || res.Error.Code != CodeAuthFailed {
		t.Errorf("expected auth failure, got %+v", res)
	}
}

func TestWebSocketFanOut(t *testing.T) {
	env := newTestEnv(t)
	a, _ := handshake(t, env)
	b, _ := handshake(t, env)

	env.bus.PublishMessage(message.Message{ID: "X1", ConversationKey: "5511999999999@s.whatsapp.net", Text: "oi"})
	for _, ws := range []*websocket.Conn{a, b} {
		f := readWS(t, ws)
		var e events.Event
		f.Decode(&e)
		if f.Event != events.KindMessageReceived || e.Message == nil || e.Message.ID != "X1" || e.ConversationKey != "5511999999999@s.whatsapp.net" {
			t.Errorf("unexpected frame %+v", f)
		}
	}
	if env.gw.Conns.Count() != 2 {
		t.Errorf("expected 2 connections, got %d", env.gw.Conns.Count())
	}
}

func TestWebSocketSendResultOnlyToRequester(t *testing.T) {
	env := newTestEnv(t)
	a, _ := handshake(t, env)
	b, _ := handshake(t, env)

	request(t, a, "s1", MethodMessageSend, SendParams{PhoneNumber: "5511999999999", Text: "ok"})

	var gotRes, gotEvent bool
	for i := 0; i < 2; i++ {
		f := readWS(t, a)
		switch {
		case f.Type == wire.TypeRes && f.ID == "s1":
			gotRes = f.Succeeded()
		case f.Event == events.KindSendResult:
			var e events.Event
			f.Decode(&e)
			gotEvent = e.SendResult != nil && e.SendResult.Success && e.SendResult.To == "5511999999999"
		}
	}
	if !gotRes || !gotEvent {
		t.Errorf("requester missing outcome: res=%v event=%v", gotRes, gotEvent)
	}

	b.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if f, err := wire.ReadFrame(b); err == nil {
		t.Errorf("other observer received %+v", f)
	}
}

func TestWebSocketSendFailure(t *testing.T) {
	env := newTestEnv(t)
	env.sess.setSendErr(session.ErrNotConnected)
	a, _ := handshake(t, env)

	request(t, a, "s1", MethodMessageSend, SendParams{PhoneNumber: "5511999999999", Text: "ok"})
	for i := 0; i < 2; i++ {
		f := readWS(t, a)
		if f.Type == wire.TypeRes && (f.Succeeded() || f.Error.Code != CodeNotConnected) {
			t.Errorf("unexpected res %+v", f)
		}
		if f.Type == wire.TypeEvent {
			var e events.Event
			f.Decode(&e)
			if e.SendResult == nil || e.SendResult.Success {
				t.Errorf("expected failed send.result, got %+v", e.SendResult)
			}
		}
	}
}

func TestWebSocketMethods(t *testing.T) {
	env := newTestEnv(t)
	seedConversations(env)
	ws, _ := handshake(t, env)

	request(t, ws, "1", MethodConversationsList, ListParams{Query: "reuni"})
	res := readWS(t, ws)
	var list struct {
		Conversations []map[string]any `json:"conversations"`
	}
	res.Decode(&list)
	if len(list.Conversations) != 1 || list.Conversations[0]["key"] != "120363041234567890@g.us" {
		t.Errorf("unexpected list %+v", list)
	}

	request(t, ws, "2", MethodConversationsMessages, MessagesParams{Key: "missing@s.whatsapp.net"})
	if res := readWS(t, ws); res.Succeeded() || res.Error.Code != CodeNotFound {
		t.Errorf("expected not found, got %+v", res)
	}

	request(t, ws, "3", MethodStateGet, nil)
	var st session.State
	readWS(t, ws).Decode(&st)
	if st.Status != session.StatusConnected {
		t.Errorf("unexpected state %+v", st)
	}

	request(t, ws, "4", "agent.run", nil)
	if res := readWS(t, ws); res.Error == nil || res.Error.Code != CodeUnknownMethod {
		t.Errorf("expected unknown method, got %+v", res)
	}
}

func TestConversationKey(t *testing.T) {
	env := newTestEnv(t)
	tests := map[string]string{
		"":                    "",
		"5511999999999":       "5511999999999@s.whatsapp.net",
		"+55 (11) 99999-9999": "5511999999999@s.whatsapp.net",
		"120363@g.us":         "120363@g.us",
		" 5511@lid ":          "5511@lid",
	}
	for in, want := range tests {
		if got := env.gw.conversationKey(in); got != want {
			t.Errorf("conversationKey(%q) = %q, want %q", in, got, want)
		}
	}
}
