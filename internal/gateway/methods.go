package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wabridge/wabridge/internal/chat"
	"github.com/wabridge/wabridge/internal/events"
	"github.com/wabridge/wabridge/internal/session"
	"github.com/wabridge/wabridge/internal/wire"
)

var (
	errInvalidParams        = errors.New("invalid params")
	errDuplicateRequest     = errors.New("duplicate request id")
	errConversationNotFound = errors.New("conversation not found")
)

// errorStatus maps an operation error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errInvalidParams):
		return http.StatusBadRequest, CodeInvalidParams
	case errors.Is(err, session.ErrInvalidAddress):
		return http.StatusBadRequest, CodeInvalidAddress
	case errors.Is(err, errConversationNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, errDuplicateRequest):
		return http.StatusConflict, CodeDuplicateRequest
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusConflict, CodeNotConnected
	case errors.Is(err, session.ErrTransportUnavailable):
		return http.StatusServiceUnavailable, CodeTransportUnavailable
	case errors.Is(err, session.ErrSendFailed):
		return http.StatusBadGateway, CodeSendFailed
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// sendMessage validates p and sends through the session (shared by WebSocket and HTTP API).
func (s *Server) sendMessage(ctx context.Context, p SendParams) (session.SendResult, error) {
	to := sendTarget(p)
	res := session.SendResult{To: to, RequestID: p.RequestID}
	if to == "" {
		res.Message = "phoneNumber or address required"
		return res, fmt.Errorf("%w: %s", errInvalidParams, res.Message)
	}
	if strings.TrimSpace(p.Text) == "" {
		res.Message = "text required"
		return res, fmt.Errorf("%w: %s", errInvalidParams, res.Message)
	}
	if s.Requests.IsDuplicate(p.RequestID) {
		res.Message = errDuplicateRequest.Error()
		return res, errDuplicateRequest
	}

	out, err := s.Session.Send(ctx, to, p.Text)
	out.RequestID = p.RequestID
	if err != nil {
		// a failed attempt may be retried under the same id
		s.Requests.Forget(p.RequestID)
		return out, err
	}
	return out, nil
}

// conversationView adds the list preview to a conversation.
type conversationView struct {
	chat.Conversation
	Preview string `json:"preview"`
}

func (s *Server) listConversations(query string) map[string]any {
	list := s.Chat.Search(strings.TrimSpace(query))
	views := make([]conversationView, 0, len(list))
	for _, c := range list {
		views = append(views, conversationView{Conversation: c, Preview: c.Preview()})
	}
	return map[string]any{"conversations": views, "active": s.Chat.Active()}
}

func (s *Server) selectConversation(raw string) map[string]any {
	key := s.conversationKey(raw)
	s.Chat.Select(key)
	out := map[string]any{"active": key}
	if c, ok := s.Chat.Conversation(key); ok {
		c.Messages = nil
		out["conversation"] = conversationView{Conversation: c, Preview: c.Preview()}
	}
	return out
}

func (s *Server) conversationMessages(raw string) (map[string]any, error) {
	key := s.conversationKey(raw)
	if key == "" {
		return nil, fmt.Errorf("%w: key required", errInvalidParams)
	}
	c, ok := s.Chat.Conversation(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errConversationNotFound, key)
	}
	groups := chat.GroupForDisplay(c.Messages, s.cfg().Locale.Location())
	c.Messages = nil
	return map[string]any{
		"conversation": conversationView{Conversation: c, Preview: c.Preview()},
		"groups":       nonNilGroups(groups),
	}, nil
}

func (s *Server) currentMessages() map[string]any {
	key := s.Chat.Active()
	groups := chat.GroupForDisplay(s.Chat.CurrentMessages(), s.cfg().Locale.Location())
	return map[string]any{"active": key, "groups": nonNilGroups(groups)}
}

func nonNilGroups(g []chat.DateGroup) []chat.DateGroup {
	if g == nil {
		return []chat.DateGroup{}
	}
	return g
}

// WebSocket methods

type methodHandler func(ctx context.Context, conn *Conn, frame wire.Frame) (any, error)

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		MethodStateGet:              s.handleStateGet,
		MethodSessionRestart:        s.handleSessionRestart,
		MethodConversationsList:     s.handleConversationsList,
		MethodConversationsSelect:   s.handleConversationsSelect,
		MethodConversationsMessages: s.handleConversationsMessages,
	}
}

// wsSend runs a send on its own goroutine so the read loop keeps serving.
// The outcome goes to this connection only: a res frame plus a send.result
// event.
func (s *Server) wsSend(ctx context.Context, conn *Conn, frame wire.Frame) {
	var p SendParams
	if err := frame.DecodeParams(&p); err != nil {
		conn.Send(wire.ResErr(frame.ID, CodeInvalidParams, err.Error()))
		return
	}
	res, err := s.sendMessage(ctx, p)
	if err != nil {
		_, code := errorStatus(err)
		slog.Debug("ws send failed", "conn", conn.ID, "code", code, "error", err)
		conn.Send(wire.ResErr(frame.ID, code, err.Error()))
	} else {
		conn.Send(wire.ResOK(frame.ID, res))
	}
	s.Events.Deliver(conn.ID, events.SendResultEvent(res))
}

func (s *Server) handleStateGet(ctx context.Context, conn *Conn, frame wire.Frame) (any, error) {
	return s.Session.Snapshot(), nil
}

func (s *Server) handleSessionRestart(ctx context.Context, conn *Conn, frame wire.Frame) (any, error) {
	s.Session.Restart()
	return map[string]any{"status": "restarting"}, nil
}

func (s *Server) handleConversationsList(ctx context.Context, conn *Conn, frame wire.Frame) (any, error) {
	var p ListParams
	if len(frame.Params) > 0 {
		if err := frame.DecodeParams(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
		}
	}
	return s.listConversations(p.Query), nil
}

func (s *Server) handleConversationsSelect(ctx context.Context, conn *Conn, frame wire.Frame) (any, error) {
	var p SelectParams
	if err := frame.DecodeParams(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return s.selectConversation(p.Key), nil
}

func (s *Server) handleConversationsMessages(ctx context.Context, conn *Conn, frame wire.Frame) (any, error) {
	var p MessagesParams
	if err := frame.DecodeParams(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return s.conversationMessages(p.Key)
}
