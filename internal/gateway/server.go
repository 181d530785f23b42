// Package gateway exposes the session bridge to UI observers over HTTP and
// WebSocket.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wabridge/wabridge/internal/bridge"
	"github.com/wabridge/wabridge/internal/chat"
	"github.com/wabridge/wabridge/internal/config"
	"github.com/wabridge/wabridge/internal/cron"
	"github.com/wabridge/wabridge/internal/events"
	"github.com/wabridge/wabridge/internal/message"
	"github.com/wabridge/wabridge/internal/session"
	"github.com/wabridge/wabridge/internal/wire"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// Session is the part of the session machine the gateway drives.
type Session interface {
	Snapshot() session.State
	Send(ctx context.Context, addr, text string) (session.SendResult, error)
	Restart()
}

// BridgeStatus reports the supervised bridge process, if any.
type BridgeStatus interface {
	Status() bridge.Status
}

// Jobs exposes the maintenance scheduler, if any.
type Jobs interface {
	List() []cron.Job
	Runs() []cron.RunRecord
	RunNow(name string) error
}

// Server is the wabridge gateway server.
type Server struct {
	Session  Session
	Chat     *chat.Aggregator
	Events   *events.Broadcaster
	Bridge   BridgeStatus // optional
	Jobs     Jobs         // optional
	Conns    *ConnManager
	Requests *message.Dedup // recent send request ids

	config   atomic.Pointer[config.Config]
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	startAt  time.Time
}

func NewServer(cfg *config.Config, sess Session, conv *chat.Aggregator, bus *events.Broadcaster) *Server {
	s := &Server{
		Session:  sess,
		Chat:     conv,
		Events:   bus,
		Conns:    NewConnManager(),
		Requests: message.NewDedup(cfg.Gateway.RequestDedupTTL),
		startAt:  time.Now(),
	}
	s.config.Store(cfg)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

// SetConfig swaps the config used for auth, CORS and locale. Registered as
// a hot-reload callback.
func (s *Server) SetConfig(cfg *config.Config) {
	if cfg != nil {
		s.config.Store(cfg)
	}
}

func (s *Server) cfg() *config.Config { return s.config.Load() }

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOriginFunc: s.originAllowed,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	engine.GET("/health", s.ginHealth)
	engine.GET("/ws", s.ginWebSocket)
	s.registerAPIRoutes(engine)
	return engine
}

// Start begins listening for connections.
func (s *Server) Start(ctx context.Context) error {
	port := s.cfg().Gateway.Port
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Handler(),
	}
	slog.Info("gateway starting", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) originAllowed(origin string) bool {
	allowed := s.cfg().Gateway.AllowedOrigins
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

func (s *Server) authenticate(token string) bool {
	expected := s.cfg().Gateway.Auth.Token
	if expected == "" {
		return true // no auth configured
	}
	return token == expected
}

func (s *Server) ginHealth(c *gin.Context) {
	body := gin.H{
		"status":        "ok",
		"uptime":        time.Since(s.startAt).String(),
		"session":       s.Session.Snapshot().Status,
		"clients":       s.Conns.Count(),
		"subscribers":   s.Events.Count(),
		"conversations": s.Chat.Len(),
	}
	if s.Bridge != nil {
		body["bridge"] = s.Bridge.Status()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) ginWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn := &Conn{
		WS:          ws,
		RemoteAddr:  c.ClientIP(),
		ConnectedAt: time.Now(),
	}

	// First message must be a connect request
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	frame, err := wire.ReadFrame(ws)
	if err != nil {
		slog.Debug("failed to read connect frame", "error", err)
		return
	}
	_ = ws.SetReadDeadline(time.Time{})
	if frame.Type != wire.TypeReq || frame.Method != MethodConnect {
		conn.Send(wire.ResErr(frame.ID, CodeHandshakeRequired, "first message must be a connect request"))
		return
	}
	var params ConnectParams
	if err := frame.DecodeParams(&params); err != nil {
		conn.Send(wire.ResErr(frame.ID, CodeInvalidParams, "invalid connect params"))
		return
	}
	if !s.authenticate(params.Token) {
		conn.Send(wire.ResErr(frame.ID, CodeAuthFailed, "invalid token"))
		return
	}

	sub := s.Events.Subscribe()
	defer s.Events.Unsubscribe(sub.ID)
	conn.ID = sub.ID
	conn.Client = params.Client
	s.Conns.Add(conn)
	defer s.Conns.Remove(conn.ID)

	slog.Info("observer connected", "id", conn.ID, "client", conn.Client, "remote", conn.RemoteAddr)

	if err := conn.Send(wire.ResOK(frame.ID, map[string]any{"connId": conn.ID, "protocol": 1})); err != nil {
		return
	}
	s.Events.Deliver(conn.ID, events.StateChanged(s.Session.Snapshot()))

	go s.writePump(conn, sub)
	s.readLoop(c.Request.Context(), conn)
	slog.Info("observer disconnected", "id", conn.ID)
}

// writePump forwards broadcaster events until the subscription ends. An
// evicted subscriber gets its socket closed so the client reconnects and
// receives a fresh snapshot.
func (s *Server) writePump(conn *Conn, sub *events.Subscription) {
	for e := range sub.C {
		if err := conn.Send(wire.EventFrame(e.Kind, e.Seq, e)); err != nil {
			slog.Debug("event write failed", "id", conn.ID, "error", err)
			conn.WS.Close()
			return
		}
	}
	conn.WS.Close()
}

func (s *Server) readLoop(ctx context.Context, conn *Conn) {
	methods := s.methods()
	for {
		frame, err := wire.ReadFrame(conn.WS)
		if err != nil {
			slog.Debug("connection closed", "id", conn.ID, "error", err)
			return
		}
		if frame.Type != wire.TypeReq {
			continue
		}

		if frame.Method == MethodMessageSend {
			go s.wsSend(ctx, conn, frame)
			continue
		}
		handler, ok := methods[frame.Method]
		if !ok {
			conn.Send(wire.ResErr(frame.ID, CodeUnknownMethod, "unknown method "+frame.Method))
			continue
		}
		result, err := handler(ctx, conn, frame)
		if err != nil {
			_, code := errorStatus(err)
			conn.Send(wire.ResErr(frame.ID, code, err.Error()))
			continue
		}
		conn.Send(wire.ResOK(frame.ID, result))
	}
}
