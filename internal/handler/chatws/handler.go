// Package chatws serves study chat over a WebSocket, one in-flight answer per connection.
package chatws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/hertscortex/backend/internal/apperr"
	"github.com/zhouzirui/hertscortex/backend/internal/handler/stream"
	"github.com/zhouzirui/hertscortex/backend/internal/service/ai"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Frame types.
const (
	TypeAsk     = "ask"
	TypeStop    = "stop"
	TypeStart   = "start"
	TypeDelta   = "delta"
	TypeMessage = "message"
	TypeEnd     = "end"
	TypeStopped = "stopped"
	TypeError   = "error"
)

// Handler WebSocket对话处理器
type Handler struct {
	chat      stream.Chatter
	sessions  stream.Sessions
	streaming bool
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// New 创建WebSocket对话处理器。allowedOrigins 为空或包含 "*" 时接受任意来源。
func New(chatSvc stream.Chatter, sessions stream.Sessions, streaming bool, allowedOrigins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chat:      chatSvc,
		sessions:  sessions,
		streaming: streaming,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("chatws"),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/ws", h.handleWebSocket)
}

// InboundMessage is a client frame. Ask frames carry the same fields as the SSE chat body.
type InboundMessage struct {
	Type string `json:"type"`
	stream.ChatRequest
}

// OutgoingMessage is a server frame.
type OutgoingMessage struct {
	Type      string `json:"type"`
	StudyID   string `json:"studyId,omitempty"`
	Persona   string `json:"persona,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// conn serialises writes from the read loop and the generation goroutine.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msg OutgoingMessage) error {
	msg.Timestamp = time.Now().Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// session tracks the generation running on one connection.
type session struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

func (s *session) begin(parent context.Context) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.running.Add(1)
	return ctx, true
}

func (s *session) finish() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.running.Done()
}

func (s *session) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := &conn{ws: ws}
	defer ws.Close()

	// The request context outlives the hijack and is derived from the server's base context.
	ctx, cancel := context.WithCancel(r.Context())
	state := &session{}
	defer func() {
		cancel()
		state.running.Wait()
	}()

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, c)

	for {
		var msg InboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("read error", zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case TypeAsk:
			h.handleAsk(ctx, c, state, msg.ChatRequest)
		case TypeStop:
			if !state.stop() {
				_ = c.send(OutgoingMessage{Type: TypeStopped})
			}
		default:
			_ = c.send(OutgoingMessage{Type: TypeError, Error: "unsupported message type: " + msg.Type})
		}
	}
}

func (h *Handler) handleAsk(ctx context.Context, c *conn, state *session, body stream.ChatRequest) {
	req, err := stream.Resolve(ctx, h.sessions, body)
	if err != nil {
		_ = c.send(OutgoingMessage{Type: TypeError, StudyID: body.StudyID, Error: apperr.UserMessage(err)})
		return
	}

	genCtx, ok := state.begin(ctx)
	if !ok {
		_ = c.send(OutgoingMessage{Type: TypeError, StudyID: body.StudyID, Error: "An answer is still being generated. Stop it or wait for it to finish."})
		return
	}

	go func() {
		defer state.finish()
		h.generate(genCtx, c, req, body)
	}()
}

func (h *Handler) generate(ctx context.Context, c *conn, req ai.ChatRequest, body stream.ChatRequest) {
	frame := func(msg OutgoingMessage) OutgoingMessage {
		msg.StudyID = body.StudyID
		return msg
	}

	deltas, err := h.chat.StreamChat(ctx, req)
	if err != nil {
		_ = c.send(frame(OutgoingMessage{Type: TypeError, Error: apperr.UserMessage(err)}))
		return
	}

	if err := c.send(frame(OutgoingMessage{Type: TypeStart, Persona: body.Persona})); err != nil {
		h.abandon(ctx, deltas)
		return
	}

	settled := false
	for delta := range deltas {
		var out OutgoingMessage
		switch {
		case delta.Err != nil:
			settled = true
			_ = c.send(frame(OutgoingMessage{Type: TypeError, Persona: string(delta.Persona), Error: apperr.UserMessage(delta.Err)}))
			continue
		case delta.Done:
			settled = true
			if !h.streaming {
				_ = c.send(frame(OutgoingMessage{Type: TypeMessage, Persona: string(delta.Persona), Content: delta.Full}))
			}
			_ = c.send(frame(OutgoingMessage{Type: TypeEnd, Persona: string(delta.Persona)}))
			continue
		default:
			if !h.streaming || ctx.Err() != nil {
				continue
			}
			out = frame(OutgoingMessage{Type: TypeDelta, Content: delta.Text})
		}
		if err := c.send(out); err != nil {
			h.abandon(ctx, deltas)
			return
		}
	}

	if !settled {
		h.logger.Debug("generation stopped", zap.String("study_id", body.StudyID))
		_ = c.send(frame(OutgoingMessage{Type: TypeStopped}))
	}
}

// abandon drains deltas after a failed write. The producer exits once the connection
// context is cancelled by the read loop.
func (h *Handler) abandon(ctx context.Context, deltas <-chan ai.Delta) {
	h.logger.Debug("write failed, dropping generation", zap.Error(ctx.Err()))
	for range deltas {
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
