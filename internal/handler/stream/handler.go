package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/hertscortex/backend/internal/apperr"
	"github.com/zhouzirui/hertscortex/backend/internal/model/chat"
	"github.com/zhouzirui/hertscortex/backend/internal/model/study"
	"github.com/zhouzirui/hertscortex/backend/internal/service/ai"
	"github.com/zhouzirui/hertscortex/backend/pkg/utils"
)

// Chatter streams conversational answers.
type Chatter interface {
	StreamChat(ctx context.Context, req ai.ChatRequest) (<-chan ai.Delta, error)
}

// Sessions loads stored study material by id.
type Sessions interface {
	GetSession(ctx context.Context, id string) (*study.Session, error)
}

// Handler manages streaming AI responses via Server-Sent Events
type Handler struct {
	chat      Chatter
	sessions  Sessions
	streaming bool
	logger    *zap.Logger
}

// New creates a new stream handler. When streaming is false the answer is sent as a single
// message event.
func New(chatSvc Chatter, sessions Sessions, streaming bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{chat: chatSvc, sessions: sessions, streaming: streaming, logger: logger.Named("stream")}
}

// RegisterRoutes 注册流式对话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event    string `json:"event"`
	Content  string `json:"content,omitempty"`
	StudyID  string `json:"studyId,omitempty"`
	Persona  string `json:"persona,omitempty"`
	Finished bool   `json:"finished,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages   []chat.Turn `json:"messages"`
	Message    string      `json:"message"`
	DocContent string      `json:"docContent"`
	StudyID    string      `json:"studyId"`
	Persona    string      `json:"persona"`
}

// Resolve turns the body into a service request. An empty message takes the trailing user
// turn of the history. Stored content is loaded when only a study id is given.
func Resolve(ctx context.Context, sessions Sessions, req ChatRequest) (ai.ChatRequest, error) {
	history := req.Messages
	message := strings.TrimSpace(req.Message)
	if message == "" && len(history) > 0 && history[len(history)-1].Role == chat.RoleUser {
		message = history[len(history)-1].Text
		history = history[:len(history)-1]
	}

	content := req.DocContent
	if strings.TrimSpace(content) == "" && req.StudyID != "" {
		if sessions == nil {
			return ai.ChatRequest{}, apperr.NotFound("That study session does not exist.", nil)
		}
		session, err := sessions.GetSession(ctx, req.StudyID)
		if err != nil {
			return ai.ChatRequest{}, err
		}
		content = session.Content
	}

	return ai.ChatRequest{
		Persona: req.Persona,
		Content: content,
		History: history,
		Message: message,
	}, nil
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var body ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = utils.RespondAppError(w, apperr.InvalidInput("The request body is not valid JSON."))
		return
	}

	req, err := Resolve(r.Context(), h.sessions, body)
	if err != nil {
		_ = utils.RespondAppError(w, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	deltas, err := h.chat.StreamChat(ctx, req)
	if err != nil {
		h.logger.Info("chat request refused", zap.Error(err))
		_ = utils.RespondAppError(w, err)
		return
	}

	utils.SetupSSEHeaders(w)
	send := func(resp StreamResponse) bool {
		resp.StudyID = body.StudyID
		if err := utils.SendSSEChunk(w, flusher, resp); err != nil {
			h.logger.Debug("client went away", zap.Error(err))
			cancel()
			return false
		}
		return true
	}

	if !send(StreamResponse{Event: "start", Persona: body.Persona}) {
		drain(deltas)
		return
	}

	for delta := range deltas {
		switch {
		case delta.Err != nil:
			send(StreamResponse{Event: "error", Error: apperr.UserMessage(delta.Err), Persona: string(delta.Persona)})
			drain(deltas)
			return
		case delta.Done:
			if !h.streaming {
				if !send(StreamResponse{Event: "message", Content: delta.Full, Persona: string(delta.Persona)}) {
					drain(deltas)
					return
				}
			}
			send(StreamResponse{Event: "end", Finished: true, Persona: string(delta.Persona)})
			return
		default:
			if ctx.Err() != nil {
				continue
			}
			if h.streaming && !send(StreamResponse{Event: "delta", Content: delta.Text}) {
				drain(deltas)
				return
			}
		}
	}
}

// drain waits for the producer to exit after the context was cancelled.
func drain(deltas <-chan ai.Delta) {
	for range deltas {
	}
}
