package study

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/hertscortex/backend/internal/apperr"
	"github.com/zhouzirui/hertscortex/backend/internal/model/study"
	"github.com/zhouzirui/hertscortex/backend/internal/service/ai"
	"github.com/zhouzirui/hertscortex/backend/internal/service/ingest"
	"github.com/zhouzirui/hertscortex/backend/pkg/utils"
)

// maxBodyBytes caps a whole ingestion request, which may carry several encoded files.
const maxBodyBytes = 128 << 20

// Ingestor is the part of the ingestion service the handler needs.
type Ingestor interface {
	InitializeStudySession(ctx context.Context, req ingest.Request) (*ingest.Result, error)
	GetSession(ctx context.Context, id string) (*study.Session, error)
	MaxFileBytes() int
}

// Asker runs one-shot persona actions.
type Asker interface {
	Ask(ctx context.Context, content, personaKey string) (*ai.Answer, error)
}

// Handler 学习会话相关的HTTP处理器
type Handler struct {
	ingest Ingestor
	ai     Asker
	logger *zap.Logger
}

// New 创建学习会话处理器
func New(ingestSvc Ingestor, asker Asker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ingest: ingestSvc, ai: asker, logger: logger.Named("study")}
}

// RegisterRoutes 注册学习会话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/study", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Post("/ask", h.handleAsk)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/ask", h.handleAskSession)
	})
}

type fileUpload struct {
	Base64   string `json:"base64"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

type createRequest struct {
	Title      string       `json:"title"`
	PastedText string       `json:"pastedText"`
	Files      []fileUpload `json:"files"`
}

type createResponse struct {
	Success bool `json:"success"`
	*ingest.Result
}

type askRequest struct {
	DocContent string `json:"docContent"`
	Persona    string `json:"persona"`
}

type askResponse struct {
	Response     string `json:"response"`
	ResponseHTML string `json:"responseHtml"`
	Persona      string `json:"persona"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var payload createRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, apperr.InvalidInput("The upload is too large."))
			return
		}
		h.respondError(w, apperr.InvalidInput("The request body is not valid JSON."))
		return
	}

	files, err := decodeFiles(payload.Files, h.ingest.MaxFileBytes())
	if err != nil {
		h.respondError(w, err)
		return
	}

	result, err := h.ingest.InitializeStudySession(r.Context(), ingest.Request{
		Title:      payload.Title,
		PastedText: payload.PastedText,
		Files:      files,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, createResponse{Success: true, Result: result})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	session, err := h.ingest.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var payload askRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondError(w, apperr.InvalidInput("The request body is not valid JSON."))
		return
	}
	h.answer(w, r, payload.DocContent, payload.Persona)
}

func (h *Handler) handleAskSession(w http.ResponseWriter, r *http.Request) {
	var payload askRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondError(w, apperr.InvalidInput("The request body is not valid JSON."))
		return
	}

	session, err := h.ingest.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.answer(w, r, session.Content, payload.Persona)
}

func (h *Handler) answer(w http.ResponseWriter, r *http.Request, content, personaKey string) {
	result, err := h.ai.Ask(r.Context(), content, personaKey)
	if err != nil {
		h.respondError(w, err)
		return
	}

	html, err := utils.RenderMarkdown(result.Text)
	if err != nil {
		h.logger.Warn("markdown render failed", zap.Error(err))
	}

	h.respondJSON(w, http.StatusOK, askResponse{
		Response:     result.Text,
		ResponseHTML: html,
		Persona:      string(result.Persona),
	})
}

// decodeFiles turns base64 uploads into file inputs. Sizes are checked before decoding.
func decodeFiles(uploads []fileUpload, maxBytes int) ([]study.FileInput, error) {
	files := make([]study.FileInput, 0, len(uploads))
	for _, upload := range uploads {
		encoded := stripDataURL(upload.Base64)
		if base64.StdEncoding.DecodedLen(len(encoded)) > maxBytes+2 {
			return nil, apperr.InvalidInput("The file " + upload.FileName + " is too large.")
		}

		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, apperr.InvalidInput("The file " + upload.FileName + " could not be decoded.")
		}
		files = append(files, study.FileInput{
			FileName:     upload.FileName,
			DeclaredType: upload.FileType,
			Data:         data,
		})
	}
	return files, nil
}

// stripDataURL removes a "data:<type>;base64," prefix added by browser file readers.
func stripDataURL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			return s[idx+1:]
		}
	}
	return s
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	if err := utils.RespondJSON(w, status, payload); err != nil {
		h.logger.Debug("write response failed", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.logger.Error("request failed", zap.Error(err))
	} else {
		h.logger.Info("request rejected", zap.String("kind", string(apperr.KindOf(err))), zap.Error(err))
	}
	if werr := utils.RespondAppError(w, err); werr != nil {
		h.logger.Debug("write response failed", zap.Error(werr))
	}
}
