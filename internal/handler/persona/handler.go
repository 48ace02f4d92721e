package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/hertscortex/backend/internal/model/persona"
	"github.com/zhouzirui/hertscortex/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	catalog func() []persona.Spec
}

// New 创建persona处理器
func New() *Handler {
	return &Handler{catalog: persona.Catalog}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
}

// handleListPersonas 列出所有persona
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	_ = utils.RespondJSON(w, http.StatusOK, h.catalog())
}
