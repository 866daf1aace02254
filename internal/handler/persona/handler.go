package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/jarvis-connect/backend/internal/model/persona"
	"github.com/zhouzirui/jarvis-connect/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas persona.Store
	activeID string
}

// New 创建persona处理器
func New(personas persona.Store, activeID string) *Handler {
	return &Handler{
		personas: personas,
		activeID: activeID,
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/personas", h.handleListPersonas)
	r.Get("/api/persona", h.handleActivePersona)
}

// handleListPersonas 列出所有persona
func (h *Handler) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.personas.List())
}

// handleActivePersona 返回聊天页当前使用的助手
func (h *Handler) handleActivePersona(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, persona.Resolve(h.personas, h.activeID))
}
