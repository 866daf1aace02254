package assistant

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/jarvis-connect/backend/internal/service/ai"
	"github.com/zhouzirui/jarvis-connect/backend/pkg/utils"
)

const (
	msgRequired    = "Message is required"
	msgUnavailable = "Unable to connect to JARVIS systems. Please try again."
	msgUnexpected  = "An unexpected error occurred. Please try again."
)

// Handler serves the assistant backend the chat page talks to.
type Handler struct {
	responder ai.Responder
	logger    *zap.Logger
}

// New 创建助手处理器。responder 为 nil 时接口返回 503。
func New(responder ai.Responder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{responder: responder, logger: logger}
}

// RegisterRoutes 注册助手相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.handleChat)
	r.Get("/health", h.handleHealth)
}

type chatRequest struct {
	Message  *string `json:"message"`
	Username string  `json:"username"`
}

type chatResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			utils.RespondError(w, http.StatusBadRequest, msgRequired)
			return
		}
		h.logger.Error("unexpected error in chat endpoint", zap.Error(err))
		utils.RespondJSON(w, http.StatusInternalServerError, chatResponse{Error: msgUnexpected})
		return
	}
	if payload.Message == nil {
		utils.RespondError(w, http.StatusBadRequest, msgRequired)
		return
	}

	username := strings.TrimSpace(payload.Username)
	if username == "" {
		username = ai.DefaultUsername
	}
	h.logger.Info("received message", zap.String("username", username), zap.Int("length", len(*payload.Message)))

	if h.responder == nil {
		h.logger.Error("assistant call failed", zap.Error(ai.ErrNotConfigured))
		utils.RespondJSON(w, http.StatusServiceUnavailable, chatResponse{Error: msgUnavailable})
		return
	}

	reply, err := h.responder.Respond(r.Context(), username, *payload.Message)
	if err != nil {
		h.logger.Error("assistant call failed", zap.String("username", username), zap.Error(err))
		utils.RespondJSON(w, http.StatusServiceUnavailable, chatResponse{Error: msgUnavailable})
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{Success: true, Response: reply})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"llm_configured": h.responder != nil,
	})
}
