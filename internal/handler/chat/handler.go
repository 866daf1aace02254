package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/jarvis-connect/backend/internal/middleware"
	"github.com/zhouzirui/jarvis-connect/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/jarvis-connect/backend/internal/service/chat"
	"github.com/zhouzirui/jarvis-connect/backend/internal/service/tab"
	"github.com/zhouzirui/jarvis-connect/backend/pkg/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// TabSource resolves the tab a request belongs to.
type TabSource interface {
	Get(id string) (*tab.Tab, error)
}

// Handler 聊天页的HTTP处理器
type Handler struct {
	tabs     TabSource
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New 创建聊天处理器
func New(tabs TabSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		tabs:   tabs,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Get("/messages", h.handleHistory)
		r.Post("/messages", h.handleSend)
		r.Post("/logout", h.handleLogout)
		r.Get("/leave-guard", h.handleLeaveGuard)
		r.Get("/verify", h.handleVerify)
		r.Get("/ws", h.handleWebSocket)
		r.Get("/events", h.handleEvents)
	})
}

type historyResponse struct {
	Username string         `json:"username"`
	Avatar   string         `json:"avatar,omitempty"`
	Initials string         `json:"initials"`
	Messages []chat.Message `json:"messages"`
	Sending  bool           `json:"sending"`
}

type sendRequest struct {
	Content string `json:"content" validate:"required"`
}

type logoutRequest struct {
	Confirm bool `json:"confirm"`
}

func (h *Handler) tab(w http.ResponseWriter, r *http.Request) (*tab.Tab, bool) {
	t, err := h.tabs.Get(middleware.TabID(r.Context()))
	if err != nil {
		h.logger.Warn("tab lookup failed", zap.Error(err))
		utils.RespondError(w, http.StatusBadRequest, "invalid tab")
		return nil, false
	}
	return t, true
}

func respondNotAuthenticated(w http.ResponseWriter) {
	utils.RespondJSON(w, http.StatusUnauthorized, map[string]string{
		"error":    "not authenticated",
		"redirect": chatservice.LoginPath,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tab(w, r)
	if !ok {
		return
	}
	msgs, err := t.Chat.Init()
	if errors.Is(err, chatservice.ErrNotAuthenticated) {
		respondNotAuthenticated(w)
		return
	}
	identity, _ := t.Chat.Identity()
	utils.RespondJSON(w, http.StatusOK, historyResponse{
		Username: identity.DisplayName,
		Avatar:   identity.Avatar,
		Initials: chatservice.Initials(identity.DisplayName),
		Messages: msgs,
		Sending:  t.Chat.Busy(),
	})
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tab(w, r)
	if !ok {
		return
	}
	var payload sendRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	// Only logout discards an in-flight reply; a dropped request does not.
	turn, err := t.Chat.Send(context.WithoutCancel(r.Context()), payload.Content)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, turn)
	case errors.Is(err, chatservice.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, "content is required")
	case errors.Is(err, chatservice.ErrBusy):
		utils.RespondError(w, http.StatusConflict, "a message is already being sent")
	case errors.Is(err, chatservice.ErrNotAuthenticated):
		respondNotAuthenticated(w)
	case errors.Is(err, chatservice.ErrDiscarded):
		utils.RespondError(w, http.StatusGone, "reply discarded after logout")
	default:
		h.logger.Error("send failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "send failed")
	}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tab(w, r)
	if !ok {
		return
	}
	var payload logoutRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, done := t.Chat.Logout(payload.Confirm)
	if done {
		t.Feed.Publish(tab.Event{Type: tab.EventRedirect, Redirect: target})
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"loggedOut": done, "redirect": target})
}

func (h *Handler) handleLeaveGuard(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tab(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"warn": t.Chat.ShouldWarnOnLeave()})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tab(w, r)
	if !ok {
		return
	}
	target, valid := t.Chat.VerifyIdentity()
	utils.RespondJSON(w, http.StatusOK, map[string]any{"authenticated": valid, "redirect": target})
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tab(w, r)
	if !ok {
		return
	}
	if _, loggedIn := t.Chat.Identity(); !loggedIn {
		respondNotAuthenticated(w)
		return
	}

	events, unsubscribe := t.Feed.Subscribe(32)
	defer unsubscribe()
	h.logger.Debug("feed listener attached", zap.String("tab", t.ID), zap.String("transport", "websocket"),
		zap.Int("subscribers", t.Feed.Subscribers()))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readLoop(ctx, cancel, conn)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains control frames; the feed is server-to-client only.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for ctx.Err() == nil {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// handleEvents streams the same feed as server-sent events for clients
// without websocket support.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tab(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if _, loggedIn := t.Chat.Identity(); !loggedIn {
		respondNotAuthenticated(w)
		return
	}

	events, unsubscribe := t.Feed.Subscribe(32)
	defer unsubscribe()
	h.logger.Debug("feed listener attached", zap.String("tab", t.ID), zap.String("transport", "sse"),
		zap.Int("subscribers", t.Feed.Subscribers()))

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	_ = utils.SendSSEComment(w, flusher, "connected")

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, ev.Type, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keep-alive"); err != nil {
				return
			}
		}
	}
}
