// Package pages serves the login and chat pages and their static assets.
package pages

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/jarvis-connect/backend/internal/middleware"
	"github.com/zhouzirui/jarvis-connect/backend/internal/model/persona"
	authservice "github.com/zhouzirui/jarvis-connect/backend/internal/service/auth"
	chatservice "github.com/zhouzirui/jarvis-connect/backend/internal/service/chat"
	"github.com/zhouzirui/jarvis-connect/backend/internal/service/tab"
)

//go:embed web
var webFS embed.FS

var templates = template.Must(template.ParseFS(webFS, "web/index.html", "web/chat.html"))

const avatarPrefix = "data:image/jpeg;base64,"

// TabSource resolves the tab a request belongs to.
type TabSource interface {
	Get(id string) (*tab.Tab, error)
}

// Handler renders pages.
type Handler struct {
	tabs    TabSource
	persona persona.Persona
	logger  *zap.Logger
}

// New 创建页面处理器
func New(tabs TabSource, p persona.Persona, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tabs: tabs, persona: p, logger: logger}
}

// RegisterRoutes 注册页面与静态资源路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleAuthPage)
	r.Get("/index.html", h.handleAuthPage)
	r.Get(authservice.ChatPath, h.handleChatPage)

	assets, err := fs.Sub(webFS, "web")
	if err != nil {
		panic(err)
	}
	static := http.FileServer(http.FS(assets))
	r.Handle("/css/*", static)
	r.Handle("/js/*", static)
	r.Handle("/static/*", http.StripPrefix("/static", static))
}

type chatPage struct {
	PersonaName string
	Username    string
	Initials    string
	Avatar      template.URL
}

func (h *Handler) tab(w http.ResponseWriter, r *http.Request) (*tab.Tab, bool) {
	t, err := h.tabs.Get(middleware.TabID(r.Context()))
	if err != nil {
		h.logger.Warn("tab lookup failed", zap.Error(err))
		http.Error(w, "invalid tab", http.StatusBadRequest)
		return nil, false
	}
	return t, true
}

func (h *Handler) handleAuthPage(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tab(w, r)
	if !ok {
		return
	}
	if target, loggedIn := t.Login().CheckExisting(); loggedIn {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	h.render(w, "index.html", nil)
}

func (h *Handler) handleChatPage(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tab(w, r)
	if !ok {
		return
	}
	identity, loggedIn := t.Chat.Identity()
	if !loggedIn {
		http.Redirect(w, r, chatservice.LoginPath, http.StatusSeeOther)
		return
	}

	page := chatPage{
		PersonaName: h.persona.Name,
		Username:    identity.DisplayName,
		Initials:    chatservice.Initials(identity.DisplayName),
	}
	// Only thumbnails produced by the image pipeline are trusted as URLs.
	if strings.HasPrefix(identity.Avatar, avatarPrefix) {
		page.Avatar = template.URL(identity.Avatar)
	}
	h.render(w, "chat.html", page)
}

func (h *Handler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error("failed to render page", zap.String("page", name), zap.Error(err))
	}
}
