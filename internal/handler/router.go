package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/jarvis-connect/backend/internal/handler/assistant"
	"github.com/zhouzirui/jarvis-connect/backend/internal/handler/auth"
	"github.com/zhouzirui/jarvis-connect/backend/internal/handler/chat"
	"github.com/zhouzirui/jarvis-connect/backend/internal/handler/pages"
	"github.com/zhouzirui/jarvis-connect/backend/internal/handler/persona"
	middlewarePkg "github.com/zhouzirui/jarvis-connect/backend/internal/middleware"
	personaModel "github.com/zhouzirui/jarvis-connect/backend/internal/model/persona"
	aiService "github.com/zhouzirui/jarvis-connect/backend/internal/service/ai"
	"github.com/zhouzirui/jarvis-connect/backend/internal/service/tab"
)

// Deps are the services the HTTP layer needs.
type Deps struct {
	Tabs       *tab.Registry
	Personas   personaModel.Store
	PersonaID  string
	Responder  aiService.Responder
	MaxImageMB int
	Logger     *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	active := personaModel.Resolve(deps.Personas, deps.PersonaID)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	// Stateless assistant backend, reachable without a tab.
	assistant.New(deps.Responder, logger.Named("assistant")).RegisterRoutes(r)
	persona.New(deps.Personas, active.ID).RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(middlewarePkg.Tab)
		pages.New(deps.Tabs, active, logger.Named("pages")).RegisterRoutes(r)
		auth.New(deps.Tabs, deps.MaxImageMB, logger.Named("auth")).RegisterRoutes(r)
		chat.New(deps.Tabs, logger.Named("chat")).RegisterRoutes(r)
	})

	return r
}
