package auth

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/jarvis-connect/backend/internal/middleware"
	authservice "github.com/zhouzirui/jarvis-connect/backend/internal/service/auth"
	"github.com/zhouzirui/jarvis-connect/backend/internal/service/imaging"
	"github.com/zhouzirui/jarvis-connect/backend/internal/service/tab"
	"github.com/zhouzirui/jarvis-connect/backend/pkg/utils"
)

// TabSource resolves the tab a request belongs to.
type TabSource interface {
	Get(id string) (*tab.Tab, error)
}

// Handler 登录表单的HTTP处理器
type Handler struct {
	tabs      TabSource
	maxSizeMB int
	logger    *zap.Logger
}

// New 创建登录处理器
func New(tabs TabSource, maxSizeMB int, logger *zap.Logger) *Handler {
	if maxSizeMB <= 0 {
		maxSizeMB = imaging.DefaultMaxSizeMB
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tabs: tabs, maxSizeMB: maxSizeMB, logger: logger}
}

// RegisterRoutes 注册登录相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Get("/state", h.handleState)
		r.Post("/image", h.handleImage)
		r.Post("/username", h.handleUsername)
		r.Post("/submit", h.handleSubmit)
		r.Post("/reset", h.handleReset)
	})
}

type stateResponse struct {
	authservice.FormState
	Redirect string `json:"redirect,omitempty"`
}

type usernameRequest struct {
	Username string `json:"username" validate:"max=200"`
}

func (h *Handler) form(w http.ResponseWriter, r *http.Request) (*authservice.Controller, bool) {
	t, err := h.tabs.Get(middleware.TabID(r.Context()))
	if err != nil {
		h.logger.Warn("tab lookup failed", zap.Error(err))
		utils.RespondError(w, http.StatusBadRequest, "invalid tab")
		return nil, false
	}
	return t.Login(), true
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	form, ok := h.form(w, r)
	if !ok {
		return
	}
	resp := stateResponse{FormState: form.Snapshot()}
	if target, loggedIn := form.CheckExisting(); loggedIn {
		resp.Redirect = target
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleImage(w http.ResponseWriter, r *http.Request) {
	form, ok := h.form(w, r)
	if !ok {
		return
	}

	// Files just over the limit must still reach Validate for its message.
	limit := int64(h.maxSizeMB+1) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Info("upload exceeded size limit", zap.Int64("limit", tooLarge.Limit))
			utils.RespondJSON(w, http.StatusBadRequest, stateResponse{FormState: form.RejectOversized()})
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "invalid upload")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("image")
	if err != nil {
		utils.RespondJSON(w, http.StatusBadRequest, stateResponse{FormState: form.Snapshot()})
		return
	}
	defer file.Close()

	h.selectFile(w, r, form, file, header)
}

func (h *Handler) selectFile(w http.ResponseWriter, r *http.Request, form *authservice.Controller, file multipart.File, header *multipart.FileHeader) {
	mediaType, content, err := imaging.DetectType(header.Header.Get("Content-Type"), file)
	if err != nil {
		h.logger.Warn("failed to read upload", zap.Error(err))
		utils.RespondError(w, http.StatusBadRequest, authservice.MsgImageFailed)
		return
	}

	_, err = form.SelectFile(r.Context(), imaging.File{Name: header.Filename, Size: header.Size, Type: mediaType}, content)
	status := http.StatusOK
	var vErr *authservice.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
	case errors.Is(err, authservice.ErrBusy), errors.Is(err, authservice.ErrStaleSelection):
		status = http.StatusConflict
	default:
		h.logger.Error("image selection failed", zap.Error(err))
		status = http.StatusInternalServerError
	}
	utils.RespondJSON(w, status, stateResponse{FormState: form.Snapshot()})
}

func (h *Handler) handleUsername(w http.ResponseWriter, r *http.Request) {
	form, ok := h.form(w, r)
	if !ok {
		return
	}
	username, ok := decodeUsername(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, stateResponse{FormState: form.SetUsername(username)})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	form, ok := h.form(w, r)
	if !ok {
		return
	}
	username, ok := decodeUsername(w, r)
	if !ok {
		return
	}

	target, err := form.Submit(r.Context(), username)
	var vErr *authservice.ValidationError
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, map[string]string{"redirect": target})
	case errors.As(err, &vErr):
		utils.RespondJSON(w, http.StatusBadRequest, map[string]string{"error": vErr.Message, "field": vErr.Field})
	case errors.Is(err, authservice.ErrBusy):
		utils.RespondError(w, http.StatusConflict, "authentication already in progress")
	default:
		utils.RespondError(w, http.StatusInternalServerError, authservice.MsgAuthFailed)
	}
}

// decodeUsername reads a username payload. A name the validator rejects is
// reported against the username field, like a name that is too short.
func decodeUsername(w http.ResponseWriter, r *http.Request) (string, bool) {
	var payload usernameRequest
	err := utils.DecodeJSON(r, &payload)
	if err == nil {
		return payload.Username, true
	}
	var vErr *utils.ValidationError
	if errors.As(err, &vErr) && vErr.Failed("Username") {
		utils.RespondJSON(w, http.StatusBadRequest, map[string]string{"error": authservice.MsgInvalidUsername, "field": "username"})
		return "", false
	}
	utils.RespondError(w, http.StatusBadRequest, err.Error())
	return "", false
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	form, ok := h.form(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, stateResponse{FormState: form.Reset()})
}
