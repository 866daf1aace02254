// Package auth drives the login form: avatar intake, display name validation
// and the authentication round trip that writes the identity to the tab store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/zhouzirui/jarvis-connect/backend/internal/model/chat"
	"github.com/zhouzirui/jarvis-connect/backend/internal/service/imaging"
	"github.com/zhouzirui/jarvis-connect/backend/internal/store"
)

// Navigation targets.
const (
	AuthPath = "/"
	ChatPath = "/chat.html"
)

const minUsernameLen = 2

// User-facing messages.
const (
	MsgInvalidUsername = "Please enter a valid username (at least 2 characters)"
	MsgMissingImage    = "Please upload a biometric scan image"
	MsgImageFailed     = "Failed to process image. Please try another file."
	MsgAuthFailed      = "Authentication failed. Please try again."
)

var (
	// ErrBusy is returned while a submission is in progress or has completed.
	ErrBusy = errors.New("auth: form is busy")
	// ErrStaleSelection is returned when a newer file was selected while this one was being processed.
	ErrStaleSelection = errors.New("auth: superseded by a newer selection")
	// ErrAuthFailed wraps authenticator and store failures during submit.
	ErrAuthFailed = errors.New("auth: authentication failed")
)

// ValidationError is an inline form error.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return e.Err }

// Candidate is the currently selected avatar.
type Candidate struct {
	Filename  string `json:"filename"`
	ByteSize  int64  `json:"byteSize"`
	MimeType  string `json:"mimeType"`
	Thumbnail string `json:"encodedThumbnail"`
	Seq       uint64 `json:"seq"`
}

// FormState is a snapshot for rendering.
type FormState struct {
	State           State      `json:"state"`
	Username        string     `json:"username"`
	UsernameInvalid bool       `json:"usernameInvalid"`
	Candidate       *Candidate `json:"candidate,omitempty"`
	ImageError      string     `json:"imageError,omitempty"`
	CanSubmit       bool       `json:"canSubmit"`
}

// Config tunes the intake pipeline and the post-login pause.
type Config struct {
	MaxSizeMB     int
	ThumbWidth    int
	ThumbHeight   int
	Quality       float64
	RedirectDelay time.Duration
}

// DefaultConfig matches the original login page.
func DefaultConfig() Config {
	return Config{
		MaxSizeMB:     imaging.DefaultMaxSizeMB,
		ThumbWidth:    imaging.DefaultMaxWidth,
		ThumbHeight:   imaging.DefaultMaxHeight,
		Quality:       imaging.DefaultQuality,
		RedirectDelay: 500 * time.Millisecond,
	}
}

type resizeFunc func(ctx context.Context, r io.Reader, maxWidth, maxHeight int, quality float64) (string, error)

var namePolicy = bluemonday.StrictPolicy()

// Controller owns one tab's login form.
type Controller struct {
	mu     sync.Mutex
	store  *store.Store
	auth   Authenticator
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	resize resizeFunc

	state      State
	username   string
	candidate  *Candidate
	imageError string
	seq        uint64
}

// NewController wires a form to the tab store.
func NewController(st *store.Store, authenticator Authenticator, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if authenticator == nil {
		authenticator = SimulatedAuthenticator{Delay: 2 * time.Second}
	}
	return &Controller{
		store:  st,
		auth:   authenticator,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		resize: imaging.ResizeToEncoded,
	}
}

// CheckExisting reports whether the tab is already logged in, in which case
// the form is skipped and the caller should go to the chat page.
func (c *Controller) CheckExisting() (string, bool) {
	if _, ok := c.store.LoadIdentity(); ok {
		return ChatPath, true
	}
	return "", false
}

// SelectFile runs a new upload through validation and thumbnailing. Drag and
// drop and the file picker both end up here. Content is read only after the
// declared type and size pass validation.
func (c *Controller) SelectFile(ctx context.Context, file imaging.File, content io.Reader) (Candidate, error) {
	c.mu.Lock()
	if c.state.busy() {
		c.mu.Unlock()
		return Candidate{}, ErrBusy
	}
	if v := imaging.Validate(file, c.cfg.MaxSizeMB); !v.Valid {
		c.imageError = v.Error
		c.mu.Unlock()
		return Candidate{}, &ValidationError{Field: "image", Message: v.Error}
	}
	c.seq++
	seq := c.seq
	c.state = Validating
	c.mu.Unlock()

	thumb, err := c.resize(ctx, content, c.cfg.ThumbWidth, c.cfg.ThumbHeight, c.cfg.Quality)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq || c.state.busy() {
		return Candidate{}, ErrStaleSelection
	}
	if err != nil {
		c.logger.Warn("failed to process image", zap.String("file", file.Name), zap.Error(err))
		c.imageError = MsgImageFailed
		c.state = c.restingState()
		return Candidate{}, &ValidationError{Field: "image", Message: MsgImageFailed, Err: err}
	}

	cand := Candidate{
		Filename:  file.Name,
		ByteSize:  file.Size,
		MimeType:  file.Type,
		Thumbnail: thumb,
		Seq:       seq,
	}
	c.candidate = &cand
	c.imageError = ""
	c.state = FileSelected
	return cand, nil
}

// SetUsername records the typed display name.
func (c *Controller) SetUsername(name string) FormState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.busy() {
		c.username = SanitizeName(name)
	}
	return c.snapshotLocked()
}

// Submit authenticates the current form. On success it returns the page to
// navigate to; the controller is then terminal.
func (c *Controller) Submit(ctx context.Context, username string) (string, error) {
	c.mu.Lock()
	if c.state.busy() {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.username = SanitizeName(username)
	name := strings.TrimSpace(c.username)
	if !validUsername(name) {
		c.mu.Unlock()
		return "", &ValidationError{Field: "username", Message: MsgInvalidUsername}
	}
	if c.candidate == nil {
		c.imageError = MsgMissingImage
		c.mu.Unlock()
		return "", &ValidationError{Field: "image", Message: MsgMissingImage}
	}
	cand := *c.candidate
	c.state = Submitting
	c.mu.Unlock()

	if err := c.auth.Authenticate(ctx, name, cand.Thumbnail); err != nil {
		return "", c.failSubmit(err)
	}

	now := c.now()
	identity := chat.Identity{
		DisplayName: name,
		Avatar:      cand.Thumbnail,
		SessionID:   fmt.Sprintf("session_%d", now.UnixMilli()),
		CreatedAt:   now.UTC(),
	}
	if !c.store.SaveIdentity(identity) {
		return "", c.failSubmit(errors.New("failed to save authentication data"))
	}

	// The identity is stored; a cancelled pause still lands on the chat page.
	_ = Sleep(ctx, c.cfg.RedirectDelay)

	c.mu.Lock()
	c.state = Redirecting
	c.candidate = nil
	c.mu.Unlock()

	c.logger.Info("authentication successful", zap.String("username", name), zap.String("session_id", identity.SessionID))
	return ChatPath, nil
}

// RejectOversized records an upload that was cut off before its size could be
// validated. The current candidate, if any, is kept.
func (c *Controller) RejectOversized() FormState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.busy() {
		c.imageError = imaging.SizeError(c.cfg.MaxSizeMB)
	}
	return c.snapshotLocked()
}

// Reset clears the form and discards any in-flight selection.
func (c *Controller) Reset() FormState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.busy() {
		c.seq++
		c.username = ""
		c.candidate = nil
		c.imageError = ""
		c.state = Idle
	}
	return c.snapshotLocked()
}

// Snapshot returns the form as it should currently render.
func (c *Controller) Snapshot() FormState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// CanSubmit reports whether the submit button is enabled.
func (c *Controller) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSubmitLocked()
}

func (c *Controller) failSubmit(cause error) error {
	c.logger.Error("authentication error", zap.Error(cause))
	c.mu.Lock()
	c.state = FileSelected
	c.mu.Unlock()
	return fmt.Errorf("%w: %v", ErrAuthFailed, cause)
}

func (c *Controller) canSubmitLocked() bool {
	return validUsername(strings.TrimSpace(c.username)) && c.candidate != nil && !c.state.busy()
}

func (c *Controller) restingState() State {
	if c.candidate != nil {
		return FileSelected
	}
	return Idle
}

func (c *Controller) snapshotLocked() FormState {
	trimmed := strings.TrimSpace(c.username)
	fs := FormState{
		State:           c.state,
		Username:        c.username,
		UsernameInvalid: trimmed != "" && !validUsername(trimmed),
		ImageError:      c.imageError,
		CanSubmit:       c.canSubmitLocked(),
	}
	if c.candidate != nil {
		cand := *c.candidate
		fs.Candidate = &cand
	}
	return fs
}

func validUsername(trimmed string) bool {
	return utf8.RuneCountInString(trimmed) >= minUsernameLen
}

// SanitizeName strips markup from a display name while keeping plain text intact.
func SanitizeName(name string) string {
	return html.UnescapeString(namePolicy.Sanitize(name))
}
