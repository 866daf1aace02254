// Package tab keeps the server-side state of every open browser tab: its
// session store, login form and chat page, keyed by the tab cookie.
package tab

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/zhouzirui/jarvis-connect/backend/internal/model/persona"
	"github.com/zhouzirui/jarvis-connect/backend/internal/service/auth"
	chatservice "github.com/zhouzirui/jarvis-connect/backend/internal/service/chat"
	"github.com/zhouzirui/jarvis-connect/backend/internal/store"
)

// ErrInvalidID is returned for tab ids that are not UUIDs.
var ErrInvalidID = errors.New("tab: invalid id")

// Deps are shared by every tab.
type Deps struct {
	Provider      store.Provider
	Quota         int64
	Exchanger     chatservice.Exchanger
	Persona       persona.Persona
	Authenticator auth.Authenticator
	AuthConfig    auth.Config
	Logger        *zap.Logger
}

// Tab is one browser tab's state.
type Tab struct {
	ID    string
	Store *store.Store
	Feed  *Feed
	Chat  *chatservice.Controller

	mu    sync.Mutex
	login *auth.Controller
	deps  Deps
}

// Login returns the tab's login form. A form that already redirected is
// replaced once the identity is gone again, so a logged-out tab can sign in anew.
func (t *Tab) Login() *auth.Controller {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.login.Snapshot().State == auth.Redirecting {
		if _, ok := t.login.CheckExisting(); !ok {
			t.login = t.newLogin()
		}
	}
	return t.login
}

func (t *Tab) newLogin() *auth.Controller {
	return auth.NewController(t.Store, t.deps.Authenticator, t.deps.AuthConfig, t.deps.Logger.With(zap.String("tab", t.ID)))
}

// Registry creates tabs lazily and forgets them after an idle period,
// clearing their stores like a closed browser tab.
type Registry struct {
	mu     sync.Mutex
	tabs   *gocache.Cache
	deps   Deps
	logger *zap.Logger
}

// NewRegistry returns a registry whose tabs expire after ttl of inactivity.
func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	cleanup := ttl / 2
	if cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}

	r := &Registry{
		tabs:   gocache.New(ttl, cleanup),
		deps:   deps,
		logger: deps.Logger,
	}
	r.tabs.OnEvicted(func(id string, v interface{}) {
		t, ok := v.(*Tab)
		if !ok {
			return
		}
		t.Store.Clear()
		t.Feed.Close()
		r.logger.Info("tab expired", zap.String("tab", id))
	})
	return r
}

// NewID issues a fresh tab id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like one NewID issued.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Get returns the tab for id, creating it on first use, and refreshes its idle
// timer together with the expiry of its store.
func (r *Registry) Get(id string) (*Tab, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if v, found := r.tabs.Get(id); found {
		t := v.(*Tab)
		r.tabs.SetDefault(id, t)
		t.Store.Touch()
		return t, nil
	}

	// An expired tab the janitor has not reached yet must be cleared before
	// its store is reopened.
	r.tabs.DeleteExpired()

	backend, err := r.deps.Provider.Open(id)
	if err != nil {
		return nil, fmt.Errorf("open tab store: %w", err)
	}

	logger := r.logger.With(zap.String("tab", id))
	opts := []store.Option{store.WithLogger(logger)}
	if r.deps.Quota > 0 {
		opts = append(opts, store.WithQuota(r.deps.Quota))
	}

	t := &Tab{
		ID:    id,
		Store: store.New(backend, opts...),
		Feed:  NewFeed(),
		deps:  r.deps,
	}
	t.login = t.newLogin()
	t.Chat = chatservice.NewController(t.Store, r.deps.Exchanger, r.deps.Persona, t.Feed, logger)

	r.tabs.SetDefault(id, t)
	r.logger.Debug("tab opened", zap.String("tab", id))
	return t, nil
}

// Len reports how many tabs are live.
func (r *Registry) Len() int {
	return r.tabs.ItemCount()
}

// Close ends every feed. Stores are left for the provider to close.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.tabs.Items() {
		if t, ok := item.Object.(*Tab); ok {
			t.Feed.Close()
		}
	}
	r.tabs.Flush()
}
