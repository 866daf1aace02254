package middleware

import (
	"context"
	"net/http"

	"github.com/zhouzirui/jarvis-connect/backend/internal/service/tab"
)

// Tab identification. Browsers are identified by the session cookie, so all
// tabs of one browser session share state. The header is for non-browser
// clients (tests, scripts) that cannot keep cookies and takes precedence.
const (
	TabCookie = "jarvis_tab"
	TabHeader = "X-Jarvis-Tab"
)

type tabKey struct{}

// Tab makes sure every request carries a tab id, issuing a session cookie
// when the browser has none.
func Tab(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(TabHeader)
		if !tab.ValidID(id) {
			id = ""
			if c, err := r.Cookie(TabCookie); err == nil && tab.ValidID(c.Value) {
				id = c.Value
			}
		}
		if id == "" {
			id = tab.NewID()
			http.SetCookie(w, &http.Cookie{
				Name:     TabCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(WithTabID(r.Context(), id)))
	})
}

// WithTabID stores id in ctx.
func WithTabID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tabKey{}, id)
}

// TabID returns the id set by Tab, or "".
func TabID(ctx context.Context) string {
	id, _ := ctx.Value(tabKey{}).(string)
	return id
}
