// Package middleware holds the HTTP middleware shared by all routes.
package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows the assistant API to be called from any origin, like the
// original Flask-CORS setup.
func CORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", TabHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}
