package server

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type ctxKey int

const ctxKeyUser ctxKey = iota

const userHeader = "X-User-ID"

func userMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(userHeader))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUser, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) string {
	return r.Context().Value(ctxKeyUser).(string)
}

// adminAuthMiddleware accepts requests whose bearer token matches hash.
func adminAuthMiddleware(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				writeError(w, http.StatusForbidden, "admin access is not configured")
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
