package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const callerIDKey contextKey = "caller_id"

// requireAuth validates the bearer token and stashes the caller id in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
			return
		}
		userID, err := s.auth.VerifyToken(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerIDKey, userID)))
	})
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(callerIDKey).(string)
	return id
}
