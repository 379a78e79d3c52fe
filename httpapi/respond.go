package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"signflow/artifact"
	"signflow/auth"
	"signflow/contract"
	"signflow/signature"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the domain error taxonomy onto HTTP statuses. Validation,
// authorization, and conflict errors carry enough detail to act on; internal
// failures stay opaque.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, signature.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
	case errors.Is(err, signature.ErrForbidden), errors.Is(err, contract.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case errors.Is(err, signature.ErrNotFound), errors.Is(err, contract.ErrNotFound),
		errors.Is(err, artifact.ErrNotFound), errors.Is(err, auth.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, signature.ErrConflict), errors.Is(err, auth.ErrDuplicateEmail):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, auth.ErrWeakPassword):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, signature.ErrProviderUnavailable):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "signing provider unavailable, retry later"})
	default:
		s.log.WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
