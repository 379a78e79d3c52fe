package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"signflow/auth"
	"signflow/signature"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	user, err := s.auth.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   result.Token,
		"user_id": result.User.ID,
	})
}

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	rec, err := s.contracts.Create(r.Context(), callerID(r), body.Title)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	recs, err := s.contracts.List(r.Context(), callerID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	rec, err := s.contracts.Get(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type createRequestBody struct {
	ContractID  string                  `json:"contract_id"`
	Signatories []signature.SignerInput `json:"signatories"`
	Mode        string                  `json:"signing_mode"`
	Message     string                  `json:"message"`
	ExpiresAt   *time.Time              `json:"expires_at"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	view, err := s.signatures.Create(r.Context(), signature.CreateParams{
		ContractID:  body.ContractID,
		InitiatorID: callerID(r),
		Signers:     body.Signatories,
		Mode:        signature.Mode(body.Mode),
		Message:     body.Message,
		ExpiresAt:   body.ExpiresAt,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	var (
		reqs []signature.Request
		err  error
	)
	switch role := r.URL.Query().Get("role"); role {
	case "", "initiator":
		reqs, err = s.signatures.ListByInitiator(r.Context(), callerID(r))
	case "signatory":
		reqs, err = s.signatures.ListBySignatory(r.Context(), callerID(r))
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "role must be initiator or signatory"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]map[string]any, len(reqs))
	for i, req := range reqs {
		out[i] = map[string]any{
			"id":           req.ID,
			"contract_id":  req.ContractID,
			"status":       req.Status,
			"signing_mode": req.Mode,
			"expires_at":   req.ExpiresAt,
			"completed_at": req.CompletedAt,
			"created_at":   req.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	view, err := s.signatures.Get(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.signatures.Cancel(r.Context(), chi.URLParam(r, "id"), callerID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResendInvitation(w http.ResponseWriter, r *http.Request) {
	if err := s.signatures.ResendInvitation(r.Context(), chi.URLParam(r, "id"), callerID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	data, err := s.signatures.DownloadArtifact(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
