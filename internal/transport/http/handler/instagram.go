package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aurax-platform/identity-api/internal/application/social"
	"github.com/aurax-platform/identity-api/internal/transport/http/middleware"
)

// InstagramHandler handles the OAuth handshake and linkage endpoints.
type InstagramHandler struct {
	svc social.Service
}

func NewInstagramHandler(svc social.Service) *InstagramHandler {
	return &InstagramHandler{svc: svc}
}

// AuthorizationURL returns the provider URL the client should redirect to.
func (h *InstagramHandler) AuthorizationURL(w http.ResponseWriter, r *http.Request) {
	url, state, err := h.svc.AuthorizationURL()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url, "state": state})
}

// Callback completes the handshake for an authorization code. The bearer
// token is optional: without one the exchange still runs, it just is not
// persisted to any account.
func (h *InstagramHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	result, err := h.svc.CompleteAuthorization(r.Context(), req.Code, bearer)
	if err != nil {
		if hints := social.TroubleshootingHints(err); hints != nil {
			writeJSON(w, http.StatusBadGateway, MessageEnvelope{Error: err.Error(), Hints: hints})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *InstagramHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	status, err := h.svc.RefreshToken(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *InstagramHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	status, err := h.svc.Status(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *InstagramHandler) Validate(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	result, err := h.svc.ValidateToken(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *InstagramHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.Disconnect(r.Context(), claims.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "instagram account disconnected"})
}
