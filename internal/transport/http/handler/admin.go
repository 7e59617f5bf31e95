package handler

import (
	"fmt"
	"net/http"

	"github.com/aurax-platform/identity-api/internal/application/otp"
)

// AdminHandler handles operator endpoints.
type AdminHandler struct {
	otps otp.Service
}

func NewAdminHandler(otps otp.Service) *AdminHandler { return &AdminHandler{otps: otps} }

// TriggerOTPCleanup runs a cleanup sweep on demand, outside the periodic timer.
func (h *AdminHandler) TriggerOTPCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.otps.CleanupExpired(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: fmt.Sprintf("%d records removed", deleted)})
}
