package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/authcore/internal/auth"
	pkghttp "github.com/BradenHooton/authcore/pkg/http"
)

// AdminServiceInterface defines the administrative session operations
type AdminServiceInterface interface {
	TerminateUserSessions(ctx context.Context, targetUserID, actorID, sourceAddress string) error
}

// AdminHandler handles administrative HTTP requests
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// TerminateUserSessions handles DELETE /admin/users/{id}/sessions
func (h *AdminHandler) TerminateUserSessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	targetID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(targetID); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user ID")
		return
	}

	if err := h.service.TerminateUserSessions(r.Context(), targetID, claims.UserID, auth.GetSourceAddress(r)); err != nil {
		pkghttp.WriteInternalError(w, "Failed to terminate sessions")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
