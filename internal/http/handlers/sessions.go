package handlers

import (
	"errors"
	"net/http"
	"time"

	apierrors "github.com/levipshemish/jewgo-app-sub003/internal/http/errors"
	"github.com/levipshemish/jewgo-app-sub003/internal/http/httpx"
	"github.com/levipshemish/jewgo-app-sub003/internal/http/middlewares"
	"github.com/levipshemish/jewgo-app-sub003/internal/session"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
)

// Sessions expone la gestión de sesiones del usuario autenticado.
type Sessions struct {
	Manager *session.Manager
}

type sessionOut struct {
	ID          string    `json:"id"`
	DeviceLabel string    `json:"device_label,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Current     bool      `json:"current"`
}

// List: GET /v1/sessions (requiere Bearer)
// Devuelve las sesiones vivas del usuario, más reciente primero.
func (h *Sessions) List(w http.ResponseWriter, r *http.Request) {
	claims := middlewares.GetAccessClaims(r.Context())
	if claims == nil {
		apierrors.WriteError(w, apierrors.ErrUnauthorized)
		return
	}

	sessions, err := h.Manager.List(r.Context(), claims.Subject)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrInternalServerError.WithCause(err))
		return
	}

	out := make([]sessionOut, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionOut{
			ID:          s.ID,
			DeviceLabel: s.DeviceLabel,
			CreatedAt:   s.CreatedAt,
			LastSeenAt:  s.LastSeenAt,
			ExpiresAt:   s.ExpiresAt,
			Current:     s.ID == claims.SessionID,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

type revokeSessionIn struct {
	SessionID string `json:"session_id"`
}

// Revoke: POST /v1/sessions/revoke (requiere Bearer)
// Revoca una sesión puntual del propio usuario.
func (h *Sessions) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := middlewares.GetAccessClaims(r.Context())
	if claims == nil {
		apierrors.WriteError(w, apierrors.ErrUnauthorized)
		return
	}

	var in revokeSessionIn
	if !httpx.ReadJSON(w, r, &in) {
		return
	}
	if in.SessionID == "" {
		apierrors.WriteError(w, apierrors.ErrBadRequest.WithDetail("session_id es requerido"))
		return
	}

	// Ownership primero: nadie revoca sesiones ajenas. Para un id ajeno
	// respondemos 404, no 403, para no confirmar que existe.
	target, err := h.Manager.Get(r.Context(), in.SessionID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, session.ErrSessionNotFound) {
			apierrors.WriteError(w, apierrors.ErrSessionNotFound)
			return
		}
		apierrors.WriteError(w, apierrors.ErrInternalServerError.WithCause(err))
		return
	}
	if target.UserID != claims.Subject {
		apierrors.WriteError(w, apierrors.ErrSessionNotFound)
		return
	}

	if err := h.Manager.Revoke(r.Context(), in.SessionID); err != nil &&
		!errors.Is(err, session.ErrSessionNotFound) {
		apierrors.WriteError(w, apierrors.ErrInternalServerError.WithCause(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
