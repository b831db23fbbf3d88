package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/levipshemish/jewgo-app-sub003/internal/http/errors"
	"github.com/levipshemish/jewgo-app-sub003/internal/http/httpx"
	"github.com/levipshemish/jewgo-app-sub003/internal/http/middlewares"
	"github.com/levipshemish/jewgo-app-sub003/internal/observability/logger"
	"github.com/levipshemish/jewgo-app-sub003/internal/session"
	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

// Tokens maneja refresh y logout.
type Tokens struct {
	Sessions     *session.Manager
	TokenService *token.Service
	SecureCookie bool
}

type refreshIn struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Refresh: POST /v1/auth/refresh
// Acepta el refresh token del body JSON o de la cookie httpOnly. Devuelve
// un par nuevo; el refresh presentado queda quemado.
func (h *Tokens) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := h.refreshTokenFrom(r)
	if raw == "" {
		apierrors.WriteError(w, apierrors.ErrTokenMissing)
		return
	}

	pair, err := h.Sessions.RotateRefresh(r.Context(), raw)
	if err != nil {
		h.refreshFailure(w, r, err)
		return
	}

	setRefreshCookie(w, pair, h.SecureCookie)
	httpx.WriteJSON(w, http.StatusOK, newTokenPairResponse(pair, ""))
}

// refreshFailure colapsa todo rechazo de refresh en el mismo 401 genérico.
// El motivo puntual queda en el log; el reuso se marca como evento de
// seguridad porque es la señal de un refresh token robado.
func (h *Tokens) refreshFailure(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.From(r.Context())
	switch {
	case errors.Is(err, session.ErrRefreshReused):
		log.Warn("refresh token reusado, sesión revocada entera",
			logger.SecurityEvent("refresh_reuse"), logger.Err(err))
	case errors.Is(err, session.ErrSessionRevoked),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrRevoked),
		errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrSignatureInvalid),
		errors.Is(err, token.ErrUnknownKey),
		errors.Is(err, token.ErrWrongUse),
		errors.Is(err, token.ErrNotYetValid):
		log.Debug("refresh rechazado", logger.Err(err))
	default:
		apierrors.WriteError(w, apierrors.ErrInternalServerError.WithCause(err))
		return
	}
	clearRefreshCookie(w, h.SecureCookie)
	apierrors.WriteError(w, apierrors.ErrUnauthorized)
}

// Logout: POST /v1/auth/logout (requiere Bearer)
// Revoca la sesión actual. Idempotente: repetirlo devuelve 204 igual.
func (h *Tokens) Logout(w http.ResponseWriter, r *http.Request) {
	claims := middlewares.GetAccessClaims(r.Context())
	if claims == nil {
		apierrors.WriteError(w, apierrors.ErrUnauthorized)
		return
	}

	if err := h.Sessions.Revoke(r.Context(), claims.SessionID); err != nil &&
		!errors.Is(err, session.ErrSessionNotFound) {
		apierrors.WriteError(w, apierrors.ErrInternalServerError.WithCause(err))
		return
	}
	// El access token presentado también muere ya, sin esperar su exp.
	if err := h.TokenService.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time.Add(time.Minute)); err != nil {
		logger.From(r.Context()).Warn("revocar access jti falló", logger.Err(err))
	}

	clearRefreshCookie(w, h.SecureCookie)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll: POST /v1/auth/logout-all (requiere Bearer)
// Revoca todas las sesiones vivas del usuario.
func (h *Tokens) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := middlewares.GetAccessClaims(r.Context())
	if claims == nil {
		apierrors.WriteError(w, apierrors.ErrUnauthorized)
		return
	}

	n, err := h.Sessions.RevokeAll(r.Context(), claims.Subject)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrInternalServerError.WithCause(err))
		return
	}

	clearRefreshCookie(w, h.SecureCookie)
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (h *Tokens) refreshTokenFrom(r *http.Request) string {
	var in refreshIn
	if r.Body != nil && r.ContentLength != 0 {
		// Tolerante: si el body no parsea seguimos con la cookie.
		_ = jsonDecodeQuiet(r, &in)
	}
	if tok := strings.TrimSpace(in.RefreshToken); tok != "" {
		return tok
	}
	if ck, err := r.Cookie(refreshCookieName); err == nil {
		return strings.TrimSpace(ck.Value)
	}
	return ""
}
