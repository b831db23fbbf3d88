package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/levipshemish/jewgo-app-sub003/internal/http/errors"
	"github.com/levipshemish/jewgo-app-sub003/internal/http/httpx"
	"github.com/levipshemish/jewgo-app-sub003/internal/metrics"
	"github.com/levipshemish/jewgo-app-sub003/internal/oauth"
	"github.com/levipshemish/jewgo-app-sub003/internal/oauthstate"
	"github.com/levipshemish/jewgo-app-sub003/internal/observability/logger"
	"github.com/levipshemish/jewgo-app-sub003/internal/session"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
)

// OAuth maneja el flujo authorization-code contra proveedores externos.
type OAuth struct {
	Providers    oauth.Registry
	State        *oauthstate.Manager
	Users        core.UserRepository
	Sessions     *session.Manager
	ErrorURL     string // adónde redirigir al browser cuando el callback falla
	SecureCookie bool
}

// Start: GET /v1/auth/oauth/{provider}/start?return_to=...
// Genera el state firmado y redirige al proveedor.
func (h *OAuth) Start(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, ok := h.Providers.Get(name)
	if !ok {
		apierrors.WriteError(w, providerError(name))
		return
	}

	returnTo := sanitizeReturnTo(r.URL.Query().Get("return_to"))
	// El nonce del id_token es el mismo que viaja dentro del state: una
	// sola fuente de verdad para atar ambos artefactos al mismo flujo.
	state, nonce, err := h.State.Generate(r.Context(), name, returnTo)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrInternalServerError.WithCause(err))
		return
	}

	authURL, err := provider.AuthURL(r.Context(), state, nonce)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrInternalServerError.WithCause(err))
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback: GET /v1/auth/oauth/{provider}/callback?code=...&state=...
// Verifica y quema el state, canjea el code y abre sesión.
func (h *OAuth) Callback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, ok := h.Providers.Get(name)
	if !ok {
		apierrors.WriteError(w, providerError(name))
		return
	}

	q := r.URL.Query()
	if upstreamErr := q.Get("error"); upstreamErr != "" {
		logger.From(r.Context()).Warn("proveedor devolvió error",
			logger.Provider(name), logger.String("upstream_error", upstreamErr))
		metrics.OAuthCallbacks.WithLabelValues(name, "upstream_error").Inc()
		h.fail(w, r, apierrors.ErrUnauthorized.WithDetail("el proveedor rechazó la autorización"))
		return
	}

	stateClaims, err := h.State.Verify(r.Context(), name, q.Get("state"))
	if err != nil {
		switch {
		case errors.Is(err, oauthstate.ErrStateReplayed):
			metrics.OAuthCallbacks.WithLabelValues(name, "state_replayed").Inc()
			h.fail(w, r, apierrors.ErrStateReplayed)
		default:
			metrics.OAuthCallbacks.WithLabelValues(name, "state_invalid").Inc()
			h.fail(w, r, apierrors.ErrStateInvalid)
		}
		return
	}

	identity, err := provider.Exchange(r.Context(), q.Get("code"), stateClaims.Nonce)
	if err != nil {
		logger.From(r.Context()).Warn("canje de code falló",
			logger.Provider(name), logger.Err(err))
		metrics.OAuthCallbacks.WithLabelValues(name, "exchange_failed").Inc()
		h.fail(w, r, apierrors.ErrUnauthorized.WithDetail("no se pudo verificar la identidad"))
		return
	}
	if !identity.EmailVerified {
		metrics.OAuthCallbacks.WithLabelValues(name, "email_unverified").Inc()
		h.fail(w, r, apierrors.ErrForbidden.WithDetail("el email del proveedor no está verificado"))
		return
	}

	user, err := h.Users.GetOrCreateByEmail(r.Context(), identity.Email)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrInternalServerError.WithCause(err))
		return
	}
	pair, err := h.Sessions.Create(r.Context(), user.ID, "oauth:"+name)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrInternalServerError.WithCause(err))
		return
	}
	metrics.OAuthCallbacks.WithLabelValues(name, "ok").Inc()

	setRefreshCookie(w, pair, h.SecureCookie)
	if stateClaims.ReturnTo != "" {
		http.Redirect(w, r, stateClaims.ReturnTo, http.StatusFound)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newTokenPairResponse(pair, ""))
}

// fail: para browsers redirige a la página de error, para API devuelve JSON.
func (h *OAuth) fail(w http.ResponseWriter, r *http.Request, appErr *apierrors.AppError) {
	if h.ErrorURL != "" && strings.Contains(r.Header.Get("Accept"), "text/html") {
		u := h.ErrorURL + "?code=" + url.QueryEscape(appErr.Code)
		http.Redirect(w, r, u, http.StatusFound)
		return
	}
	apierrors.WriteError(w, appErr)
}

// providerError distingue un proveedor conocido sin credenciales (defecto de
// despliegue) de un nombre que directamente no existe.
func providerError(name string) *apierrors.AppError {
	if oauth.Supported[name] {
		return apierrors.ErrProviderNotConfigured
	}
	return apierrors.ErrProviderNotFound
}

// sanitizeReturnTo solo acepta paths relativos al propio sitio. Nada de
// esquemas ni hosts: un return_to absoluto es un open redirect.
func sanitizeReturnTo(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") {
		return ""
	}
	return s
}
