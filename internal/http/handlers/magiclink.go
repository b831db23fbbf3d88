package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	apierrors "github.com/levipshemish/jewgo-app-sub003/internal/http/errors"
	"github.com/levipshemish/jewgo-app-sub003/internal/http/httpx"
	"github.com/levipshemish/jewgo-app-sub003/internal/magiclink"
	"github.com/levipshemish/jewgo-app-sub003/internal/observability/logger"
)

// MagicLink maneja el alta y consumo de enlaces de acceso por email.
type MagicLink struct {
	Service      *magiclink.Service
	ErrorURL     string // adónde redirigir al browser cuando el consumo falla
	SecureCookie bool
}

type magicLinkSendIn struct {
	Email    string `json:"email"`
	ReturnTo string `json:"return_to,omitempty"`
}

// Send: POST /v1/auth/magiclink/send
// Siempre responde 202 ante un email bien formado, exista o no la cuenta:
// la existencia de una casilla no se revela por esta vía.
func (h *MagicLink) Send(w http.ResponseWriter, r *http.Request) {
	var in magicLinkSendIn
	if !httpx.ReadJSON(w, r, &in) {
		return
	}

	debugLink, err := h.Service.Send(r.Context(), in.Email, sanitizeReturnTo(in.ReturnTo))
	switch {
	case errors.Is(err, magiclink.ErrEmailInvalid):
		apierrors.WriteError(w, apierrors.ErrInvalidEmail)
		return
	case err != nil:
		// El SMTP caído no debe filtrar nada al cliente, pero tampoco
		// tiene sentido un 202 que nunca va a llegar.
		logger.From(r.Context()).Error("envío de magic link falló", logger.Err(err))
		apierrors.WriteError(w, apierrors.ErrServiceUnavailable)
		return
	}

	out := map[string]string{"status": "sent"}
	if debugLink != "" {
		out["debug_link"] = debugLink
	}
	httpx.WriteJSON(w, http.StatusAccepted, out)
}

// Consume: GET /v1/auth/magiclink/consume?token=...&email=...
// Se llega por clic en el correo. Quema el enlace y abre sesión; ante
// cualquier fallo el browser va a la página de error con un código, nunca
// ve el detalle interno.
func (h *MagicLink) Consume(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("token") == "" {
		h.fail(w, r, apierrors.ErrMagicLinkInvalid)
		return
	}

	pair, returnTo, err := h.Service.Consume(r.Context(), q.Get("token"), q.Get("email"), "magiclink")
	switch {
	case errors.Is(err, magiclink.ErrLinkConsumed):
		h.fail(w, r, apierrors.ErrMagicLinkConsumed)
		return
	case errors.Is(err, magiclink.ErrLinkExpired):
		h.fail(w, r, apierrors.ErrMagicLinkExpired)
		return
	case errors.Is(err, magiclink.ErrLinkInvalid):
		h.fail(w, r, apierrors.ErrMagicLinkInvalid)
		return
	case err != nil:
		apierrors.WriteError(w, apierrors.ErrInternalServerError.WithCause(err))
		return
	}

	if returnTo == "" {
		returnTo = sanitizeReturnTo(q.Get("return_to"))
	}
	setRefreshCookie(w, pair, h.SecureCookie)
	if returnTo != "" {
		http.Redirect(w, r, returnTo, http.StatusFound)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newTokenPairResponse(pair, ""))
}

// fail: para browsers redirige a la página de error, para API devuelve JSON.
func (h *MagicLink) fail(w http.ResponseWriter, r *http.Request, appErr *apierrors.AppError) {
	if h.ErrorURL != "" && strings.Contains(r.Header.Get("Accept"), "text/html") {
		u := h.ErrorURL + "?code=" + url.QueryEscape(appErr.Code)
		http.Redirect(w, r, u, http.StatusFound)
		return
	}
	apierrors.WriteError(w, appErr)
}
