// Package handlers implementa los endpoints HTTP del servicio.
package handlers

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/levipshemish/jewgo-app-sub003/internal/http/errors"
	"github.com/levipshemish/jewgo-app-sub003/internal/http/httpx"
	"github.com/levipshemish/jewgo-app-sub003/internal/observability/logger"
	"github.com/levipshemish/jewgo-app-sub003/internal/security/tokens"
)

// ReadinessCheck es una dependencia que debe estar sana antes de servir
// tráfico de autenticación.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// System expone healthz/readyz y la emisión del token CSRF.
type System struct {
	Checks       []ReadinessCheck
	SecureCookie bool
}

// Healthz: el proceso está vivo. No toca dependencias.
func (h *System) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz falla hasta que todas las dependencias (DB, cache, claves activas)
// estén confirmadas. Los balanceadores no deben rutear antes de eso.
func (h *System) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.Checks))
	ready := true
	for _, c := range h.Checks {
		if err := c.Check(ctx); err != nil {
			logger.From(r.Context()).Warn("readiness check falló",
				logger.Component(c.Name), logger.Err(err))
			status[c.Name] = "down"
			ready = false
			continue
		}
		status[c.Name] = "up"
	}

	if !ready {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"checks": status,
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"checks": status,
	})
}

// CSRF emite el par cookie + token para el esquema double-submit.
func (h *System) CSRF(w http.ResponseWriter, r *http.Request) {
	tok, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrInternalServerError.WithCause(err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "csrf_token",
		Value:    tok,
		Path:     "/",
		MaxAge:   int((12 * time.Hour).Seconds()),
		Secure:   h.SecureCookie,
		HttpOnly: false, // el front necesita leerla para el header
		SameSite: http.SameSiteLaxMode,
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"csrf_token": tok})
}
