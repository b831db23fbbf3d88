// Package http arma el router del servicio y el ciclo de vida del servidor.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/levipshemish/jewgo-app-sub003/internal/http/errors"
	"github.com/levipshemish/jewgo-app-sub003/internal/http/handlers"
	"github.com/levipshemish/jewgo-app-sub003/internal/http/middlewares"
	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

// RouterDeps son los handlers ya cableados que monta el router.
type RouterDeps struct {
	System    *handlers.System
	OAuth     *handlers.OAuth
	MagicLink *handlers.MagicLink
	Tokens    *handlers.Tokens
	Sessions  *handlers.Sessions

	TokenService *token.Service
}

// NewRouter monta todas las rutas con la cadena de middlewares estándar.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middlewares.WithRequestID())
	r.Use(middlewares.WithLogging())
	r.Use(middlewares.WithRecover())

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apierrors.WriteError(w, apierrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apierrors.WriteError(w, apierrors.ErrMethodNotAllowed)
	})

	// Sondas y métricas, sin CSRF ni auth.
	r.Get("/healthz", deps.System.Healthz)
	r.Get("/readyz", deps.System.Readyz)
	r.Get("/csrf", deps.System.CSRF)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middlewares.WithNoStore())
		r.Use(middlewares.WithCSRF(middlewares.CSRFConfig{}))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/oauth/{provider}/start", deps.OAuth.Start)
			r.Get("/oauth/{provider}/callback", deps.OAuth.Callback)

			r.Post("/magiclink/send", deps.MagicLink.Send)
			// GET: el consume llega por clic en el correo, no por XHR.
			r.Get("/magiclink/consume", deps.MagicLink.Consume)

			r.Post("/refresh", deps.Tokens.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(middlewares.WithAuth(deps.TokenService))
				r.Post("/logout", deps.Tokens.Logout)
				r.Post("/logout-all", deps.Tokens.LogoutAll)
			})
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Use(middlewares.WithAuth(deps.TokenService))
			r.Get("/", deps.Sessions.List)
			r.Post("/revoke", deps.Sessions.Revoke)
		})
	})

	return r
}
