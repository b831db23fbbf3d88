package middlewares

import (
	"errors"
	"net/http"
	"strings"

	apierrors "github.com/levipshemish/jewgo-app-sub003/internal/http/errors"
	"github.com/levipshemish/jewgo-app-sub003/internal/observability/logger"
	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

// WithAuth exige un access token válido (Bearer) y deja las claims en el
// contexto. La revocación ya viene chequeada por el verificador.
// Todos los motivos de rechazo colapsan en el mismo 401: el porqué exacto
// (firma, expiry, revocado, kid desconocido) va solo al log, nunca al
// cliente, para no regalar un oráculo sobre cómo falló la verificación.
func WithAuth(verifier *token.Service) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				apierrors.WriteError(w, apierrors.ErrTokenMissing)
				return
			}

			claims, err := verifier.VerifyAccess(r.Context(), raw)
			if err != nil {
				if !isVerifyFailure(err) {
					apierrors.WriteError(w, apierrors.ErrInternalServerError.WithCause(err))
					return
				}
				logger.From(r.Context()).Debug("access token rechazado", logger.Err(err))
				apierrors.WriteError(w, apierrors.ErrUnauthorized)
				return
			}

			ctx := setAccessClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(ah) > 7 && strings.EqualFold(ah[:7], "bearer ") {
		return strings.TrimSpace(ah[7:])
	}
	return ""
}

func isVerifyFailure(err error) bool {
	return errors.Is(err, token.ErrExpired) ||
		errors.Is(err, token.ErrRevoked) ||
		errors.Is(err, token.ErrMalformed) ||
		errors.Is(err, token.ErrUnknownKey) ||
		errors.Is(err, token.ErrSignatureInvalid) ||
		errors.Is(err, token.ErrNotYetValid) ||
		errors.Is(err, token.ErrWrongUse)
}
