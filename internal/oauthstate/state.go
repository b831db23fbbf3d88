// Package oauthstate firma y verifica el parámetro state del flujo OAuth.
// El state es un JWT de vida corta (propósito propio en el keyring) con un
// nonce de un solo uso: la verificación consume el nonce en el cache
// compartido, así un state capturado no se puede presentar dos veces.
package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/levipshemish/jewgo-app-sub003/internal/cache"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

var (
	ErrStateInvalid  = errors.New("oauth_state_invalid")
	ErrStateReplayed = errors.New("oauth_state_replayed")
)

// Claims del state. ReturnTo viaja firmado para que el callback redirija
// sin confiar en parámetros sueltos.
type Claims struct {
	jwtv5.RegisteredClaims
	Provider string `json:"prv"`
	ReturnTo string `json:"rto,omitempty"`
	Nonce    string `json:"nce"`
}

type Manager struct {
	tokens *token.Service
	nonces *NonceCache
	ttl    time.Duration
}

func NewManager(tokens *token.Service, cacheClient cache.Client, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Manager{tokens: tokens, nonces: NewNonceCache(cacheClient), ttl: ttl}
}

// Generate emite un state firmado para el provider dado. Devuelve también
// el nonce en claro para que el caller lo propague al proveedor (OIDC lo
// devuelve dentro del id_token y ahí se cierra el círculo).
func (m *Manager) Generate(ctx context.Context, provider, returnTo string) (state, nonce string, err error) {
	now := time.Now().UTC()
	claims := &Claims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    m.tokens.Issuer(),
			ID:        uuid.NewString(),
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(m.ttl)),
		},
		Provider: provider,
		Nonce:    uuid.NewString(),
	}
	if returnTo != "" {
		claims.ReturnTo = returnTo
	}
	signed, err := m.tokens.SignFor(ctx, core.PurposeState, claims)
	if err != nil {
		return "", "", fmt.Errorf("firmar state: %w", err)
	}
	return signed, claims.Nonce, nil
}

// Verify valida firma y tiempos del state y consume su nonce. Un mismo
// state verifica exactamente una vez aunque lleguen callbacks concurrentes.
func (m *Manager) Verify(ctx context.Context, provider, raw string) (*Claims, error) {
	var claims Claims
	if err := m.tokens.ParseFor(ctx, core.PurposeState, raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateInvalid, err)
	}
	if claims.Provider != provider || claims.Nonce == "" {
		return nil, ErrStateInvalid
	}

	// Consumir el nonce recién después de validar la firma, para que basura
	// sin firmar no pueda quemar nonces ajenos.
	ttl := time.Until(claims.ExpiresAt.Time) + time.Minute
	first, err := m.nonces.Consume(ctx, claims.Nonce, ttl)
	if err != nil {
		return nil, fmt.Errorf("consumir nonce: %w", err)
	}
	if !first {
		return nil, ErrStateReplayed
	}
	return &claims, nil
}
