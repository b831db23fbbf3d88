// Package token emite y verifica los JWT del servicio (access y refresh),
// firmados con la clave HMAC activa del keyring y verificables con cualquier
// clave ACTIVE o RETIRING del mismo propósito.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/levipshemish/jewgo-app-sub003/internal/keyring"
	"github.com/levipshemish/jewgo-app-sub003/internal/metrics"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
)

// Tolerancia de reloj para exp/nbf.
const clockSkew = 30 * time.Second

type Config struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service firma y verifica tokens. Access y refresh comparten el ring
// "access"; el estado OAuth y los magic links usan sus propios propósitos
// a través de SignFor/ParseFor.
type Service struct {
	ring        *keyring.Ring
	revocations core.RevocationRepository
	cfg         Config
}

func NewService(ring *keyring.Ring, revocations core.RevocationRepository, cfg Config) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &Service{ring: ring, revocations: revocations, cfg: cfg}
}

func (s *Service) AccessTTL() time.Duration  { return s.cfg.AccessTTL }
func (s *Service) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

// Issuer expone el iss configurado; los paquetes que firman con SignFor lo
// necesitan porque ParseFor lo exige en la verificación.
func (s *Service) Issuer() string { return s.cfg.Issuer }

// IssueAccess emite un access token para el par usuario/sesión.
func (s *Service) IssueAccess(ctx context.Context, userID, sessionID string) (string, *AccessClaims, error) {
	now := time.Now().UTC()
	claims := &AccessClaims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
		SessionID: sessionID,
		Use:       UseAccess,
	}
	signed, err := s.SignFor(ctx, core.PurposeAccess, claims)
	if err != nil {
		return "", nil, err
	}
	metrics.TokensIssued.WithLabelValues(UseAccess).Inc()
	return signed, claims, nil
}

// IssueRefresh emite un refresh token nuevo; el caller debe registrar su jti
// como puntero de rotación de la sesión.
func (s *Service) IssueRefresh(ctx context.Context, userID, sessionID string) (string, *RefreshClaims, error) {
	now := time.Now().UTC()
	claims := &RefreshClaims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(s.cfg.RefreshTTL)),
		},
		SessionID: sessionID,
		Use:       UseRefresh,
	}
	signed, err := s.SignFor(ctx, core.PurposeAccess, claims)
	if err != nil {
		return "", nil, err
	}
	metrics.TokensIssued.WithLabelValues(UseRefresh).Inc()
	return signed, claims, nil
}

// VerifyAccess valida firma, tiempos, uso y revocación de un access token.
func (s *Service) VerifyAccess(ctx context.Context, raw string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := s.ParseFor(ctx, core.PurposeAccess, raw, &claims); err != nil {
		metrics.TokenVerifications.WithLabelValues(UseAccess, verifyResult(err)).Inc()
		return nil, err
	}
	if claims.Use != UseAccess {
		metrics.TokenVerifications.WithLabelValues(UseAccess, "wrong_use").Inc()
		return nil, ErrWrongUse
	}
	if err := s.checkRevoked(ctx, claims.ID, claims.SessionID); err != nil {
		metrics.TokenVerifications.WithLabelValues(UseAccess, verifyResult(err)).Inc()
		return nil, err
	}
	metrics.TokenVerifications.WithLabelValues(UseAccess, "ok").Inc()
	return &claims, nil
}

// VerifyRefresh valida un refresh token. No chequea el puntero de rotación;
// eso lo hace la capa de sesión con compare-and-set.
func (s *Service) VerifyRefresh(ctx context.Context, raw string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := s.ParseFor(ctx, core.PurposeAccess, raw, &claims); err != nil {
		metrics.TokenVerifications.WithLabelValues(UseRefresh, verifyResult(err)).Inc()
		return nil, err
	}
	if claims.Use != UseRefresh {
		metrics.TokenVerifications.WithLabelValues(UseRefresh, "wrong_use").Inc()
		return nil, ErrWrongUse
	}
	if err := s.checkRevoked(ctx, claims.ID, claims.SessionID); err != nil {
		metrics.TokenVerifications.WithLabelValues(UseRefresh, verifyResult(err)).Inc()
		return nil, err
	}
	metrics.TokenVerifications.WithLabelValues(UseRefresh, "ok").Inc()
	return &claims, nil
}

// Revoke marca un jti como revocado hasta su expiración natural. Idempotente.
func (s *Service) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return nil
	}
	return s.revocations.Add(ctx, jti, expiresAt)
}

// SignFor firma claims arbitrarias con la clave activa del propósito dado.
// Lo usan también los paquetes de estado OAuth y magic links.
func (s *Service) SignFor(ctx context.Context, purpose core.KeyPurpose, claims jwtv5.Claims) (string, error) {
	key, err := s.ring.ActiveKey(ctx, purpose)
	if err != nil {
		return "", fmt.Errorf("clave activa %s: %w", purpose, err)
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["kid"] = key.KID
	tk.Header["typ"] = "JWT"
	return tk.SignedString(key.Secret)
}

// ParseFor valida firma y tiempos contra las claves de verificación del
// propósito, eligiendo la clave por el header kid.
func (s *Service) ParseFor(ctx context.Context, purpose core.KeyPurpose, raw string, claims jwtv5.Claims) error {
	keyfunc := func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, keyring.ErrUnknownKID
		}
		key, err := s.ring.KeyByKID(ctx, purpose, kid)
		if err != nil {
			return nil, err
		}
		return key.Secret, nil
	}

	// WithExpirationRequired: sin esa opción la librería trata un token sin
	// exp como válido para siempre. Acá un token sin exp es basura, siempre.
	_, err := jwtv5.ParseWithClaims(raw, claims, keyfunc,
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithLeeway(clockSkew),
		jwtv5.WithIssuer(s.cfg.Issuer),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil {
		return mapJWTError(err)
	}
	return nil
}

func (s *Service) checkRevoked(ctx context.Context, jti, sessionID string) error {
	// Revocación de token individual o de la sesión completa: ambas viven
	// en el mismo store compartido, así que una lectura por cada una.
	for _, id := range []string{jti, sessionID} {
		if id == "" {
			continue
		}
		revoked, err := s.revocations.Contains(ctx, id)
		if err != nil {
			return fmt.Errorf("consultar revocaciones: %w", err)
		}
		if revoked {
			return ErrRevoked
		}
	}
	return nil
}

func verifyResult(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrUnknownKey):
		return "unknown_kid"
	case errors.Is(err, ErrSignatureInvalid):
		return "bad_signature"
	default:
		return "malformed"
	}
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, keyring.ErrUnknownKID):
		return ErrUnknownKey
	case errors.Is(err, jwtv5.ErrTokenMalformed), errors.Is(err, jwtv5.ErrTokenRequiredClaimMissing):
		return ErrMalformed
	case errors.Is(err, jwtv5.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwtv5.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwtv5.ErrTokenNotValidYet), errors.Is(err, jwtv5.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwtv5.ErrTokenInvalidIssuer):
		return ErrSignatureInvalid
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
