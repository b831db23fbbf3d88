// Package session administra las sesiones de usuario y la rotación de
// refresh tokens. Cada refresh válido se usa exactamente una vez: la sesión
// guarda el jti del refresh vigente y el canje lo reemplaza con
// compare-and-set. Un jti viejo presentado de nuevo es señal de robo y
// revoca la sesión completa.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/levipshemish/jewgo-app-sub003/internal/metrics"
	"github.com/levipshemish/jewgo-app-sub003/internal/observability/logger"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

var (
	ErrSessionNotFound = errors.New("session_not_found")
	ErrSessionRevoked  = errors.New("session_revoked")
	ErrSessionExpired  = errors.New("session_expired")
	// ErrRefreshReused: el jti presentado ya fue canjeado. La sesión queda
	// revocada antes de devolver este error.
	ErrRefreshReused = errors.New("refresh_token_reused")
)

// TokenPair es el resultado de crear una sesión o rotar su refresh.
type TokenPair struct {
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type Manager struct {
	sessions    core.SessionRepository
	revocations core.RevocationRepository
	tokens      *token.Service
	sessionTTL  time.Duration
}

func NewManager(sessions core.SessionRepository, revocations core.RevocationRepository, tokens *token.Service, sessionTTL time.Duration) *Manager {
	if sessionTTL <= 0 {
		sessionTTL = tokens.RefreshTTL()
	}
	return &Manager{sessions: sessions, revocations: revocations, tokens: tokens, sessionTTL: sessionTTL}
}

// Create abre una sesión nueva para el usuario y emite el primer par de
// tokens. deviceLabel es texto libre para que el usuario reconozca la sesión.
func (m *Manager) Create(ctx context.Context, userID, deviceLabel string) (*TokenPair, error) {
	now := time.Now().UTC()
	sess := &core.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		DeviceLabel: deviceLabel,
		CreatedAt:   now,
		LastSeenAt:  now,
		ExpiresAt:   now.Add(m.sessionTTL),
	}

	refresh, refreshClaims, err := m.tokens.IssueRefresh(ctx, userID, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("emitir refresh: %w", err)
	}
	sess.RefreshJTI = refreshClaims.ID

	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("crear sesión: %w", err)
	}

	access, accessClaims, err := m.tokens.IssueAccess(ctx, userID, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("emitir access: %w", err)
	}

	logger.L().Info("sesión creada",
		logger.UserID(userID), logger.SessionID(sess.ID))

	return &TokenPair{
		SessionID:        sess.ID,
		AccessToken:      access,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// RotateRefresh canjea un refresh token por un par nuevo. El canje es
// transferencia atómica del puntero de rotación: ante carrera gana uno solo.
func (m *Manager) RotateRefresh(ctx context.Context, rawRefresh string) (*TokenPair, error) {
	claims, err := m.tokens.VerifyRefresh(ctx, rawRefresh)
	if err != nil {
		return nil, err
	}

	sess, err := m.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	now := time.Now().UTC()
	if sess.Revoked() {
		return nil, ErrSessionRevoked
	}
	if sess.Expired(now) {
		return nil, ErrSessionExpired
	}

	newRefresh, newClaims, err := m.tokens.IssueRefresh(ctx, sess.UserID, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("emitir refresh: %w", err)
	}

	err = m.sessions.SwapRefreshJTI(ctx, sess.ID, claims.ID, newClaims.ID, now, now.Add(m.sessionTTL))
	if errors.Is(err, core.ErrConflict) {
		// El jti presentado ya no es el vigente: o perdió una carrera
		// legítima o alguien está reusando un refresh robado. En ambos
		// casos la respuesta segura es matar la sesión entera.
		m.revokeCompromised(ctx, sess, claims.ID)
		return nil, ErrRefreshReused
	}
	if err != nil {
		return nil, fmt.Errorf("rotar refresh: %w", err)
	}

	access, accessClaims, err := m.tokens.IssueAccess(ctx, sess.UserID, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("emitir access: %w", err)
	}

	return &TokenPair{
		SessionID:        sess.ID,
		AccessToken:      access,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshToken:     newRefresh,
		RefreshExpiresAt: newClaims.ExpiresAt.Time,
	}, nil
}

// Revoke cierra una sesión: marca la fila y publica el id de sesión en el
// store de revocaciones para que los access tokens vivos dejen de valer.
// Idempotente.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	sess, err := m.sessions.Revoke(ctx, sessionID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if err := m.revocations.Add(ctx, sess.ID, m.revocationHorizon(sess)); err != nil {
		return fmt.Errorf("publicar revocación: %w", err)
	}
	logger.L().Info("sesión revocada",
		logger.UserID(sess.UserID), logger.SessionID(sess.ID))
	metrics.SessionsRevoked.WithLabelValues("logout").Inc()
	return nil
}

// RevokeAll cierra todas las sesiones vivas del usuario. Devuelve cuántas.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (int, error) {
	revoked, err := m.sessions.RevokeAllByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	for i := range revoked {
		if err := m.revocations.Add(ctx, revoked[i].ID, m.revocationHorizon(&revoked[i])); err != nil {
			return 0, fmt.Errorf("publicar revocación: %w", err)
		}
	}
	if len(revoked) > 0 {
		logger.L().Info("todas las sesiones revocadas",
			logger.UserID(userID), logger.Count(len(revoked)))
		metrics.SessionsRevoked.WithLabelValues("logout_all").Add(float64(len(revoked)))
	}
	return len(revoked), nil
}

// Get devuelve una sesión por id.
func (m *Manager) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// List devuelve las sesiones vivas del usuario, más reciente primero.
func (m *Manager) List(ctx context.Context, userID string) ([]core.Session, error) {
	return m.sessions.ListByUser(ctx, userID)
}

// Touch actualiza last_seen sin rotar nada. Best-effort.
func (m *Manager) Touch(ctx context.Context, sessionID string) {
	if err := m.sessions.Touch(ctx, sessionID, time.Now().UTC()); err != nil {
		logger.L().Warn("touch de sesión falló",
			logger.SessionID(sessionID), logger.Err(err))
	}
}

// revokeCompromised mata la sesión y deja rastro de auditoría. Best-effort:
// el caller ya va a devolver ErrRefreshReused pase lo que pase.
func (m *Manager) revokeCompromised(ctx context.Context, sess *core.Session, reusedJTI string) {
	log := logger.L().With(
		logger.UserID(sess.UserID),
		logger.SessionID(sess.ID),
		logger.JTI(reusedJTI),
		logger.SecurityEvent("refresh_reuse"),
	)
	log.Warn("reuso de refresh token detectado; revocando sesión")
	metrics.RefreshReuseDetected.Inc()
	metrics.SessionsRevoked.WithLabelValues("refresh_reuse").Inc()

	if _, err := m.sessions.Revoke(ctx, sess.ID); err != nil {
		log.Error("revocar sesión comprometida falló", logger.Err(err))
	}
	if err := m.revocations.Add(ctx, sess.ID, m.revocationHorizon(sess)); err != nil {
		log.Error("publicar revocación de sesión comprometida falló", logger.Err(err))
	}
}

// revocationHorizon: la entrada de revocación debe sobrevivir al token vivo
// más largo de la sesión. Con margen por skew.
func (m *Manager) revocationHorizon(sess *core.Session) time.Time {
	h := time.Now().UTC().Add(m.tokens.RefreshTTL() + time.Minute)
	if sess.ExpiresAt.After(h) {
		h = sess.ExpiresAt.Add(time.Minute)
	}
	return h
}
