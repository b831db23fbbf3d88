// Package magiclink implementa el acceso sin contraseña por enlace enviado
// a email. El enlace lleva un JWT de vida corta cuyo jti apunta a una fila
// durable; el consumo es un UPDATE condicional sobre esa fila, así el enlace
// sirve exactamente una vez aunque lleguen clics concurrentes.
package magiclink

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/levipshemish/jewgo-app-sub003/internal/email"
	"github.com/levipshemish/jewgo-app-sub003/internal/metrics"
	"github.com/levipshemish/jewgo-app-sub003/internal/observability/logger"
	"github.com/levipshemish/jewgo-app-sub003/internal/session"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

var (
	ErrEmailInvalid = errors.New("magic_link_email_invalid")
	ErrLinkInvalid  = errors.New("magic_link_invalid")
	ErrLinkConsumed = errors.New("magic_link_already_consumed")
	ErrLinkExpired  = errors.New("magic_link_expired")
)

// Claims del JWT que viaja en el enlace. El jti es la clave de la fila
// durable que garantiza el un-solo-uso.
type Claims struct {
	jwtv5.RegisteredClaims
	Email    string `json:"eml"`
	ReturnTo string `json:"rto,omitempty"`
}

type Config struct {
	TTL     time.Duration
	BaseURL string // ej: https://app.example.com/auth/magic
	// DebugEchoLinks devuelve el enlace en la respuesta HTTP además de
	// mandarlo por correo. Solo dev; config lo fuerza a false en prod.
	DebugEchoLinks bool
}

type Service struct {
	tokens   *token.Service
	links    core.MagicLinkRepository
	users    core.UserRepository
	sessions *session.Manager
	sender   email.Sender
	cfg      Config
}

func NewService(tokens *token.Service, links core.MagicLinkRepository, users core.UserRepository, sessions *session.Manager, sender email.Sender, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 20 * time.Minute
	}
	return &Service{tokens: tokens, links: links, users: users, sessions: sessions, sender: sender, cfg: cfg}
}

// Send emite un enlace de acceso y lo manda por correo. Devuelve el enlace
// solo si DebugEchoLinks está activo, si no, string vacío.
func (s *Service) Send(ctx context.Context, rawEmail, returnTo string) (string, error) {
	addr, err := normalizeEmail(rawEmail)
	if err != nil {
		return "", ErrEmailInvalid
	}

	now := time.Now().UTC()
	rec := &core.MagicLinkRecord{
		TokenID:   uuid.NewString(),
		Email:     addr,
		ReturnTo:  returnTo,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.links.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("crear registro de enlace: %w", err)
	}

	claims := &Claims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    s.tokens.Issuer(),
			ID:        rec.TokenID,
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(rec.ExpiresAt),
		},
		Email:    addr,
		ReturnTo: returnTo,
	}
	signed, err := s.tokens.SignFor(ctx, core.PurposeMagicLink, claims)
	if err != nil {
		return "", fmt.Errorf("firmar enlace: %w", err)
	}

	link := s.cfg.BaseURL + "?token=" + url.QueryEscape(signed) + "&email=" + url.QueryEscape(addr)
	ttlMin := int(s.cfg.TTL.Minutes())
	if err := s.sender.Send(addr, "Tu enlace de acceso",
		email.MagicLinkHTML(link, ttlMin), email.MagicLinkText(link, ttlMin)); err != nil {
		return "", fmt.Errorf("enviar correo: %w", err)
	}

	logger.L().Info("magic link enviado", logger.Email(addr))
	metrics.MagicLinksSent.Inc()
	if s.cfg.DebugEchoLinks {
		return link, nil
	}
	return "", nil
}

// Consume valida el enlace, lo quema y abre sesión para el dueño del email.
// El enlace queda atado al email con el que se pidió; un email distinto no
// quema la fila, así un tercero no puede invalidar enlaces ajenos probando.
// El primer clic gana; los siguientes reciben ErrLinkConsumed.
func (s *Service) Consume(ctx context.Context, rawToken, rawEmail, deviceLabel string) (*session.TokenPair, string, error) {
	var claims Claims
	if err := s.tokens.ParseFor(ctx, core.PurposeMagicLink, rawToken, &claims); err != nil {
		if errors.Is(err, token.ErrExpired) {
			metrics.MagicLinkConsumes.WithLabelValues("expired").Inc()
			return nil, "", ErrLinkExpired
		}
		metrics.MagicLinkConsumes.WithLabelValues("invalid").Inc()
		return nil, "", fmt.Errorf("%w: %v", ErrLinkInvalid, err)
	}
	if claims.ID == "" || claims.Email == "" {
		return nil, "", ErrLinkInvalid
	}
	if addr, err := normalizeEmail(rawEmail); err != nil || addr != claims.Email {
		metrics.MagicLinkConsumes.WithLabelValues("email_mismatch").Inc()
		return nil, "", ErrLinkInvalid
	}

	err := s.links.Consume(ctx, claims.ID, time.Now().UTC())
	switch {
	case errors.Is(err, core.ErrAlreadyConsumed):
		logger.L().Warn("reintento de magic link ya consumido",
			logger.Email(claims.Email), logger.SecurityEvent("magic_link_replay"))
		metrics.MagicLinkConsumes.WithLabelValues("replay").Inc()
		return nil, "", ErrLinkConsumed
	case errors.Is(err, core.ErrExpired):
		metrics.MagicLinkConsumes.WithLabelValues("expired").Inc()
		return nil, "", ErrLinkExpired
	case errors.Is(err, core.ErrNotFound):
		// Firma válida pero sin fila: purgada o de otro entorno.
		metrics.MagicLinkConsumes.WithLabelValues("unknown").Inc()
		return nil, "", ErrLinkInvalid
	case err != nil:
		return nil, "", fmt.Errorf("consumir enlace: %w", err)
	}
	metrics.MagicLinkConsumes.WithLabelValues("ok").Inc()

	user, err := s.users.GetOrCreateByEmail(ctx, claims.Email)
	if err != nil {
		return nil, "", fmt.Errorf("resolver usuario: %w", err)
	}
	pair, err := s.sessions.Create(ctx, user.ID, deviceLabel)
	if err != nil {
		return nil, "", err
	}
	return pair, claims.ReturnTo, nil
}

func normalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	a, err := mail.ParseAddress(s)
	if err != nil || a.Address != s {
		return "", fmt.Errorf("email inválido")
	}
	return s, nil
}
