// Package app cablea las dependencias del servicio y maneja su ciclo de
// vida: store, cache, keyring, servicios de dominio, HTTP y tareas de fondo.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levipshemish/jewgo-app-sub003/internal/cache"
	"github.com/levipshemish/jewgo-app-sub003/internal/config"
	"github.com/levipshemish/jewgo-app-sub003/internal/email"
	httpserver "github.com/levipshemish/jewgo-app-sub003/internal/http"
	"github.com/levipshemish/jewgo-app-sub003/internal/http/handlers"
	"github.com/levipshemish/jewgo-app-sub003/internal/keyring"
	"github.com/levipshemish/jewgo-app-sub003/internal/magiclink"
	"github.com/levipshemish/jewgo-app-sub003/internal/metrics"
	"github.com/levipshemish/jewgo-app-sub003/internal/oauth"
	"github.com/levipshemish/jewgo-app-sub003/internal/oauth/google"
	"github.com/levipshemish/jewgo-app-sub003/internal/oauthstate"
	"github.com/levipshemish/jewgo-app-sub003/internal/observability/logger"
	"github.com/levipshemish/jewgo-app-sub003/internal/session"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/memory"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/pg"
	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

type App struct {
	cfg *config.Config

	store   core.Store
	cache   cache.Client
	ring    *keyring.Ring
	rotator *keyring.Rotator

	Tokens   *token.Service
	Sessions *session.Manager

	server *httpserver.Server
}

// New construye la aplicación completa. No arranca nada todavía: los
// background loops y el listen ocurren en Run.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	if err := metrics.Register(nil); err != nil {
		return nil, fmt.Errorf("registrar métricas: %w", err)
	}

	// ── Persistencia ──
	switch cfg.Storage.Driver {
	case "postgres":
		st, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("abrir postgres: %w", err)
		}
		a.store = st
	case "memory":
		a.store = memory.New()
	default:
		return nil, fmt.Errorf("storage driver desconocido: %q", cfg.Storage.Driver)
	}

	// ── Cache compartido ──
	cacheClient, err := cache.New(cache.Config{
		Kind:       cfg.Cache.Kind,
		Addr:       cfg.Cache.Redis.Addr,
		Password:   cfg.Cache.Redis.Password,
		DB:         cfg.Cache.Redis.DB,
		Prefix:     cfg.Cache.Redis.Prefix,
		DefaultTTL: config.Duration(cfg.Cache.Memory.DefaultTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("abrir cache: %w", err)
	}
	a.cache = cacheClient

	// ── Keyring ──
	a.ring = keyring.New(a.store.SigningKeys())
	if err := a.ring.EnsureBootstrap(ctx); err != nil {
		return nil, err
	}
	a.rotator = keyring.NewRotator(a.ring, a.store.SigningKeys(), keyring.RotatorConfig{
		RotationInterval: config.Duration(cfg.Keys.RotationInterval),
		CheckInterval:    config.Duration(cfg.Keys.SweepInterval),
		Grace:            a.graceByPurpose(),
	})

	// ── Servicios de dominio ──
	a.Tokens = token.NewService(a.ring, a.store.Revocations(), token.Config{
		Issuer:     cfg.Tokens.Issuer,
		AccessTTL:  config.Duration(cfg.Tokens.AccessTTL),
		RefreshTTL: config.Duration(cfg.Tokens.RefreshTTL),
	})
	a.Sessions = session.NewManager(a.store.Sessions(), a.store.Revocations(), a.Tokens,
		config.Duration(cfg.Sessions.TTL))

	stateMgr := oauthstate.NewManager(a.Tokens, a.cache, config.Duration(cfg.OAuth.StateTTL))

	providers := oauth.Registry{}
	if cfg.OAuth.Google.Enabled {
		providers["google"] = google.New(
			cfg.OAuth.Google.ClientID,
			cfg.OAuth.Google.ClientSecret,
			cfg.OAuth.Google.RedirectURL,
			cfg.OAuth.Google.Scopes,
		)
	}

	sender := email.NewSMTPSender(email.SMTPConfig{
		Host:               cfg.SMTP.Host,
		Port:               cfg.SMTP.Port,
		From:               cfg.SMTP.From,
		Username:           cfg.SMTP.Username,
		Password:           cfg.SMTP.Password,
		InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
	})
	links := magiclink.NewService(a.Tokens, a.store.MagicLinks(), a.store.Users(), a.Sessions, sender,
		magiclink.Config{
			TTL:            config.Duration(cfg.MagicLink.TTL),
			BaseURL:        cfg.MagicLink.BaseURL,
			DebugEchoLinks: cfg.MagicLink.DebugEchoLinks,
		})

	// ── HTTP ──
	secure := cfg.App.Env == "prod"
	router := httpserver.NewRouter(httpserver.RouterDeps{
		System: &handlers.System{
			Checks:       a.readinessChecks(),
			SecureCookie: secure,
		},
		OAuth: &handlers.OAuth{
			Providers:    providers,
			State:        stateMgr,
			Users:        a.store.Users(),
			Sessions:     a.Sessions,
			ErrorURL:     cfg.OAuth.ErrorURL,
			SecureCookie: secure,
		},
		MagicLink: &handlers.MagicLink{Service: links, ErrorURL: cfg.OAuth.ErrorURL, SecureCookie: secure},
		Tokens: &handlers.Tokens{
			Sessions:     a.Sessions,
			TokenService: a.Tokens,
			SecureCookie: secure,
		},
		Sessions:     &handlers.Sessions{Manager: a.Sessions},
		TokenService: a.Tokens,
	})
	a.server = httpserver.NewServer(cfg.Server.Addr, router, cfg.Server.ShutdownTimeout)

	return a, nil
}

// Run arranca rotator, janitor y servidor HTTP, y bloquea hasta que ctx se
// cancele o el servidor falle.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.rotator.Run(ctx)
	go a.janitor(ctx, config.Duration(a.cfg.Keys.SweepInterval))

	err := a.server.Run(ctx)
	a.Close()
	return err
}

// Close libera recursos. Idempotente a efectos prácticos.
func (a *App) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.L().Warn("cerrar cache falló", logger.Err(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

// readinessChecks: el servicio no está listo hasta poder firmar y verificar.
func (a *App) readinessChecks() []handlers.ReadinessCheck {
	return []handlers.ReadinessCheck{
		{Name: "store", Check: a.store.Ping},
		{Name: "cache", Check: a.cache.Ping},
		{Name: "signing_keys", Check: func(ctx context.Context) error {
			for _, p := range core.Purposes() {
				if _, err := a.ring.ActiveKey(ctx, p); err != nil {
					return fmt.Errorf("propósito %s: %w", p, err)
				}
			}
			return nil
		}},
		{Name: "rotator", Check: func(ctx context.Context) error {
			healthy, lastRun, err := a.rotator.Healthy()
			if healthy {
				return nil
			}
			if err != nil {
				return err
			}
			if lastRun.IsZero() {
				return errors.New("todavía sin pasada completa")
			}
			return errors.New("última pasada con error")
		}},
	}
}

// graceByPurpose: una clave RETIRING debe sobrevivir al token vivo más
// largo que firmó, con margen.
func (a *App) graceByPurpose() map[core.KeyPurpose]time.Duration {
	const margin = time.Hour
	return map[core.KeyPurpose]time.Duration{
		core.PurposeAccess:    config.Duration(a.cfg.Tokens.RefreshTTL) + margin,
		core.PurposeState:     config.Duration(a.cfg.OAuth.StateTTL) + margin,
		core.PurposeMagicLink: config.Duration(a.cfg.MagicLink.TTL) + margin,
	}
}
