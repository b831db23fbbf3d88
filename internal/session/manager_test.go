package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/levipshemish/jewgo-app-sub003/internal/keyring"
	"github.com/levipshemish/jewgo-app-sub003/internal/security/secretbox"
	"github.com/levipshemish/jewgo-app-sub003/internal/session"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/memory"
	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

func TestMain(m *testing.M) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(200 - i)
	}
	secretbox.SetKeyForTesting(key)
	m.Run()
}

func newManager(t *testing.T) (*session.Manager, *token.Service, core.Store) {
	t.Helper()
	st := memory.New()
	ring := keyring.New(st.SigningKeys())
	if err := ring.EnsureBootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	tokens := token.NewService(ring, st.Revocations(), token.Config{
		Issuer:     "https://auth.test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
	})
	mgr := session.NewManager(st.Sessions(), st.Revocations(), tokens, 720*time.Hour)
	return mgr, tokens, st
}

func TestCreate_IssuesVerifiablePair(t *testing.T) {
	ctx := context.Background()
	mgr, tokens, st := newManager(t)

	pair, err := mgr.Create(ctx, "u1", "laptop")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pair.SessionID == "" || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("par incompleto: %+v", pair)
	}

	ac, err := tokens.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if ac.Subject != "u1" || ac.SessionID != pair.SessionID {
		t.Fatalf("claims inesperadas: %+v", ac)
	}

	rc, err := tokens.VerifyRefresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	// el jti del refresh queda como puntero de rotación de la sesión
	sess, err := st.Sessions().Get(ctx, pair.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.RefreshJTI != rc.ID {
		t.Fatalf("puntero de rotación esperado %s, obtuvo %s", rc.ID, sess.RefreshJTI)
	}
	if sess.DeviceLabel != "laptop" {
		t.Fatalf("device label esperado laptop, obtuvo %q", sess.DeviceLabel)
	}
}

func TestRotateRefresh_HappyPath(t *testing.T) {
	ctx := context.Background()
	mgr, tokens, _ := newManager(t)

	pair, err := mgr.Create(ctx, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	rotated, err := mgr.RotateRefresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.SessionID != pair.SessionID {
		t.Fatalf("la rotación no debió cambiar la sesión: %s → %s", pair.SessionID, rotated.SessionID)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("el refresh nuevo debió ser distinto")
	}
	if _, err := tokens.VerifyAccess(ctx, rotated.AccessToken); err != nil {
		t.Fatalf("access nuevo debió verificar: %v", err)
	}
}

func TestRotateRefresh_ReuseRevokesWholeSession(t *testing.T) {
	ctx := context.Background()
	mgr, tokens, st := newManager(t)

	pair, err := mgr.Create(ctx, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	rotated, err := mgr.RotateRefresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}

	// presentar el refresh viejo de nuevo = reuso detectado
	if _, err := mgr.RotateRefresh(ctx, pair.RefreshToken); !errors.Is(err, session.ErrRefreshReused) {
		t.Fatalf("esperado ErrRefreshReused, obtuvo %v", err)
	}

	// la sesión entera quedó quemada: ni el refresh vigente ni los access
	// tokens sobreviven
	if _, err := mgr.RotateRefresh(ctx, rotated.RefreshToken); err == nil {
		t.Fatal("el refresh vigente debió morir con la sesión")
	}
	if _, err := tokens.VerifyAccess(ctx, rotated.AccessToken); !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("access de sesión comprometida debió dar ErrRevoked, obtuvo %v", err)
	}
	sess, err := st.Sessions().Get(ctx, pair.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if !sess.Revoked() {
		t.Fatal("la fila de sesión debió quedar revocada")
	}
}

func TestRevoke_KillsAccessTokens(t *testing.T) {
	ctx := context.Background()
	mgr, tokens, _ := newManager(t)

	pair, err := mgr.Create(ctx, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Revoke(ctx, pair.SessionID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := tokens.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("access de sesión revocada debió dar ErrRevoked, obtuvo %v", err)
	}
	if _, err := mgr.RotateRefresh(ctx, pair.RefreshToken); err == nil {
		t.Fatal("refresh de sesión revocada debió rechazarse")
	}
	// idempotente
	if err := mgr.Revoke(ctx, pair.SessionID); err != nil {
		t.Fatalf("revoke repetido debió ser no-op: %v", err)
	}
	if err := mgr.Revoke(ctx, "no-existe"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("esperado ErrSessionNotFound, obtuvo %v", err)
	}
}

func TestRevokeAll_ClosesEveryDevice(t *testing.T) {
	ctx := context.Background()
	mgr, tokens, _ := newManager(t)

	a, _ := mgr.Create(ctx, "u1", "laptop")
	b, _ := mgr.Create(ctx, "u1", "phone")
	other, _ := mgr.Create(ctx, "u2", "")

	n, err := mgr.RevokeAll(ctx, "u1")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 2 {
		t.Fatalf("debió revocar 2 sesiones, revocó %d", n)
	}
	for _, pair := range []*session.TokenPair{a, b} {
		if _, err := tokens.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, token.ErrRevoked) {
			t.Fatalf("access de u1 debió quedar revocado, obtuvo %v", err)
		}
	}
	if _, err := tokens.VerifyAccess(ctx, other.AccessToken); err != nil {
		t.Fatalf("u2 no debió verse afectado: %v", err)
	}

	sessions, err := mgr.List(ctx, "u1")
	if err != nil || len(sessions) != 0 {
		t.Fatalf("u1 sin sesiones vivas esperado: %v %v", sessions, err)
	}
}
