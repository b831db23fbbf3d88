package token_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/levipshemish/jewgo-app-sub003/internal/keyring"
	"github.com/levipshemish/jewgo-app-sub003/internal/security/secretbox"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/memory"
	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

const issuer = "https://auth.test"

func TestMain(m *testing.M) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 7)
	}
	secretbox.SetKeyForTesting(key)
	m.Run()
}

func newService(t *testing.T) (*token.Service, *keyring.Ring, core.Store) {
	t.Helper()
	st := memory.New()
	ring := keyring.New(st.SigningKeys())
	if err := ring.EnsureBootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	svc := token.NewService(ring, st.Revocations(), token.Config{
		Issuer:     issuer,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
	})
	return svc, ring, st
}

func TestIssueVerifyAccess(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	raw, claims, err := svc.IssueAccess(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if claims.ID == "" || claims.SessionID != "s1" || claims.Use != token.UseAccess {
		t.Fatalf("claims inesperadas: %+v", claims)
	}

	got, err := svc.VerifyAccess(ctx, raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Subject != "u1" || got.SessionID != "s1" || got.ID != claims.ID {
		t.Fatalf("claims verificadas inesperadas: %+v", got)
	}
}

func TestVerify_RejectsWrongUse(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	refresh, _, err := svc.IssueRefresh(ctx, "u1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifyAccess(ctx, refresh); !errors.Is(err, token.ErrWrongUse) {
		t.Fatalf("refresh como access debió dar ErrWrongUse, obtuvo %v", err)
	}

	access, _, err := svc.IssueAccess(ctx, "u1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifyRefresh(ctx, access); !errors.Is(err, token.ErrWrongUse) {
		t.Fatalf("access como refresh debió dar ErrWrongUse, obtuvo %v", err)
	}
}

func TestVerify_RevokedJTIAndSession(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	raw, claims, err := svc.IssueAccess(ctx, "u1", "s1")
	if err != nil {
		t.Fatal(err)
	}

	// revocar el jti individual
	if err := svc.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifyAccess(ctx, raw); !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("jti revocado debió dar ErrRevoked, obtuvo %v", err)
	}

	// otro token de la misma sesión cae si se revoca el session id
	raw2, _, err := svc.IssueAccess(ctx, "u1", "s2")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Revoke(ctx, "s2", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifyAccess(ctx, raw2); !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("sesión revocada debió invalidar el token, obtuvo %v", err)
	}
}

func TestVerify_ExpiredBeyondLeeway(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	now := time.Now().UTC()
	claims := &token.AccessClaims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "u1",
			ID:        "jti-exp",
			IssuedAt:  jwtv5.NewNumericDate(now.Add(-time.Hour)),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(-2 * time.Minute)),
		},
		SessionID: "s1",
		Use:       token.UseAccess,
	}
	raw, err := svc.SignFor(ctx, core.PurposeAccess, claims)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifyAccess(ctx, raw); !errors.Is(err, token.ErrExpired) {
		t.Fatalf("esperado ErrExpired, obtuvo %v", err)
	}
}

func TestVerify_RejectsMissingExp(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	// firmado con la clave activa pero sin exp: un token eterno no existe
	claims := &token.AccessClaims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:   issuer,
			Subject:  "u1",
			ID:       "jti-sin-exp",
			IssuedAt: jwtv5.NewNumericDate(time.Now().UTC()),
		},
		SessionID: "s1",
		Use:       token.UseAccess,
	}
	raw, err := svc.SignFor(ctx, core.PurposeAccess, claims)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifyAccess(ctx, raw); !errors.Is(err, token.ErrMalformed) {
		t.Fatalf("token sin exp debió dar ErrMalformed, obtuvo %v", err)
	}
}

func TestVerify_TamperedSignature(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	raw, _, err := svc.IssueAccess(ctx, "u1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		t.Fatalf("jwt malformado: %q", raw)
	}
	sig := []byte(parts[2])
	sig[0] ^= 0x01
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := svc.VerifyAccess(ctx, tampered); err == nil {
		t.Fatal("firma adulterada debió rechazarse")
	}
}

func TestVerify_SurvivesRotationUntilPrune(t *testing.T) {
	ctx := context.Background()
	svc, ring, _ := newService(t)

	raw, _, err := svc.IssueAccess(ctx, "u1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ring.Rotate(ctx, core.PurposeAccess); err != nil {
		t.Fatal(err)
	}
	// la clave vieja quedó retiring: el token sigue valiendo
	if _, err := svc.VerifyAccess(ctx, raw); err != nil {
		t.Fatalf("token firmado pre-rotación debió verificar: %v", err)
	}

	// purga inmediata: el kid desaparece y el token muere
	if _, err := ring.Prune(ctx, core.PurposeAccess, -time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifyAccess(ctx, raw); !errors.Is(err, token.ErrUnknownKey) {
		t.Fatalf("tras la purga esperado ErrUnknownKey, obtuvo %v", err)
	}
}

func TestVerify_WrongIssuer(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ring := keyring.New(st.SigningKeys())
	if err := ring.EnsureBootstrap(ctx); err != nil {
		t.Fatal(err)
	}
	good := token.NewService(ring, st.Revocations(), token.Config{Issuer: issuer})
	other := token.NewService(ring, st.Revocations(), token.Config{Issuer: "https://otro.test"})

	raw, _, err := other.IssueAccess(ctx, "u1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := good.VerifyAccess(ctx, raw); err == nil {
		t.Fatal("issuer ajeno debió rechazarse")
	}
}
