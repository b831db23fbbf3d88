package oauthstate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/levipshemish/jewgo-app-sub003/internal/cache"
	"github.com/levipshemish/jewgo-app-sub003/internal/keyring"
	"github.com/levipshemish/jewgo-app-sub003/internal/oauthstate"
	"github.com/levipshemish/jewgo-app-sub003/internal/security/secretbox"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/memory"
	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

func TestMain(m *testing.M) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i ^ 0x5A)
	}
	secretbox.SetKeyForTesting(key)
	m.Run()
}

func newStateManager(t *testing.T) *oauthstate.Manager {
	t.Helper()
	st := memory.New()
	ring := keyring.New(st.SigningKeys())
	if err := ring.EnsureBootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	tokens := token.NewService(ring, st.Revocations(), token.Config{Issuer: "https://auth.test"})
	c, err := cache.New(cache.Config{Kind: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	return oauthstate.NewManager(tokens, c, 10*time.Minute)
}

func TestGenerateVerify_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr := newStateManager(t)

	state, nonce, err := mgr.Generate(ctx, "google", "/panel")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if nonce == "" {
		t.Fatal("el nonce en claro debió devolverse para propagarlo al proveedor")
	}

	claims, err := mgr.Verify(ctx, "google", state)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Provider != "google" || claims.ReturnTo != "/panel" {
		t.Fatalf("claims inesperadas: %+v", claims)
	}
	if claims.Nonce != nonce {
		t.Fatalf("el nonce firmado debió coincidir con el devuelto: %s vs %s", claims.Nonce, nonce)
	}
}

func TestVerify_ReplayLosesSecondTime(t *testing.T) {
	ctx := context.Background()
	mgr := newStateManager(t)

	state, _, err := mgr.Generate(ctx, "google", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Verify(ctx, "google", state); err != nil {
		t.Fatalf("primera verificación: %v", err)
	}
	if _, err := mgr.Verify(ctx, "google", state); !errors.Is(err, oauthstate.ErrStateReplayed) {
		t.Fatalf("replay debió dar ErrStateReplayed, obtuvo %v", err)
	}
}

func TestVerify_ProviderMismatch(t *testing.T) {
	ctx := context.Background()
	mgr := newStateManager(t)

	state, _, err := mgr.Generate(ctx, "google", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Verify(ctx, "github", state); !errors.Is(err, oauthstate.ErrStateInvalid) {
		t.Fatalf("provider cruzado debió dar ErrStateInvalid, obtuvo %v", err)
	}
	// el mismatch NO debió quemar el nonce: el provider correcto todavía pasa
	if _, err := mgr.Verify(ctx, "google", state); err != nil {
		t.Fatalf("el state debió seguir vivo tras el mismatch: %v", err)
	}
}

func TestVerify_GarbageAndTamper(t *testing.T) {
	ctx := context.Background()
	mgr := newStateManager(t)

	for _, raw := range []string{"", "basura", "a.b.c"} {
		if _, err := mgr.Verify(ctx, "google", raw); !errors.Is(err, oauthstate.ErrStateInvalid) {
			t.Fatalf("Verify(%q) debió dar ErrStateInvalid, obtuvo %v", raw, err)
		}
	}

	state, _, err := mgr.Generate(ctx, "google", "")
	if err != nil {
		t.Fatal(err)
	}
	tampered := state[:len(state)-4] + "AAAA"
	if _, err := mgr.Verify(ctx, "google", tampered); !errors.Is(err, oauthstate.ErrStateInvalid) {
		t.Fatalf("state adulterado debió dar ErrStateInvalid, obtuvo %v", err)
	}
}
