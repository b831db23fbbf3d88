package keyring_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/levipshemish/jewgo-app-sub003/internal/keyring"
	"github.com/levipshemish/jewgo-app-sub003/internal/security/secretbox"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/memory"
)

func TestMain(m *testing.M) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 3)
	}
	secretbox.SetKeyForTesting(key)
	m.Run()
}

func newRing(t *testing.T) (*keyring.Ring, core.SigningKeyRepository) {
	t.Helper()
	st := memory.New()
	return keyring.New(st.SigningKeys()), st.SigningKeys()
}

func TestEnsureBootstrap_CreatesOneActivePerPurpose(t *testing.T) {
	ctx := context.Background()
	ring, repo := newRing(t)

	if err := ring.EnsureBootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	for _, p := range core.Purposes() {
		k, err := repo.ActiveKey(ctx, p)
		if err != nil {
			t.Fatalf("sin clave activa para %s: %v", p, err)
		}
		if k.Alg != "HS256" {
			t.Fatalf("alg esperado HS256, obtuvo %s", k.Alg)
		}
		// el material persiste sellado, nunca en claro
		if _, err := secretbox.Open(string(k.Secret)); err != nil {
			t.Fatalf("el secreto persistido debió estar sellado: %v", err)
		}
	}

	// segunda pasada: idempotente, no cambia kids
	before, _ := repo.ActiveKey(ctx, core.PurposeAccess)
	if err := ring.EnsureBootstrap(ctx); err != nil {
		t.Fatal(err)
	}
	after, _ := repo.ActiveKey(ctx, core.PurposeAccess)
	if before.KID != after.KID {
		t.Fatalf("bootstrap repetido rotó la clave: %s → %s", before.KID, after.KID)
	}
}

func TestActiveKey_OpensSealedSecret(t *testing.T) {
	ctx := context.Background()
	ring, repo := newRing(t)
	if err := ring.EnsureBootstrap(ctx); err != nil {
		t.Fatal(err)
	}

	k, err := ring.ActiveKey(ctx, core.PurposeAccess)
	if err != nil {
		t.Fatal(err)
	}
	if len(k.Secret) != 32 {
		t.Fatalf("material HS256 esperado de 32 bytes, obtuvo %d", len(k.Secret))
	}
	rec, _ := repo.ActiveKey(ctx, core.PurposeAccess)
	if string(rec.Secret) == string(k.Secret) {
		t.Fatal("el keyring debió abrir el secreto; el repo guarda el sellado")
	}
}

func TestRotate_OldKeyStaysVerifiable(t *testing.T) {
	ctx := context.Background()
	ring, _ := newRing(t)
	if err := ring.EnsureBootstrap(ctx); err != nil {
		t.Fatal(err)
	}

	old, err := ring.ActiveKey(ctx, core.PurposeAccess)
	if err != nil {
		t.Fatal(err)
	}
	newKID, err := ring.Rotate(ctx, core.PurposeAccess)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if newKID == old.KID {
		t.Fatal("la rotación debió generar un kid nuevo")
	}

	active, err := ring.ActiveKey(ctx, core.PurposeAccess)
	if err != nil {
		t.Fatal(err)
	}
	if active.KID != newKID {
		t.Fatalf("active esperada %s, obtuvo %s", newKID, active.KID)
	}

	// la vieja sigue disponible para verificación durante la gracia
	k, err := ring.KeyByKID(ctx, core.PurposeAccess, old.KID)
	if err != nil {
		t.Fatalf("la clave rotada debió seguir verificando: %v", err)
	}
	if k.Status != core.KeyRetiring {
		t.Fatalf("status esperado retiring, obtuvo %s", k.Status)
	}
}

func TestRotate_ConcurrentKeepsSingleActive(t *testing.T) {
	ctx := context.Background()
	ring, repo := newRing(t)
	if err := ring.EnsureBootstrap(ctx); err != nil {
		t.Fatal(err)
	}

	// rotaciones simultáneas (dos deploys solapados corriendo el loop):
	// pase lo que pase queda exactamente una clave activa
	const rotations = 8
	var wg sync.WaitGroup
	wg.Add(rotations)
	for i := 0; i < rotations; i++ {
		go func() {
			defer wg.Done()
			if _, err := ring.Rotate(ctx, core.PurposeAccess); err != nil {
				t.Errorf("rotate concurrente: %v", err)
			}
		}()
	}
	wg.Wait()

	keys, err := repo.VerificationKeys(ctx, core.PurposeAccess)
	if err != nil {
		t.Fatal(err)
	}
	actives := 0
	for _, k := range keys {
		if k.Status == core.KeyActive {
			actives++
		}
	}
	if actives != 1 {
		t.Fatalf("esperada exactamente 1 clave activa, obtuvo %d", actives)
	}
	if _, err := repo.ActiveKey(ctx, core.PurposeAccess); err != nil {
		t.Fatalf("active tras rotaciones concurrentes: %v", err)
	}
}

func TestKeyByKID_UnknownKid(t *testing.T) {
	ctx := context.Background()
	ring, _ := newRing(t)
	if err := ring.EnsureBootstrap(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := ring.KeyByKID(ctx, core.PurposeAccess, "no-existe"); err != keyring.ErrUnknownKID {
		t.Fatalf("esperado ErrUnknownKID, obtuvo %v", err)
	}
	// el kid de otro propósito tampoco sirve
	st, err := ring.ActiveKey(ctx, core.PurposeState)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ring.KeyByKID(ctx, core.PurposeAccess, st.KID); err != keyring.ErrUnknownKID {
		t.Fatalf("kid de otro propósito debió rechazarse, obtuvo %v", err)
	}
}

func TestPrune_RemovesExpiredRetiring(t *testing.T) {
	ctx := context.Background()
	ring, _ := newRing(t)
	if err := ring.EnsureBootstrap(ctx); err != nil {
		t.Fatal(err)
	}
	old, _ := ring.ActiveKey(ctx, core.PurposeAccess)
	if _, err := ring.Rotate(ctx, core.PurposeAccess); err != nil {
		t.Fatal(err)
	}

	// gracia larga: nada que purgar
	n, err := ring.Prune(ctx, core.PurposeAccess, 24*time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("con gracia vigente no debió purgar: n=%d err=%v", n, err)
	}

	// gracia negativa fuerza el cutoff al futuro: la retiring cae
	n, err = ring.Prune(ctx, core.PurposeAccess, -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("debió purgar 1 clave, purgó %d", n)
	}
	if _, err := ring.KeyByKID(ctx, core.PurposeAccess, old.KID); err != keyring.ErrUnknownKID {
		t.Fatalf("la clave purgada no debió verificar más, obtuvo %v", err)
	}
}
