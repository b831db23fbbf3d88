package magiclink_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/levipshemish/jewgo-app-sub003/internal/keyring"
	"github.com/levipshemish/jewgo-app-sub003/internal/magiclink"
	"github.com/levipshemish/jewgo-app-sub003/internal/security/secretbox"
	"github.com/levipshemish/jewgo-app-sub003/internal/session"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/memory"
	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

func TestMain(m *testing.M) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 100)
	}
	secretbox.SetKeyForTesting(key)
	m.Run()
}

// fakeSender captura el último correo enviado; failWith simula SMTP caído.
type fakeSender struct {
	to, subject, html, text string
	sent                    int
	failWith                error
}

func (f *fakeSender) Send(to, subject, htmlBody, textBody string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.to, f.subject, f.html, f.text = to, subject, htmlBody, textBody
	f.sent++
	return nil
}

func newService(t *testing.T, sender *fakeSender) (*magiclink.Service, *token.Service, core.Store) {
	t.Helper()
	st := memory.New()
	ring := keyring.New(st.SigningKeys())
	if err := ring.EnsureBootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	tokens := token.NewService(ring, st.Revocations(), token.Config{Issuer: "https://auth.test"})
	sessions := session.NewManager(st.Sessions(), st.Revocations(), tokens, 720*time.Hour)
	svc := magiclink.NewService(tokens, st.MagicLinks(), st.Users(), sessions, sender, magiclink.Config{
		TTL:            20 * time.Minute,
		BaseURL:        "https://app.test/auth/magic",
		DebugEchoLinks: true,
	})
	return svc, tokens, st
}

// tokenFromLink extrae el JWT del enlace generado.
func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("link inválido %q: %v", link, err)
	}
	raw := u.Query().Get("token")
	if raw == "" {
		t.Fatalf("link sin token: %q", link)
	}
	return raw
}

func TestSendConsume_OpensSession(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	svc, tokens, _ := newService(t, sender)

	link, err := svc.Send(ctx, "Ana@Example.com", "/panel")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sender.sent != 1 || sender.to != "ana@example.com" {
		t.Fatalf("correo esperado a ana@example.com: %+v", sender)
	}
	if !strings.Contains(sender.html, "https://app.test/auth/magic?token=") {
		t.Fatalf("el cuerpo debió llevar el enlace: %q", sender.html)
	}

	pair, returnTo, err := svc.Consume(ctx, tokenFromLink(t, link), "ana@example.com", "phone")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if returnTo != "/panel" {
		t.Fatalf("return_to esperado /panel, obtuvo %q", returnTo)
	}
	claims, err := tokens.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("el access emitido debió verificar: %v", err)
	}
	if claims.SessionID != pair.SessionID {
		t.Fatalf("sesión inconsistente: %s vs %s", claims.SessionID, pair.SessionID)
	}
}

func TestConsume_SecondClickLoses(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, &fakeSender{})

	link, err := svc.Send(ctx, "b@example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	raw := tokenFromLink(t, link)
	if _, _, err := svc.Consume(ctx, raw, "b@example.com", ""); err != nil {
		t.Fatalf("primer clic: %v", err)
	}
	if _, _, err := svc.Consume(ctx, raw, "b@example.com", ""); !errors.Is(err, magiclink.ErrLinkConsumed) {
		t.Fatalf("segundo clic debió dar ErrLinkConsumed, obtuvo %v", err)
	}
}

func TestConsume_EmailMismatchDoesNotBurnLink(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, &fakeSender{})

	link, err := svc.Send(ctx, "legit@example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	raw := tokenFromLink(t, link)

	// un email ajeno no consume: el enlace sigue vivo para el dueño
	if _, _, err := svc.Consume(ctx, raw, "atacante@example.com", ""); !errors.Is(err, magiclink.ErrLinkInvalid) {
		t.Fatalf("email ajeno debió dar ErrLinkInvalid, obtuvo %v", err)
	}
	if _, _, err := svc.Consume(ctx, raw, "legit@example.com", ""); err != nil {
		t.Fatalf("el dueño debió poder consumir después del intento ajeno: %v", err)
	}
}

func TestConsume_RejectsGarbage(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, &fakeSender{})

	if _, _, err := svc.Consume(ctx, "no-es-un-jwt", "x@example.com", ""); !errors.Is(err, magiclink.ErrLinkInvalid) {
		t.Fatalf("esperado ErrLinkInvalid, obtuvo %v", err)
	}
}

func TestConsume_RowConsumedOutOfBand(t *testing.T) {
	ctx := context.Background()
	svc, _, st := newService(t, &fakeSender{})

	link, err := svc.Send(ctx, "c@example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	raw := tokenFromLink(t, link)

	// quemar la fila por fuera (otro proceso ganó la carrera): firma válida
	// pero la fila ya está consumida
	if err := st.MagicLinks().Consume(ctx, jtiOf(t, raw), time.Now().UTC()); err != nil {
		t.Fatalf("preconsumo: %v", err)
	}
	if _, _, err := svc.Consume(ctx, raw, "c@example.com", ""); !errors.Is(err, magiclink.ErrLinkConsumed) {
		t.Fatalf("fila ya consumida debió dar ErrLinkConsumed, obtuvo %v", err)
	}
}

// jtiOf extrae el jti del JWT sin verificar firma (solo para armar el caso).
func jtiOf(t *testing.T, raw string) string {
	t.Helper()
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		t.Fatal("jwt malformado")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	var claims struct {
		JTI string `json:"jti"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		t.Fatal(err)
	}
	if claims.JTI == "" {
		t.Fatalf("sin jti en %s", payload)
	}
	return claims.JTI
}

func TestSend_InvalidEmail(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, &fakeSender{})
	for _, in := range []string{"", "sin-arroba", "a@b@c", "Nombre <x@y.com>"} {
		if _, err := svc.Send(ctx, in, ""); !errors.Is(err, magiclink.ErrEmailInvalid) {
			t.Fatalf("Send(%q) debió dar ErrEmailInvalid, obtuvo %v", in, err)
		}
	}
}

func TestSend_SMTPFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{failWith: errors.New("smtp caído")}
	svc, _, _ := newService(t, sender)

	if _, err := svc.Send(ctx, "d@example.com", ""); err == nil {
		t.Fatal("fallo de SMTP debió propagarse")
	}
}
