package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	httpserver "github.com/levipshemish/jewgo-app-sub003/internal/http"
	"github.com/levipshemish/jewgo-app-sub003/internal/http/handlers"
	"github.com/levipshemish/jewgo-app-sub003/internal/keyring"
	"github.com/levipshemish/jewgo-app-sub003/internal/magiclink"
	"github.com/levipshemish/jewgo-app-sub003/internal/security/secretbox"
	"github.com/levipshemish/jewgo-app-sub003/internal/session"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/memory"
	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

func TestMain(m *testing.M) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 5)
	}
	secretbox.SetKeyForTesting(key)
	m.Run()
}

type nullSender struct{}

func (nullSender) Send(to, subject, htmlBody, textBody string) error { return nil }

// newTestServer levanta el router completo sobre el store en memoria, con
// magic links en modo debug para poder loguearse sin SMTP real.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := memory.New()
	ring := keyring.New(st.SigningKeys())
	require.NoError(t, ring.EnsureBootstrap(context.Background()))

	tokens := token.NewService(ring, st.Revocations(), token.Config{
		Issuer:     "https://auth.test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 720 * time.Hour,
	})
	sessions := session.NewManager(st.Sessions(), st.Revocations(), tokens, 720*time.Hour)
	links := magiclink.NewService(tokens, st.MagicLinks(), st.Users(), sessions, nullSender{},
		magiclink.Config{TTL: 20 * time.Minute, BaseURL: "https://app.test/magic", DebugEchoLinks: true})

	router := httpserver.NewRouter(httpserver.RouterDeps{
		System:       &handlers.System{},
		OAuth:        &handlers.OAuth{},
		MagicLink:    &handlers.MagicLink{Service: links},
		Tokens:       &handlers.Tokens{Sessions: sessions, TokenService: tokens},
		Sessions:     &handlers.Sessions{Manager: sessions},
		TokenService: tokens,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any, mutate func(*http.Request)) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

// login recorre el flujo magic link completo y devuelve el par de tokens.
func login(t *testing.T, srv *httptest.Server, email string) (access, refresh, sessionID string) {
	t.Helper()
	resp := postJSON(t, srv, "/v1/auth/magiclink/send",
		map[string]string{"email": email}, withCSRF(t, srv))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var sent struct {
		DebugLink string `json:"debug_link"`
	}
	decode(t, resp, &sent)
	require.NotEmpty(t, sent.DebugLink, "modo debug debió devolver el enlace")
	u, err := url.Parse(sent.DebugLink)
	require.NoError(t, err)

	// el clic del correo: GET con token y email en la query
	consume := srv.URL + "/v1/auth/magiclink/consume?" + u.RawQuery
	resp, err = srv.Client().Get(consume)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pair struct {
		SessionID    string `json:"session_id"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	decode(t, resp, &pair)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	return pair.AccessToken, pair.RefreshToken, pair.SessionID
}

// withCSRF obtiene un token de /csrf y arma el double-submit.
func withCSRF(t *testing.T, srv *httptest.Server) func(*http.Request) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + "/csrf")
	require.NoError(t, err)
	resp.Body.Close()
	var csrf *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == "csrf_token" {
			csrf = ck
		}
	}
	require.NotNil(t, csrf, "/csrf no dejó cookie")
	return func(req *http.Request) {
		req.AddCookie(csrf)
		req.Header.Set("X-CSRF-Token", csrf.Value)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNotFound_JSONEnvelope(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/no-existe")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body struct {
		Code string `json:"code"`
	}
	decode(t, resp, &body)
	require.Equal(t, "NOT_FOUND", body.Code)
}

func TestCSRF_RequiredForCookieFlows(t *testing.T) {
	srv := newTestServer(t)

	// sin double-submit: 403
	resp := postJSON(t, srv, "/v1/auth/magiclink/send",
		map[string]string{"email": "x@example.com"}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body struct {
		Code string `json:"code"`
	}
	decode(t, resp, &body)
	require.Equal(t, "INVALID_CSRF_TOKEN", body.Code)

	// con Bearer el check se saltea (no es flujo de cookies): pasa a auth real
	resp = postJSON(t, srv, "/v1/auth/logout", map[string]string{}, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer basura")
	})
	require.NotEqual(t, http.StatusForbidden, resp.StatusCode, "con Bearer el CSRF no debió aplicar")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMagicLinkLoginFlow(t *testing.T) {
	srv := newTestServer(t)
	access, _, sessionID := login(t, srv, "ana@example.com")

	// el access sirve para listar sesiones
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/sessions/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Sessions []struct {
			ID      string `json:"id"`
			Current bool   `json:"current"`
		} `json:"sessions"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Sessions, 1)
	require.Equal(t, sessionID, body.Sessions[0].ID)
	require.True(t, body.Sessions[0].Current)
}

func TestRefresh_RotatesAndBurnsOldToken(t *testing.T) {
	srv := newTestServer(t)
	_, refresh, _ := login(t, srv, "b@example.com")

	resp := postJSON(t, srv, "/v1/auth/refresh",
		map[string]string{"refresh_token": refresh}, withCSRF(t, srv))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rotated struct {
		RefreshToken string `json:"refresh_token"`
	}
	decode(t, resp, &rotated)
	require.NotEqual(t, refresh, rotated.RefreshToken, "el refresh debió rotar")

	// reusar el viejo quema la sesión entera; para afuera es el mismo 401
	// genérico que cualquier otro rechazo, sin pista de qué falló
	resp = postJSON(t, srv, "/v1/auth/refresh",
		map[string]string{"refresh_token": refresh}, withCSRF(t, srv))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body struct {
		Code string `json:"code"`
	}
	decode(t, resp, &body)
	require.Equal(t, "UNAUTHORIZED", body.Code)

	// y el refresh "vigente" también murió con ella
	resp = postJSON(t, srv, "/v1/auth/refresh",
		map[string]string{"refresh_token": rotated.RefreshToken}, withCSRF(t, srv))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogout_RevokesAccessImmediately(t *testing.T) {
	srv := newTestServer(t)
	access, _, _ := login(t, srv, "c@example.com")

	resp := postJSON(t, srv, "/v1/auth/logout", map[string]string{}, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+access)
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// el mismo access ya no entra
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/sessions/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+access)
	again, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer again.Body.Close()
	require.Equal(t, http.StatusUnauthorized, again.StatusCode)
}

func TestOAuthStart_NotConfiguredVsUnknown(t *testing.T) {
	srv := newTestServer(t) // sin providers cableados

	resp, err := srv.Client().Get(srv.URL + "/v1/auth/oauth/google/start")
	require.NoError(t, err)
	defer resp.Body.Close()
	// conocido pero sin credenciales: defecto de despliegue, no un 404
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp2, err := srv.Client().Get(srv.URL + "/v1/auth/oauth/desconocido/start")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestSessionsRevoke_ForeignSessionLooksNonexistent(t *testing.T) {
	srv := newTestServer(t)
	accessA, _, _ := login(t, srv, "duena@example.com")
	_, _, sessB := login(t, srv, "otro@example.com")

	resp := postJSON(t, srv, "/v1/sessions/revoke",
		map[string]string{"session_id": sessB}, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+accessA)
		})
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "sesión ajena debe verse como inexistente")
}
