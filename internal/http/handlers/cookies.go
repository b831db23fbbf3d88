package handlers

import (
	"net/http"
	"time"

	"github.com/levipshemish/jewgo-app-sub003/internal/session"
)

const refreshCookieName = "refresh_token"

// setRefreshCookie deja el refresh token en una cookie httpOnly acotada al
// path de auth, para clientes browser. Los clientes API usan el JSON.
func setRefreshCookie(w http.ResponseWriter, pair *session.TokenPair, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/v1/auth",
		Expires:  pair.RefreshExpiresAt,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearRefreshCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/v1/auth",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// tokenPairResponse es el shape JSON que devuelven login, callback y refresh.
type tokenPairResponse struct {
	SessionID        string `json:"session_id"`
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	ReturnTo         string `json:"return_to,omitempty"`
}

func newTokenPairResponse(pair *session.TokenPair, returnTo string) tokenPairResponse {
	now := time.Now()
	return tokenPairResponse{
		SessionID:        pair.SessionID,
		AccessToken:      pair.AccessToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(pair.AccessExpiresAt.Sub(now).Seconds()),
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresIn: int64(pair.RefreshExpiresAt.Sub(now).Seconds()),
		ReturnTo:         returnTo,
	}
}
