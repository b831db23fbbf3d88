package token

import (
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Usos de token dentro del claim "use". El verificador rechaza cruces
// (un refresh presentado como access y viceversa).
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// AccessClaims son las claims del access token. Set cerrado: no se aceptan
// claims arbitrarias del caller.
type AccessClaims struct {
	jwtv5.RegisteredClaims
	SessionID string `json:"sid"`
	Use       string `json:"use"`
}

// RefreshClaims son las claims del refresh token. Su jti es además el
// puntero de rotación guardado en la sesión.
type RefreshClaims struct {
	jwtv5.RegisteredClaims
	SessionID string `json:"sid"`
	Use       string `json:"use"`
}
