package middlewares

import (
	"context"

	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyAccessClaims
)

func setRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, rid)
}

// GetRequestID devuelve el request ID inyectado por WithRequestID, o "".
func GetRequestID(ctx context.Context) string {
	rid, _ := ctx.Value(ctxKeyRequestID).(string)
	return rid
}

func setAccessClaims(ctx context.Context, c *token.AccessClaims) context.Context {
	return context.WithValue(ctx, ctxKeyAccessClaims, c)
}

// GetAccessClaims devuelve las claims del access token autenticado, o nil.
func GetAccessClaims(ctx context.Context) *token.AccessClaims {
	c, _ := ctx.Value(ctxKeyAccessClaims).(*token.AccessClaims)
	return c
}

// GetUserID devuelve el sub del access token autenticado, o "".
func GetUserID(ctx context.Context) string {
	if c := GetAccessClaims(ctx); c != nil {
		return c.Subject
	}
	return ""
}
