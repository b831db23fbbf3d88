package oauthstate

import (
	"context"
	"time"

	"github.com/levipshemish/jewgo-app-sub003/internal/cache"
)

// NonceCache marca nonces como usados con semántica first-wins sobre el
// cache compartido (SetNX). Con backend redis la exclusión vale entre
// réplicas; con backend memory, dentro del proceso.
type NonceCache struct {
	c cache.Client
}

func NewNonceCache(c cache.Client) *NonceCache {
	return &NonceCache{c: c}
}

// Consume intenta marcar el nonce. Devuelve true solo para el primer caller.
func (n *NonceCache) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return n.c.SetNX(ctx, "oauth:nonce:"+nonce, "1", ttl)
}
