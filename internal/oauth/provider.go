// Package oauth define el contrato que implementan los proveedores de
// identidad externos.
package oauth

import "context"

// Identity es lo único que el resto del servicio necesita del proveedor.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Provider es un proveedor OAuth/OIDC upstream.
type Provider interface {
	Name() string
	// AuthURL construye la URL de autorización con el state firmado y el
	// nonce que después se valida contra el id_token.
	AuthURL(ctx context.Context, state, nonce string) (string, error)
	// Exchange canjea el authorization code y devuelve la identidad
	// verificada del usuario.
	Exchange(ctx context.Context, code, expectedNonce string) (*Identity, error)
}

// Supported enumera los proveedores que el servicio sabe hablar, estén o no
// configurados en este despliegue. Distingue "falta configurar" de "no existe".
var Supported = map[string]bool{
	"google": true,
}

// Registry resuelve providers habilitados por nombre.
type Registry map[string]Provider

func (r Registry) Get(name string) (Provider, bool) {
	p, ok := r[name]
	return p, ok
}
