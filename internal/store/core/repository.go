package core

import (
	"context"
	"time"
)

// SigningKeyRepository persiste el ciclo de vida de claves de firma.
// Todas las mutaciones de estado van por acá; el keyring sólo cachea lecturas.
type SigningKeyRepository interface {
	// ActiveKey retorna la clave active para un propósito, o ErrNotFound.
	ActiveKey(ctx context.Context, purpose KeyPurpose) (*SigningKey, error)

	// VerificationKeys retorna active + retiring, la active primero y luego
	// las retiring de más nueva a más vieja.
	VerificationKeys(ctx context.Context, purpose KeyPurpose) ([]SigningKey, error)

	// Insert agrega una clave (bootstrap de un propósito sin clave activa).
	Insert(ctx context.Context, k *SigningKey) error

	// Rotate instala newKey como active y pasa la active anterior a retiring,
	// en una transacción serializada por un advisory lock por propósito.
	// Retorna la clave previa (nil si no había).
	Rotate(ctx context.Context, newKey *SigningKey) (*SigningKey, error)

	// Prune pasa a retired las claves retiring rotadas antes de cutoff y
	// BORRA las filas retired (el material no sobrevive, sólo se loguea el kid).
	// Retorna cuántas claves fueron purgadas.
	Prune(ctx context.Context, purpose KeyPurpose, cutoff time.Time) (int, error)
}

// RevocationRepository es la lista compartida de jtis revocados.
type RevocationRepository interface {
	// Add registra el jti hasta expiresAt. Re-agregar un jti ya revocado es
	// no-op exitoso.
	Add(ctx context.Context, jti string, expiresAt time.Time) error

	// Contains reporta si el jti está revocado y todavía no venció.
	// Lee siempre el store compartido: es el punto de enforcement de
	// "cerrar sesión en todos lados".
	Contains(ctx context.Context, jti string) (bool, error)

	// DeleteExpired limpia entradas vencidas. Se llama oportunísticamente
	// y desde el sweep periódico.
	DeleteExpired(ctx context.Context) (int, error)
}

// SessionRepository persiste sesiones lógicas por dispositivo.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	GetByRefreshJTI(ctx context.Context, jti string) (*Session, error)

	// SwapRefreshJTI reemplaza el refresh jti de la sesión sólo si el actual
	// sigue siendo oldJTI (compare-and-set contra carreras de refresh).
	// Actualiza last_seen y corre expires_at. Retorna ErrConflict si perdió.
	SwapRefreshJTI(ctx context.Context, sessionID, oldJTI, newJTI string, lastSeen, expiresAt time.Time) error

	// Touch actualiza last_seen (best effort, tolera eventual consistency).
	Touch(ctx context.Context, sessionID string, lastSeen time.Time) error

	// Revoke marca la sesión como revocada y retorna su estado final
	// (el caller necesita el refresh jti para revocarlo también).
	Revoke(ctx context.Context, sessionID string) (*Session, error)

	// RevokeAllByUser revoca todas las sesiones vivas del usuario y las
	// retorna para que el caller revoque sus refresh jtis.
	RevokeAllByUser(ctx context.Context, userID string) ([]Session, error)

	// ListByUser retorna las sesiones no revocadas ni vencidas del usuario.
	ListByUser(ctx context.Context, userID string) ([]Session, error)

	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// MagicLinkRepository persiste links de un solo uso.
type MagicLinkRepository interface {
	Create(ctx context.Context, rec *MagicLinkRecord) error
	Get(ctx context.Context, tokenID string) (*MagicLinkRecord, error)

	// Consume marca el link como consumido en un único UPDATE condicional:
	// sólo si consumed_at IS NULL y no venció. Dos requests concurrentes con
	// el mismo link ⇒ exactamente uno gana, el resto recibe ErrAlreadyConsumed.
	Consume(ctx context.Context, tokenID string, at time.Time) error

	DeleteExpired(ctx context.Context) (int, error)
}

// UserRepository es la vista mínima de usuarios que el post-auth necesita.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetOrCreateByEmail crea el usuario si no existe (flujo magic link /
	// OAuth callback). Tiene que ser seguro ante inserts concurrentes.
	GetOrCreateByEmail(ctx context.Context, email string) (*User, error)
}

// Store agrupa los repositorios sobre un mismo backend.
type Store interface {
	SigningKeys() SigningKeyRepository
	Revocations() RevocationRepository
	Sessions() SessionRepository
	MagicLinks() MagicLinkRepository
	Users() UserRepository

	Ping(ctx context.Context) error
	Close()
}
