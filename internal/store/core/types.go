package core

import "time"

// KeyPurpose identifica para qué superficie firma una clave.
// El ring ACCESS firma tanto access como refresh tokens.
type KeyPurpose string

const (
	PurposeAccess    KeyPurpose = "access"
	PurposeState     KeyPurpose = "state"
	PurposeMagicLink KeyPurpose = "magic_link"
)

// Purposes lista todos los propósitos conocidos.
func Purposes() []KeyPurpose {
	return []KeyPurpose{PurposeAccess, PurposeState, PurposeMagicLink}
}

// Valid reporta si el propósito es uno de los conocidos.
func (p KeyPurpose) Valid() bool {
	switch p {
	case PurposeAccess, PurposeState, PurposeMagicLink:
		return true
	}
	return false
}

// KeyStatus es el estado de ciclo de vida de una clave de firma.
// Transiciones válidas: active → retiring → retired. Nunca hacia atrás.
type KeyStatus string

const (
	KeyActive   KeyStatus = "active"
	KeyRetiring KeyStatus = "retiring"
	KeyRetired  KeyStatus = "retired"
)

// SigningKey es una clave HMAC de firma con su estado de rotación.
// Secret viaja sellado (secretbox) hacia/desde el store; el keyring
// es el único que lo abre.
type SigningKey struct {
	KID       string
	Purpose   KeyPurpose
	Alg       string // "HS256"
	Secret    []byte
	Status    KeyStatus
	CreatedAt time.Time
	RotatedAt *time.Time // momento en que dejó de ser active
}

// Session es una sesión lógica de usuario (un dispositivo).
type Session struct {
	ID          string
	UserID      string
	DeviceLabel string
	RefreshJTI  string
	CreatedAt   time.Time
	LastSeenAt  time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

// Revoked reporta si la sesión fue revocada explícitamente.
func (s *Session) Revoked() bool { return s.RevokedAt != nil }

// Expired reporta si la sesión venció por inactividad.
func (s *Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// RevocationEntry marca un jti como revocado hasta su expiración natural.
type RevocationEntry struct {
	JTI       string
	RevokedAt time.Time
	ExpiresAt time.Time
}

// MagicLinkRecord es el registro durable de un link de un solo uso.
type MagicLinkRecord struct {
	TokenID    string
	Email      string
	ReturnTo   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// User es el registro mínimo de usuario que este subsistema necesita.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}
