package token

import "errors"

// Errores de verificación, ordenados de más a menos "roto". Los handlers
// los mapean a respuestas HTTP sin filtrar detalle criptográfico.
var (
	ErrMalformed        = errors.New("token_malformed")
	ErrUnknownKey       = errors.New("token_unknown_kid")
	ErrSignatureInvalid = errors.New("token_signature_invalid")
	ErrExpired          = errors.New("token_expired")
	ErrNotYetValid      = errors.New("token_not_yet_valid")
	ErrWrongUse         = errors.New("token_wrong_use")
	ErrRevoked          = errors.New("token_revoked")
)
