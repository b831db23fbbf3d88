package core

import "errors"

var (
	// ErrNotFound: el registro no existe.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyConsumed: el magic link ya fue consumido una vez.
	ErrAlreadyConsumed = errors.New("store: already consumed")

	// ErrExpired: el registro existe pero ya venció.
	ErrExpired = errors.New("store: expired")

	// ErrConflict: una actualización condicional no aplicó (carrera perdida).
	ErrConflict = errors.New("store: conflict")
)
