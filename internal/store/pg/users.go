package pg

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
)

type userRepo struct {
	pool *pgxpool.Pool
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	const q = `SELECT id, email, created_at FROM users WHERE email = $1`
	var u core.User
	err := r.pool.QueryRow(ctx, q, normalizeEmail(email)).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetOrCreateByEmail es un upsert: dos requests concurrentes con el mismo
// email terminan con la misma fila.
func (r *userRepo) GetOrCreateByEmail(ctx context.Context, email string) (*core.User, error) {
	const q = `
INSERT INTO users (id, email, created_at)
VALUES ($1, $2, now())
ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
RETURNING id, email, created_at`
	var u core.User
	err := r.pool.QueryRow(ctx, q, uuid.NewString(), normalizeEmail(email)).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
