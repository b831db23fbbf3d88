package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
)

type magicLinkRepo struct {
	pool *pgxpool.Pool
}

func (r *magicLinkRepo) Create(ctx context.Context, rec *core.MagicLinkRecord) error {
	const q = `
INSERT INTO magic_link_tokens (token_id, email, return_to, issued_at, expires_at)
VALUES ($1, $2, NULLIF($3,''), $4, $5)`
	_, err := r.pool.Exec(ctx, q, rec.TokenID, rec.Email, rec.ReturnTo, rec.IssuedAt, rec.ExpiresAt)
	return err
}

func (r *magicLinkRepo) Get(ctx context.Context, tokenID string) (*core.MagicLinkRecord, error) {
	const q = `
SELECT token_id, email, COALESCE(return_to,''), issued_at, expires_at, consumed_at
FROM magic_link_tokens
WHERE token_id = $1`
	var rec core.MagicLinkRecord
	err := r.pool.QueryRow(ctx, q, tokenID).Scan(
		&rec.TokenID, &rec.Email, &rec.ReturnTo, &rec.IssuedAt, &rec.ExpiresAt, &rec.ConsumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Consume: un único UPDATE condicional. El check-and-set atómico es lo que
// garantiza que dos requests concurrentes con el mismo link no pasen los dos.
func (r *magicLinkRepo) Consume(ctx context.Context, tokenID string, at time.Time) error {
	const q = `
UPDATE magic_link_tokens
SET consumed_at = $2
WHERE token_id = $1 AND consumed_at IS NULL AND expires_at > $2
RETURNING token_id`
	var id string
	err := r.pool.QueryRow(ctx, q, tokenID, at).Scan(&id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	// Perdimos el UPDATE: distinguir por qué.
	rec, gerr := r.Get(ctx, tokenID)
	if gerr != nil {
		return gerr
	}
	if rec.ConsumedAt != nil {
		return core.ErrAlreadyConsumed
	}
	return core.ErrExpired
}

func (r *magicLinkRepo) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM magic_link_tokens WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
