package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type revocationRepo struct {
	pool *pgxpool.Pool
}

// Add es idempotente: ON CONFLICT DO NOTHING. De paso barre vencidas para que
// la tabla no crezca sin límite aun sin sweep periódico.
func (r *revocationRepo) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	const q = `
INSERT INTO revocations (jti, revoked_at, expires_at)
VALUES ($1, now(), $2)
ON CONFLICT (jti) DO NOTHING`
	if _, err := r.pool.Exec(ctx, q, jti, expiresAt); err != nil {
		return err
	}
	// barrido oportunista; errores acá no afectan la revocación ya hecha
	_, _ = r.pool.Exec(ctx, `DELETE FROM revocations WHERE expires_at < now()`)
	return nil
}

// Contains consulta directo el store compartido. Una entrada pasada de
// expires_at nunca cuenta como revocada aunque el sweep todavía no la borró.
func (r *revocationRepo) Contains(ctx context.Context, jti string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM revocations WHERE jti = $1 AND expires_at >= now())`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, jti).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *revocationRepo) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM revocations WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
