package pg

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
)

type signingKeyRepo struct {
	pool *pgxpool.Pool
}

// advisoryLockID deriva un lock id estable por propósito.
// Serializa rotaciones del mismo ring entre procesos (deploy overlap).
func advisoryLockID(purpose core.KeyPurpose) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("signing_keys:" + string(purpose)))
	return int64(h.Sum64())
}

func (r *signingKeyRepo) ActiveKey(ctx context.Context, purpose core.KeyPurpose) (*core.SigningKey, error) {
	const q = `
SELECT kid, purpose, alg, secret, status, created_at, rotated_at
FROM signing_keys
WHERE purpose = $1 AND status = 'active'
ORDER BY created_at DESC
LIMIT 1`
	row := r.pool.QueryRow(ctx, q, purpose)
	return scanKey(row)
}

func (r *signingKeyRepo) VerificationKeys(ctx context.Context, purpose core.KeyPurpose) ([]core.SigningKey, error) {
	// active primero, luego retiring por recencia de rotación
	const q = `
SELECT kid, purpose, alg, secret, status, created_at, rotated_at
FROM signing_keys
WHERE purpose = $1 AND status IN ('active','retiring')
ORDER BY (status = 'active') DESC, rotated_at DESC NULLS FIRST, created_at DESC`
	rows, err := r.pool.Query(ctx, q, purpose)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.SigningKey
	for rows.Next() {
		var k core.SigningKey
		var rotatedAt *time.Time
		if err := rows.Scan(&k.KID, &k.Purpose, &k.Alg, &k.Secret, &k.Status, &k.CreatedAt, &rotatedAt); err != nil {
			return nil, err
		}
		k.RotatedAt = rotatedAt
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *signingKeyRepo) Insert(ctx context.Context, k *core.SigningKey) error {
	const q = `
INSERT INTO signing_keys (kid, purpose, alg, secret, status, created_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))`
	_, err := r.pool.Exec(ctx, q, k.KID, k.Purpose, k.Alg, k.Secret, k.Status, nullTime(k.CreatedAt))
	return err
}

// Rotate: nueva clave ACTIVE, la anterior pasa a RETIRING, todo en una tx
// serializada por pg_advisory_xact_lock. El índice único parcial sobre
// (purpose) WHERE status='active' respalda la invariante de una sola activa.
func (r *signingKeyRepo) Rotate(ctx context.Context, newKey *core.SigningKey) (*core.SigningKey, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockID(newKey.Purpose)); err != nil {
		return nil, err
	}

	var prev *core.SigningKey
	{
		const q = `
SELECT kid, purpose, alg, secret, status, created_at, rotated_at
FROM signing_keys
WHERE purpose = $1 AND status = 'active'
ORDER BY created_at DESC
LIMIT 1`
		row := tx.QueryRow(ctx, q, newKey.Purpose)
		k, err := scanKey(row)
		if err == nil {
			prev = k
		} else if !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
	}

	// Marcar la anterior como retiring PRIMERO (evita violar el índice único)
	if prev != nil {
		const q = `UPDATE signing_keys SET status='retiring', rotated_at=now() WHERE kid=$1 AND status='active'`
		if _, err := tx.Exec(ctx, q, prev.KID); err != nil {
			return nil, err
		}
	}

	{
		const q = `
INSERT INTO signing_keys (kid, purpose, alg, secret, status, created_at)
VALUES ($1, $2, $3, $4, 'active', now())`
		if _, err := tx.Exec(ctx, q, newKey.KID, newKey.Purpose, newKey.Alg, newKey.Secret); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return prev, nil
}

// Prune: retiring rotadas antes de cutoff pasan a retired y las retired se
// BORRAN. El DELETE es requisito de seguridad: el material no queda flaggeado,
// desaparece.
func (r *signingKeyRepo) Prune(ctx context.Context, purpose core.KeyPurpose, cutoff time.Time) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockID(purpose)); err != nil {
		return 0, err
	}

	const retire = `
UPDATE signing_keys
SET status = 'retired'
WHERE purpose = $1
  AND status = 'retiring'
  AND rotated_at IS NOT NULL
  AND rotated_at < $2`
	if _, err := tx.Exec(ctx, retire, purpose, cutoff); err != nil {
		return 0, err
	}

	const purge = `DELETE FROM signing_keys WHERE purpose = $1 AND status = 'retired'`
	tag, err := tx.Exec(ctx, purge, purpose)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanKey(row pgx.Row) (*core.SigningKey, error) {
	var k core.SigningKey
	var rotatedAt *time.Time
	if err := row.Scan(&k.KID, &k.Purpose, &k.Alg, &k.Secret, &k.Status, &k.CreatedAt, &rotatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	k.RotatedAt = rotatedAt
	return &k, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
