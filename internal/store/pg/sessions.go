package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
)

type sessionRepo struct {
	pool *pgxpool.Pool
}

const sessionCols = `id, user_id, device_label, refresh_jti, created_at, last_seen_at, expires_at, revoked_at`

func (r *sessionRepo) Create(ctx context.Context, s *core.Session) error {
	const q = `
INSERT INTO sessions (id, user_id, device_label, refresh_jti, created_at, last_seen_at, expires_at)
VALUES ($1, $2, NULLIF($3,''), $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, q, s.ID, s.UserID, s.DeviceLabel, s.RefreshJTI, s.CreatedAt, s.LastSeenAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	q := `SELECT ` + sessionCols + ` FROM sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, q, sessionID))
}

func (r *sessionRepo) GetByRefreshJTI(ctx context.Context, jti string) (*core.Session, error) {
	q := `SELECT ` + sessionCols + ` FROM sessions WHERE refresh_jti = $1`
	return scanSession(r.pool.QueryRow(ctx, q, jti))
}

// SwapRefreshJTI: compare-and-set contra carreras de refresh. Si otro proceso
// ya rotó, el WHERE no matchea y devolvemos ErrConflict.
func (r *sessionRepo) SwapRefreshJTI(ctx context.Context, sessionID, oldJTI, newJTI string, lastSeen, expiresAt time.Time) error {
	const q = `
UPDATE sessions
SET refresh_jti = $1, last_seen_at = $2, expires_at = $3
WHERE id = $4 AND refresh_jti = $5 AND revoked_at IS NULL`
	tag, err := r.pool.Exec(ctx, q, newJTI, lastSeen, expiresAt, sessionID, oldJTI)
	if err != nil {
		return fmt.Errorf("swap refresh jti: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrConflict
	}
	return nil
}

func (r *sessionRepo) Touch(ctx context.Context, sessionID string, lastSeen time.Time) error {
	const q = `UPDATE sessions SET last_seen_at = $1 WHERE id = $2 AND revoked_at IS NULL`
	_, err := r.pool.Exec(ctx, q, lastSeen, sessionID)
	return err
}

func (r *sessionRepo) Revoke(ctx context.Context, sessionID string) (*core.Session, error) {
	q := `
UPDATE sessions
SET revoked_at = now()
WHERE id = $1 AND revoked_at IS NULL
RETURNING ` + sessionCols
	s, err := scanSession(r.pool.QueryRow(ctx, q, sessionID))
	if errors.Is(err, core.ErrNotFound) {
		// ya revocada o inexistente: distinguir para idempotencia del logout
		existing, gerr := r.Get(ctx, sessionID)
		if gerr != nil {
			return nil, gerr
		}
		return existing, nil
	}
	return s, err
}

func (r *sessionRepo) RevokeAllByUser(ctx context.Context, userID string) ([]core.Session, error) {
	q := `
UPDATE sessions
SET revoked_at = now()
WHERE user_id = $1 AND revoked_at IS NULL
RETURNING ` + sessionCols
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("revoke all sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID string) ([]core.Session, error) {
	q := `
SELECT ` + sessionCols + `
FROM sessions
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > now()
ORDER BY last_seen_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *sessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*core.Session, error) {
	var s core.Session
	var deviceLabel *string
	if err := row.Scan(&s.ID, &s.UserID, &deviceLabel, &s.RefreshJTI,
		&s.CreatedAt, &s.LastSeenAt, &s.ExpiresAt, &s.RevokedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	if deviceLabel != nil {
		s.DeviceLabel = *deviceLabel
	}
	return &s, nil
}

func collectSessions(rows pgx.Rows) ([]core.Session, error) {
	var out []core.Session
	for rows.Next() {
		var s core.Session
		var deviceLabel *string
		if err := rows.Scan(&s.ID, &s.UserID, &deviceLabel, &s.RefreshJTI,
			&s.CreatedAt, &s.LastSeenAt, &s.ExpiresAt, &s.RevokedAt); err != nil {
			return nil, err
		}
		if deviceLabel != nil {
			s.DeviceLabel = *deviceLabel
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
