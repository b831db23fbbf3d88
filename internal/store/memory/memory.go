// Package memory implementa core.Store en memoria.
//
// Es el backend de desarrollo y unit tests: respeta las mismas semánticas de
// atomicidad que el backend pg (rotación serializada, consume condicional,
// swap compare-and-set) usando locks de proceso en lugar de transacciones.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
)

type Store struct {
	mu sync.Mutex

	keys       map[string]*core.SigningKey      // kid → key
	revoked    map[string]core.RevocationEntry  // jti → entry
	sessions   map[string]*core.Session         // id → session
	magicLinks map[string]*core.MagicLinkRecord // token_id → record
	users      map[string]*core.User            // email → user
}

func New() *Store {
	return &Store{
		keys:       make(map[string]*core.SigningKey),
		revoked:    make(map[string]core.RevocationEntry),
		sessions:   make(map[string]*core.Session),
		magicLinks: make(map[string]*core.MagicLinkRecord),
		users:      make(map[string]*core.User),
	}
}

func (s *Store) SigningKeys() core.SigningKeyRepository { return (*signingKeyRepo)(s) }
func (s *Store) Revocations() core.RevocationRepository { return (*revocationRepo)(s) }
func (s *Store) Sessions() core.SessionRepository       { return (*sessionRepo)(s) }
func (s *Store) MagicLinks() core.MagicLinkRepository   { return (*magicLinkRepo)(s) }
func (s *Store) Users() core.UserRepository             { return (*userRepo)(s) }

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close()                         {}

func copyKey(k *core.SigningKey) *core.SigningKey {
	cp := *k
	cp.Secret = append([]byte(nil), k.Secret...)
	if k.RotatedAt != nil {
		t := *k.RotatedAt
		cp.RotatedAt = &t
	}
	return &cp
}

func copySession(s *core.Session) *core.Session {
	cp := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

// ───────────────────────── signing keys ─────────────────────────

type signingKeyRepo Store

func (r *signingKeyRepo) ActiveKey(ctx context.Context, purpose core.KeyPurpose) (*core.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked(purpose)
}

func (r *signingKeyRepo) activeLocked(purpose core.KeyPurpose) (*core.SigningKey, error) {
	for _, k := range r.keys {
		if k.Purpose == purpose && k.Status == core.KeyActive {
			return copyKey(k), nil
		}
	}
	return nil, core.ErrNotFound
}

func (r *signingKeyRepo) VerificationKeys(ctx context.Context, purpose core.KeyPurpose) ([]core.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []core.SigningKey
	for _, k := range r.keys {
		if k.Purpose == purpose && (k.Status == core.KeyActive || k.Status == core.KeyRetiring) {
			out = append(out, *copyKey(k))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Status == core.KeyActive) != (out[j].Status == core.KeyActive) {
			return out[i].Status == core.KeyActive
		}
		ri, rj := out[i].RotatedAt, out[j].RotatedAt
		if ri != nil && rj != nil && !ri.Equal(*rj) {
			return ri.After(*rj)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *signingKeyRepo) Insert(ctx context.Context, k *core.SigningKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := copyKey(k)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.keys[cp.KID] = cp
	return nil
}

func (r *signingKeyRepo) Rotate(ctx context.Context, newKey *core.SigningKey) (*core.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prev *core.SigningKey
	now := time.Now().UTC()
	for _, k := range r.keys {
		if k.Purpose == newKey.Purpose && k.Status == core.KeyActive {
			k.Status = core.KeyRetiring
			t := now
			k.RotatedAt = &t
			prev = copyKey(k)
			break
		}
	}

	cp := copyKey(newKey)
	cp.Status = core.KeyActive
	cp.CreatedAt = now
	r.keys[cp.KID] = cp
	return prev, nil
}

func (r *signingKeyRepo) Prune(ctx context.Context, purpose core.KeyPurpose, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for kid, k := range r.keys {
		if k.Purpose != purpose {
			continue
		}
		if k.Status == core.KeyRetiring && k.RotatedAt != nil && k.RotatedAt.Before(cutoff) {
			k.Status = core.KeyRetired
		}
		if k.Status == core.KeyRetired {
			delete(r.keys, kid)
			n++
		}
	}
	return n, nil
}

// ───────────────────────── revocations ─────────────────────────

type revocationRepo Store

func (r *revocationRepo) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.revoked[jti]; !ok {
		r.revoked[jti] = core.RevocationEntry{JTI: jti, RevokedAt: time.Now().UTC(), ExpiresAt: expiresAt}
	}
	return nil
}

func (r *revocationRepo) Contains(ctx context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.revoked[jti]
	if !ok {
		return false, nil
	}
	return !time.Now().After(e.ExpiresAt), nil
}

func (r *revocationRepo) DeleteExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	n := 0
	for jti, e := range r.revoked {
		if now.After(e.ExpiresAt) {
			delete(r.revoked, jti)
			n++
		}
	}
	return n, nil
}

// ───────────────────────── sessions ─────────────────────────

type sessionRepo Store

func (r *sessionRepo) Create(ctx context.Context, s *core.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = copySession(s)
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copySession(s), nil
}

func (r *sessionRepo) GetByRefreshJTI(ctx context.Context, jti string) (*core.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RefreshJTI == jti {
			return copySession(s), nil
		}
	}
	return nil, core.ErrNotFound
}

func (r *sessionRepo) SwapRefreshJTI(ctx context.Context, sessionID, oldJTI, newJTI string, lastSeen, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.RefreshJTI != oldJTI || s.RevokedAt != nil {
		return core.ErrConflict
	}
	s.RefreshJTI = newJTI
	s.LastSeenAt = lastSeen
	s.ExpiresAt = expiresAt
	return nil
}

func (r *sessionRepo) Touch(ctx context.Context, sessionID string, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok && s.RevokedAt == nil {
		s.LastSeenAt = lastSeen
	}
	return nil
}

func (r *sessionRepo) Revoke(ctx context.Context, sessionID string) (*core.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, core.ErrNotFound
	}
	if s.RevokedAt == nil {
		t := time.Now().UTC()
		s.RevokedAt = &t
	}
	return copySession(s), nil
}

func (r *sessionRepo) RevokeAllByUser(ctx context.Context, userID string) ([]core.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Session
	now := time.Now().UTC()
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			t := now
			s.RevokedAt = &t
			out = append(out, *copySession(s))
		}
	}
	return out, nil
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID string) ([]core.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []core.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil && s.ExpiresAt.After(now) {
			out = append(out, *copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}

func (r *sessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// ───────────────────────── magic links ─────────────────────────

type magicLinkRepo Store

func (r *magicLinkRepo) Create(ctx context.Context, rec *core.MagicLinkRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.magicLinks[rec.TokenID] = &cp
	return nil
}

func (r *magicLinkRepo) Get(ctx context.Context, tokenID string) (*core.MagicLinkRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.magicLinks[tokenID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *magicLinkRepo) Consume(ctx context.Context, tokenID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.magicLinks[tokenID]
	if !ok {
		return core.ErrNotFound
	}
	if rec.ConsumedAt != nil {
		return core.ErrAlreadyConsumed
	}
	if !rec.ExpiresAt.After(at) {
		return core.ErrExpired
	}
	t := at
	rec.ConsumedAt = &t
	return nil
}

func (r *magicLinkRepo) DeleteExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	n := 0
	for id, rec := range r.magicLinks {
		if rec.ExpiresAt.Before(now) {
			delete(r.magicLinks, id)
			n++
		}
	}
	return n, nil
}

// ───────────────────────── users ─────────────────────────

type userRepo Store

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[normalize(email)]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *userRepo) GetOrCreateByEmail(ctx context.Context, email string) (*core.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalize(email)
	if u, ok := r.users[key]; ok {
		cp := *u
		return &cp, nil
	}
	u := &core.User{ID: uuid.NewString(), Email: key, CreatedAt: time.Now().UTC()}
	r.users[key] = u
	cp := *u
	return &cp, nil
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
