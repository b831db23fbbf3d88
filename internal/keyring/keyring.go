// Package keyring administra el ciclo de vida de las claves de firma HMAC:
// una ACTIVE por propósito, RETIRING durante el período de gracia, y purgado
// definitivo del material una vez vencida la gracia.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/levipshemish/jewgo-app-sub003/internal/metrics"
	"github.com/levipshemish/jewgo-app-sub003/internal/observability/logger"
	"github.com/levipshemish/jewgo-app-sub003/internal/security/secretbox"
	"github.com/levipshemish/jewgo-app-sub003/internal/security/tokens"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
)

var (
	ErrNoActiveKey = errors.New("no_active_signing_key")
	ErrUnknownKID  = errors.New("unknown_kid")
)

const (
	// Tamaño del material HS256 crudo.
	secretBytes = 32
	// TTL del snapshot local; las rotaciones las hace el rotator, así que
	// 30s de staleness es aceptable (la clave anterior queda RETIRING).
	snapshotTTL = 30 * time.Second
)

// Key es una clave de firma ya abierta (material en claro), lista para HMAC.
type Key struct {
	KID    string
	Secret []byte
	Status core.KeyStatus
}

type snapshot struct {
	active   *Key
	verify   []Key // active primero, luego retiring (más reciente primero)
	fetched  time.Time
	hasError bool
}

// Ring expone la clave activa y las claves de verificación por propósito,
// con cache local y refresh colapsado vía singleflight.
type Ring struct {
	repo core.SigningKeyRepository

	mu    sync.RWMutex
	snaps map[core.KeyPurpose]*snapshot
	sf    singleflight.Group
}

func New(repo core.SigningKeyRepository) *Ring {
	return &Ring{
		repo:  repo,
		snaps: make(map[core.KeyPurpose]*snapshot),
	}
}

// EnsureBootstrap: si algún propósito no tiene clave activa, genera una.
// Idempotente; seguro ante deploys concurrentes (Rotate serializa en el repo).
func (r *Ring) EnsureBootstrap(ctx context.Context) error {
	for _, p := range core.Purposes() {
		_, err := r.repo.ActiveKey(ctx, p)
		if err == nil {
			continue
		}
		if !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("keyring bootstrap %s: %w", p, err)
		}
		if _, err := r.Rotate(ctx, p); err != nil {
			return fmt.Errorf("keyring bootstrap %s: %w", p, err)
		}
		logger.L().Info("clave de firma inicial generada", logger.Purpose(string(p)))
	}
	return nil
}

// ActiveKey devuelve la clave activa (cacheada) para firmar.
func (r *Ring) ActiveKey(ctx context.Context, purpose core.KeyPurpose) (*Key, error) {
	snap, err := r.snapshot(ctx, purpose)
	if err != nil {
		return nil, err
	}
	if snap.active == nil {
		return nil, ErrNoActiveKey
	}
	return snap.active, nil
}

// VerificationKeys devuelve las claves aceptables para verificar firmas:
// la activa y las retiring dentro del período de gracia.
func (r *Ring) VerificationKeys(ctx context.Context, purpose core.KeyPurpose) ([]Key, error) {
	snap, err := r.snapshot(ctx, purpose)
	if err != nil {
		return nil, err
	}
	return snap.verify, nil
}

// KeyByKID busca una clave de verificación por su kid.
func (r *Ring) KeyByKID(ctx context.Context, purpose core.KeyPurpose, kid string) (*Key, error) {
	keys, err := r.VerificationKeys(ctx, purpose)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		if keys[i].KID == kid {
			return &keys[i], nil
		}
	}
	return nil, ErrUnknownKID
}

// Rotate genera una clave nueva, la marca ACTIVE y pasa la anterior a
// RETIRING en una sola operación atómica del repo. Devuelve el kid nuevo.
func (r *Ring) Rotate(ctx context.Context, purpose core.KeyPurpose) (string, error) {
	raw, err := tokens.GenerateHMACSecret(secretBytes)
	if err != nil {
		return "", fmt.Errorf("generar secreto: %w", err)
	}
	sealed, err := secretbox.Seal(raw)
	if err != nil {
		return "", fmt.Errorf("sellar secreto: %w", err)
	}

	kid := newKID(purpose)
	now := time.Now().UTC()
	prev, err := r.repo.Rotate(ctx, &core.SigningKey{
		KID:       kid,
		Purpose:   purpose,
		Alg:       "HS256",
		Secret:    []byte(sealed),
		Status:    core.KeyActive,
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("rotar %s: %w", purpose, err)
	}

	r.Invalidate(purpose)

	fields := []zap.Field{logger.Purpose(string(purpose)), logger.KID(kid)}
	if prev != nil {
		fields = append(fields, logger.String("prev_kid", prev.KID))
	}
	logger.L().Info("clave de firma rotada", fields...)
	metrics.KeyRotations.WithLabelValues(string(purpose)).Inc()
	return kid, nil
}

// Prune retira y elimina definitivamente las claves cuya gracia venció.
// El material purgado no se puede recuperar: los tokens firmados con esas
// claves quedan inverificables.
func (r *Ring) Prune(ctx context.Context, purpose core.KeyPurpose, grace time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-grace)
	n, err := r.repo.Prune(ctx, purpose, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", purpose, err)
	}
	if n > 0 {
		r.Invalidate(purpose)
		logger.L().Info("claves de firma purgadas", logger.Purpose(string(purpose)), logger.Count(n))
		metrics.KeysPruned.WithLabelValues(string(purpose)).Add(float64(n))
	}
	return n, nil
}

// Invalidate descarta el snapshot local de un propósito.
func (r *Ring) Invalidate(purpose core.KeyPurpose) {
	r.mu.Lock()
	delete(r.snaps, purpose)
	r.mu.Unlock()
}

// snapshot devuelve el snapshot vigente, refrescando desde el repo si venció.
// Refresh colapsado: N llamadas concurrentes producen una sola consulta.
func (r *Ring) snapshot(ctx context.Context, purpose core.KeyPurpose) (*snapshot, error) {
	r.mu.RLock()
	snap, ok := r.snaps[purpose]
	r.mu.RUnlock()
	if ok && time.Since(snap.fetched) < snapshotTTL {
		return snap, nil
	}

	v, err, _ := r.sf.Do(string(purpose), func() (any, error) {
		recs, err := r.repo.VerificationKeys(ctx, purpose)
		if err != nil {
			return nil, err
		}
		fresh := &snapshot{fetched: time.Now()}
		for _, rec := range recs {
			secret, err := secretbox.Open(string(rec.Secret))
			if err != nil {
				return nil, fmt.Errorf("abrir secreto kid=%s: %w", rec.KID, err)
			}
			k := Key{KID: rec.KID, Secret: secret, Status: rec.Status}
			fresh.verify = append(fresh.verify, k)
			if rec.Status == core.KeyActive {
				kc := k
				fresh.active = &kc
			}
		}
		r.mu.Lock()
		r.snaps[purpose] = fresh
		r.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		// Fail-closed: si hay snapshot viejo lo seguimos sirviendo un rato,
		// pero nunca inventamos claves.
		if ok {
			logger.L().Warn("refresh de keyring falló; sirviendo snapshot previo",
				logger.Purpose(string(purpose)), logger.Err(err))
			return snap, nil
		}
		return nil, err
	}
	return v.(*snapshot), nil
}

func newKID(purpose core.KeyPurpose) string {
	short := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%s-%s-%s", purpose, time.Now().UTC().Format("20060102T150405Z"), short)
}
