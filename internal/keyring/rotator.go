package keyring

import (
	"context"
	"sync"
	"time"

	"github.com/levipshemish/jewgo-app-sub003/internal/observability/logger"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
)

// RotatorConfig controla el ciclo automático de rotación y purga.
type RotatorConfig struct {
	// Edad máxima de la clave activa antes de rotarla.
	RotationInterval time.Duration
	// Cada cuánto revisa el rotator (también dispara Prune).
	CheckInterval time.Duration
	// Gracia por propósito: cuánto sobrevive una clave RETIRING antes del
	// purgado. Debe cubrir el TTL máximo de los tokens que firmó.
	Grace map[core.KeyPurpose]time.Duration
}

// Rotator rota y purga claves en background. Varias instancias pueden correr
// a la vez: la serialización real ocurre en el repo (advisory lock + chequeo
// de edad), así que el peor caso de una carrera es una rotación de más.
type Rotator struct {
	ring *Ring
	repo core.SigningKeyRepository
	cfg  RotatorConfig

	mu      sync.RWMutex
	lastRun time.Time
	lastErr error
}

func NewRotator(ring *Ring, repo core.SigningKeyRepository, cfg RotatorConfig) *Rotator {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Minute
	}
	return &Rotator{ring: ring, repo: repo, cfg: cfg}
}

// Run bloquea hasta que ctx se cancele. Hace una pasada inmediata al arrancar.
func (r *Rotator) Run(ctx context.Context) {
	log := logger.L().Named("rotator")
	log.Info("rotator de claves iniciado")

	r.tick(ctx)

	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("rotator de claves detenido")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// Healthy informa si la última pasada terminó sin error.
func (r *Rotator) Healthy() (bool, time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr == nil && !r.lastRun.IsZero(), r.lastRun, r.lastErr
}

func (r *Rotator) tick(ctx context.Context) {
	var firstErr error
	for _, p := range core.Purposes() {
		if err := r.rotateIfDue(ctx, p); err != nil && firstErr == nil {
			firstErr = err
		}
		if _, err := r.ring.Prune(ctx, p, r.grace(p)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	r.mu.Lock()
	r.lastRun = time.Now()
	r.lastErr = firstErr
	r.mu.Unlock()

	if firstErr != nil {
		logger.L().Named("rotator").Error("pasada de rotación con errores", logger.Err(firstErr))
	}
}

func (r *Rotator) rotateIfDue(ctx context.Context, purpose core.KeyPurpose) error {
	if r.cfg.RotationInterval <= 0 {
		return nil
	}
	active, err := r.repo.ActiveKey(ctx, purpose)
	if err != nil {
		// Sin clave activa: el bootstrap la genera; acá solo reportamos.
		return err
	}
	if time.Since(active.CreatedAt) < r.cfg.RotationInterval {
		return nil
	}
	_, err = r.ring.Rotate(ctx, purpose)
	return err
}

func (r *Rotator) grace(purpose core.KeyPurpose) time.Duration {
	if g, ok := r.cfg.Grace[purpose]; ok && g > 0 {
		return g
	}
	// Gracia de seguridad si la config no definió el propósito.
	return 30 * 24 * time.Hour
}
