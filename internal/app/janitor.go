package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/levipshemish/jewgo-app-sub003/internal/observability/logger"
)

// janitor barre periódicamente filas vencidas: revocaciones, sesiones y
// magic links. Las claves retiradas las maneja el rotator, no esto.
func (a *App) janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	log := logger.Named("janitor")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx, log)
		}
	}
}

func (a *App) sweep(ctx context.Context, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now()
	total := 0

	if n, err := a.store.Revocations().DeleteExpired(ctx); err != nil {
		log.Warn("sweep de revocaciones falló", logger.Err(err))
	} else {
		total += n
	}
	if n, err := a.store.Sessions().DeleteExpired(ctx, now); err != nil {
		log.Warn("sweep de sesiones falló", logger.Err(err))
	} else {
		total += n
	}
	if n, err := a.store.MagicLinks().DeleteExpired(ctx); err != nil {
		log.Warn("sweep de magic links falló", logger.Err(err))
	} else {
		total += n
	}

	if total > 0 {
		log.Info("sweep completado", logger.Int("filas_borradas", total))
	}
}
