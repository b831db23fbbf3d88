// Package metrics define las métricas Prometheus del servicio en un paquete
// propio para evitar ciclos de import entre las capas de dominio y HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_tokens_issued_total",
		Help: "Tokens emitidos, por uso (access/refresh)",
	}, []string{"use"})

	TokenVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_verifications_total",
		Help: "Verificaciones de token, por uso y resultado",
	}, []string{"use", "result"})

	KeyRotations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_key_rotations_total",
		Help: "Rotaciones de clave de firma, por propósito",
	}, []string{"purpose"})

	KeysPruned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_keys_pruned_total",
		Help: "Claves de firma purgadas definitivamente, por propósito",
	}, []string{"purpose"})

	SessionsRevoked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_sessions_revoked_total",
		Help: "Sesiones revocadas, por motivo (logout/logout_all/refresh_reuse)",
	}, []string{"reason"})

	RefreshReuseDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_detected_total",
		Help: "Canjes de refresh con jti ya rotado (señal de robo)",
	})

	MagicLinksSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_magic_links_sent_total",
		Help: "Magic links enviados por correo",
	})

	MagicLinkConsumes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_magic_link_consumes_total",
		Help: "Intentos de consumo de magic link, por resultado",
	}, []string{"result"})

	OAuthCallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_oauth_callbacks_total",
		Help: "Callbacks OAuth procesados, por provider y resultado",
	}, []string{"provider", "result"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_ms",
		Help:    "Duración de requests HTTP en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"method", "route", "status"})
)

// Register registra todas las métricas en el registry dado (o el default si es nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		TokensIssued,
		TokenVerifications,
		KeyRotations,
		KeysPruned,
		SessionsRevoked,
		RefreshReuseDetected,
		MagicLinksSent,
		MagicLinkConsumes,
		OAuthCallbacks,
		HTTPRequestDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
