package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	DatabasesProvisioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_databases_provisioned_total",
			Help: "Total number of tenant databases driven through provisioning, by outcome",
		},
		[]string{"status"},
	)
	SchemaSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenant_schema_sync_duration_seconds",
			Help:    "Duration of tenant schema synchronization in seconds",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		},
	)
)

func InitMetrics() {
	err := prometheus.Register(DatabasesProvisioned)
	if err != nil {
		log.Error().Err(err).Msg("Failed to register DatabasesProvisioned metric")
	}

	err = prometheus.Register(SchemaSyncDuration)
	if err != nil {
		log.Error().Err(err).Msg("Failed to register SchemaSyncDuration metric")
	}
}
