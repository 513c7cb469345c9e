package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/smart-lamp/internal/config"
)

// Metrics is safe to use as a nil pointer; every call becomes a no-op.
type Metrics struct {
	client *statsd.Client
}

func New(cfg config.Datadog) *Metrics {
	if !cfg.Enabled {
		log.Info().Msg("Datadog metrics disabled")
		return nil
	}

	client, err := statsd.New(cfg.AgentAddr,
		statsd.WithNamespace(cfg.Namespace),
		statsd.WithTags(cfg.Tags),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return nil
	}

	log.Info().
		Str("addr", cfg.AgentAddr).
		Str("namespace", cfg.Namespace).
		Strs("tags", cfg.Tags).
		Msg("Datadog metrics initialized")

	return &Metrics{client: client}
}

func (m *Metrics) Gauge(name string, value float64, tags ...string) {
	if m == nil || m.client == nil {
		return
	}
	if err := m.client.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func (m *Metrics) Incr(name string, tags ...string) {
	if m == nil || m.client == nil {
		return
	}
	if err := m.client.Incr(name, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
	}
}

func (m *Metrics) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}
