package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/plc-dashboard/internal/config"
)

// Sink forwards scheduler metrics to a DogStatsD agent.
type Sink struct {
	client statsd.ClientInterface
	warn   bool
}

// New returns a no-op sink when metrics are disabled or the client cannot be
// created.
func New(cfg config.Datadog) *Sink {
	if !cfg.Enabled {
		return &Sink{client: &statsd.NoOpClient{}}
	}

	client, err := statsd.New(cfg.AgentAddr,
		statsd.WithNamespace(cfg.Namespace),
		statsd.WithTags(cfg.Tags),
	)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.AgentAddr).Msg("Failed to create DogStatsD client")
		return &Sink{client: &statsd.NoOpClient{}}
	}

	log.Info().
		Str("addr", cfg.AgentAddr).
		Str("namespace", cfg.Namespace).
		Strs("tags", cfg.Tags).
		Msg("Datadog metrics initialized")
	return &Sink{client: client, warn: true}
}

func NewWithClient(client statsd.ClientInterface) *Sink {
	return &Sink{client: client, warn: true}
}

func (s *Sink) Gauge(name string, value float64, tags ...string) {
	if err := s.client.Gauge(name, value, tags, 1); err != nil && s.warn {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func (s *Sink) Incr(name string, tags ...string) {
	if err := s.client.Incr(name, tags, 1); err != nil && s.warn {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
	}
}

func (s *Sink) Close() error {
	return s.client.Close()
}
