package tts

import (
	"fmt"
	"log/slog"

	"github.com/example/go-tts-unlimited/internal/config"
	"github.com/example/go-tts-unlimited/internal/normalize"
	"github.com/example/go-tts-unlimited/internal/observability"
	"github.com/example/go-tts-unlimited/internal/remote"
	"github.com/example/go-tts-unlimited/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Components is a fully wired generation pipeline.
type Components struct {
	Service  *Service
	Remote   *remote.Client
	Store    *storage.TempStore
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
}

// Build wires the remote client, normalizer, store and service from cfg.
// Every component records on a fresh registry that also carries the Go and
// process collectors.
func Build(cfg config.Config, logger *slog.Logger, optFns ...Option) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg, cfg.Metrics.Namespace)

	client, err := remote.New(cfg.Remote,
		remote.WithLogger(logger.With(slog.String("component", "remote"))),
		remote.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("remote client: %w", err)
	}

	norm, err := normalize.New(
		normalize.WithTimeout(cfg.Fetch.Timeout),
		normalize.WithCABundle(cfg.Fetch.CABundle),
		normalize.WithMaxBytes(cfg.Fetch.MaxBytes),
		normalize.WithBearerToken(cfg.Remote.HFToken, cfg.Remote.BaseURL),
		normalize.WithLogger(logger.With(slog.String("component", "normalize"))),
		normalize.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("normalizer: %w", err)
	}

	store, err := storage.NewTempStore(cfg.Storage.Dir,
		storage.WithLogger(logger.With(slog.String("component", "storage"))),
		storage.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("audio store: %w", err)
	}

	opts := append([]Option{WithLogger(logger), WithMetrics(metrics)}, optFns...)
	svc := NewService(client, norm, store, opts...)

	return &Components{
		Service:  svc,
		Remote:   client,
		Store:    store,
		Metrics:  metrics,
		Registry: reg,
	}, nil
}
