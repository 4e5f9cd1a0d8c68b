package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/config"
	"github.com/kozaktomas/bioauth/internal/database"
	"github.com/kozaktomas/bioauth/internal/database/kv"
	"github.com/kozaktomas/bioauth/internal/database/mariadb"
	"github.com/kozaktomas/bioauth/internal/database/memory"
	"github.com/kozaktomas/bioauth/internal/database/postgres"
	"github.com/kozaktomas/bioauth/internal/extractor"
	"github.com/kozaktomas/bioauth/internal/logging"
	"github.com/kozaktomas/bioauth/internal/matching"
	"github.com/kozaktomas/bioauth/internal/metrics"
	"github.com/kozaktomas/bioauth/internal/service"
	"github.com/kozaktomas/bioauth/internal/speech"
)

// app holds everything a command needs to run decisions.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       database.Store
	extractor   extractor.Extractor
	transcriber speech.Transcriber
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	face        *service.Service
	voice       *service.Service
}

// newApp loads the configuration and wires the store, the extractor, the
// transcriber and one service per modality.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics.New(registry),
	}

	a.store, err = openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.extractor = extractor.WithTimeout(extractor.NewClient(cfg.Extractor.URL), cfg.Extractor.Timeout)
	logger.Info("embedding extractor configured",
		zap.String("url", cfg.Extractor.URL),
		zap.Duration("timeout", cfg.Extractor.Timeout),
	)

	a.transcriber, err = speech.New(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	if a.face, err = a.newService(biometric.ModalityFace); err != nil {
		a.Close()
		return nil, err
	}
	if a.voice, err = a.newService(biometric.ModalityVoice); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) newService(modality biometric.Modality) (*service.Service, error) {
	return service.New(service.Options{
		Modality:       modality,
		Thresholds:     a.cfg.Thresholds.For(modality),
		Store:          a.store,
		Extractor:      a.extractor,
		Transcriber:    a.transcriber,
		Workers:        a.cfg.Identify.Workers,
		Shortlist:      a.cfg.Identify.Shortlist,
		MaxSampleBytes: a.cfg.MaxSampleBytes,
		Logger:         a.logger,
		Metrics:        a.metrics,
	})
}

// service returns the service of the modality selected with --modality.
func (a *app) service(cmd *cobra.Command) (*service.Service, error) {
	modality, err := modalityFlag(cmd)
	if err != nil {
		return nil, err
	}
	if modality == biometric.ModalityVoice {
		return a.voice, nil
	}
	return a.face, nil
}

// Close releases the store and flushes the logger.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// scoringMetrics maps each modality to the metric its thresholds use.
func scoringMetrics(cfg *config.Config) map[biometric.Modality]matching.Metric {
	m := make(map[biometric.Modality]matching.Metric, len(biometric.Modalities))
	for _, modality := range biometric.Modalities {
		m[modality] = matching.Metric(cfg.Thresholds.For(modality).Metric)
	}
	return m
}

// openStore opens the configured backend. When IDENTIFY_SHORTLIST is set,
// PostgreSQL answers the shortlist query through pgvector and every other
// backend is wrapped in an in-process HNSW index.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (database.Store, error) {
	var store database.Store
	switch cfg.Store.Backend {
	case config.BackendMemory:
		store = memory.New()
	case config.BackendBadger:
		s, err := kv.Open(kv.Options{Dir: cfg.Badger.Dir, InMemory: cfg.Badger.InMemory, Logger: logger})
		if err != nil {
			return nil, err
		}
		store = s
	case config.BackendPostgres:
		s, applied, err := postgres.Open(ctx, &cfg.Database, postgres.WithMetrics(scoringMetrics(cfg)))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		logMigrations(logger, applied)
		store = s
	case config.BackendMariaDB:
		s, applied, err := mariadb.Open(ctx, &cfg.MariaDB)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MariaDB: %w", err)
		}
		logMigrations(logger, applied)
		store = s
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}
	logger.Info("enrollment store opened", zap.String("backend", cfg.Store.Backend))

	if cfg.Identify.Shortlist <= 0 {
		return store, nil
	}
	if cfg.Store.Backend == config.BackendPostgres {
		logger.Info("identification shortlist served by pgvector", zap.Int("shortlist", cfg.Identify.Shortlist))
		return store, nil
	}

	indexed := database.NewIndexedStore(store, scoringMetrics(cfg))
	if err := indexed.Build(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("building shortlist index: %w", err)
	}
	logger.Info("identification shortlist index built",
		zap.Int("samples", indexed.IndexedCount()),
		zap.Int("shortlist", cfg.Identify.Shortlist),
	)
	return indexed, nil
}

func logMigrations(logger *zap.Logger, applied []string) {
	for _, file := range applied {
		logger.Info("migration applied", zap.String("file", file))
	}
}
