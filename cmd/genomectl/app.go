package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"genomeforge/internal/blob"
	"genomeforge/internal/config"
	"genomeforge/internal/core"
	"genomeforge/internal/ephemeral"
	"genomeforge/internal/generator"
	"genomeforge/internal/infra/kv"
	"genomeforge/internal/ledger"
	"genomeforge/internal/logging"
	"genomeforge/internal/materialise"
)

const drainTimeout = 10 * time.Second

// app holds every wired component for one CLI invocation.
type app struct {
	cfg        config.Config
	log        *logging.Zap
	registry   *prometheus.Registry
	store      core.PersistentStore
	kv         kv.Store
	dispatcher *materialise.Dispatcher
	svc        *core.Service
}

// bootstrap loads configuration and wires storage, caches, the generator
// pipeline and the service facade.
func bootstrap(ctx context.Context, configPath string, logSink io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.NewZapWriter(logSink, cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}

	a.store, err = core.OpenStorage(core.StorageDriver(cfg.Storage.Driver), cfg.Storage.SQLitePath, cfg.Storage.PostgresDSN, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.kv, err = kv.OpenConfig(ctx, cfg.KV)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open kv: %w", err)
	}
	blobs, err := blob.OpenConfig(ctx, cfg.Blob)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	gen, err := generator.Open(cfg.Generator)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open generator: %w", err)
	}

	l := ledger.New(a.store,
		ledger.WithLogger(log.With("component", "ledger")),
		ledger.WithBalanceCache(ephemeral.NewBalanceCache(a.kv)),
	)
	pipeline := materialise.NewPipeline(l,
		ephemeral.NewStatusBoard(a.kv),
		materialise.NewArtifactStore(blobs, log),
		gen,
		materialise.WithPipelineLogger(log.With("component", "pipeline")),
		materialise.WithMetrics(materialise.NewMetrics(a.registry)),
	)
	a.dispatcher = materialise.NewDispatcher(pipeline, cfg.Materialise.Workers, log)
	a.svc = core.NewService(a.store,
		core.WithLogger(log.With("component", "service")),
		core.WithLedger(l),
		core.WithDispatcher(a.dispatcher),
		core.WithLimiter(ephemeral.NewFixedWindowLimiter(a.kv), core.Limits{
			OracleRate:      cfg.Limits.OracleRate,
			MaterialiseRate: cfg.Limits.MaterialiseRate,
		}),
		core.WithGenomeCache(ephemeral.NewGenomeCache(a.kv)),
		core.WithAuditRecorder(core.NewLogAuditRecorder(log.With("component", "audit"))),
		core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(a.registry)),
	)
	return a, nil
}

// Close drains running jobs and releases backends.
func (a *app) Close() error {
	var errs []error
	if a.dispatcher != nil {
		a.dispatcher.Close()
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := a.dispatcher.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain jobs: %w", err))
		}
		cancel()
	}
	if a.kv != nil {
		errs = append(errs, a.kv.Close())
	}
	if c, ok := a.store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return errors.Join(errs...)
}

// writeMetrics dumps the registry in the node exporter textfile format.
func (a *app) writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, a.registry)
}
