package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/yairfalse/snapkeep/config"
	"github.com/yairfalse/snapkeep/internal/emitter"
	"github.com/yairfalse/snapkeep/limits"
	"github.com/yairfalse/snapkeep/logstore"
	"github.com/yairfalse/snapkeep/orchestrator"
	"github.com/yairfalse/snapkeep/providers"
	"github.com/yairfalse/snapkeep/runlock"
	"github.com/yairfalse/snapkeep/telemetry"

	// provider backends register themselves
	_ "github.com/yairfalse/snapkeep/providers/aws"
	_ "github.com/yairfalse/snapkeep/providers/vultr"
)

// appOptions controls how much of the stack a command needs
type appOptions struct {
	// console mirrors log records to stderr
	console bool
	// consoleOut overrides stderr
	consoleOut io.Writer
	// inventory connects the provider and builds the limit resolver
	inventory bool
}

// app holds everything wired from one config
type app struct {
	cfg       *config.Config
	store     logstore.Store
	logger    *telemetry.Logger
	telemetry *telemetry.Provider
	client    providers.InventoryClient
	resolver  *limits.Resolver
	redis     *redis.Client
	emitters  *emitter.MultiEmitter
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return nil, err
	}
	if debugMode {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newApp(ctx context.Context, opts appOptions) (a *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	a.store, err = logstore.Open(logstore.Config{
		Backend: logstore.Backend(cfg.Log.Backend),
		Path:    cfg.Log.Path,
	})
	if err != nil {
		return a, fmt.Errorf("open run log: %w", err)
	}

	a.logger = telemetry.NewLogger(cfg.OTEL.ServiceName, telemetry.LoggerOptions{
		Store:         a.store,
		Console:       opts.console,
		ConsoleWriter: opts.consoleOut,
		Level:         cfg.Log.Level,
	})

	a.telemetry, err = telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: version,
		OTELEndpoint:   cfg.OTEL.Endpoint,
		Insecure:       cfg.OTEL.Insecure,
		Global:         true,
	})
	if err != nil {
		return a, fmt.Errorf("init telemetry: %w", err)
	}

	if !opts.inventory {
		return a, nil
	}

	a.client, err = providers.GetProvider(ctx, cfg.Provider, cfg.ProviderConfig())
	if err != nil {
		return a, err
	}

	var overrides limits.Overrides
	a.resolver, overrides, err = cfg.Resolver()
	if err != nil {
		return a, err
	}
	a.logger.LogIgnoredOverrides(ctx, cfg.OverridesFile, overrides.Skipped, overrides.Duplicates)
	return a, nil
}

func (a *app) locker() runlock.Locker {
	if a.cfg.Lock.Backend == config.LockRedis {
		if a.redis == nil {
			a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.Lock.RedisAddr})
		}
		return runlock.NewRedisLocker(a.redis, a.cfg.Lock.RedisKey, a.cfg.Lock.TTL)
	}
	return runlock.NewFileLocker(a.cfg.Lock.Path)
}

func (a *app) lastRunPath() string {
	return filepath.Join(a.cfg.StateDir, emitter.LastRunFile)
}

// orchestrator builds a coordinator with every emitter attached
func (a *app) orchestrator(dryRun bool, exitPolicy orchestrator.ExitPolicy) (*orchestrator.Orchestrator, error) {
	metrics, err := telemetry.NewMetrics(a.telemetry.Meter())
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	gauges, err := emitter.NewPrometheusEmitter(a.telemetry.Meter())
	if err != nil {
		return nil, err
	}
	gauges.WithLogger(a.logger.Logger)

	a.emitters = emitter.NewMultiEmitter(
		emitter.NewStateFileEmitter(a.lastRunPath()),
		gauges,
	)

	o := orchestrator.NewOrchestrator(a.client, a.resolver, a.locker(), a.store, orchestrator.Options{
		DryRun:     dryRun,
		Policy:     a.cfg.Policy(),
		MaxEntries: a.cfg.Log.MaxEntries,
		ExitPolicy: exitPolicy,
	}).
		WithLogger(a.logger).
		WithTracer(a.telemetry.Tracer()).
		WithMetrics(metrics).
		WithNotifier(a.emitters)
	return o, nil
}

// Close releases everything newApp opened, in reverse order
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.emitters != nil {
		errs = append(errs, a.emitters.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
