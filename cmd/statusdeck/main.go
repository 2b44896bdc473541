// Command statusdeck launches the deployment status aggregator daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/statusdeck/config"
	"github.com/coachpo/statusdeck/internal/adapters"
	"github.com/coachpo/statusdeck/internal/adapters/amplify"
	"github.com/coachpo/statusdeck/internal/adapters/netlify"
	"github.com/coachpo/statusdeck/internal/adapters/vercel"
	"github.com/coachpo/statusdeck/internal/notify"
	"github.com/coachpo/statusdeck/internal/refresh"
	"github.com/coachpo/statusdeck/internal/scheduler"
	"github.com/coachpo/statusdeck/internal/schema"
	httpserver "github.com/coachpo/statusdeck/internal/server/http"
	"github.com/coachpo/statusdeck/internal/store"
	"github.com/coachpo/statusdeck/lib/async"
	"github.com/coachpo/statusdeck/lib/telemetry"
)

const (
	loggerPrefix = "statusdeck "

	shutdownTimeout              = 30 * time.Second
	controlServerShutdownTimeout = 5 * time.Second
	sinkPoolShutdownTimeout      = 10 * time.Second
	telemetryShutdownTimeout     = 5 * time.Second
	controlReadHeaderTimeout     = 5 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newLogger()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, providers=%v",
		cfg.Environment, cfg.EnabledProviders())

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	registry, scopes := buildRegistry(cfg)
	if len(registry.All()) == 0 {
		logger.Print("no providers enabled; serving empty snapshot")
	}

	st := store.New(storeSeeds(registry), store.WithRetention(cfg.Polling.Retention))

	refresher := refresh.New(logger, registry, st, refresh.WithScopes(scopes))

	sinkPool, sinks, err := buildNotifications(cfg, logger)
	if err != nil {
		logger.Fatalf("initialise notifications: %v", err)
	}
	gate, err := buildGate(cfg, logger, sinkPool, sinks)
	if err != nil {
		logger.Fatalf("initialise alert gate: %v", err)
	}
	st.Subscribe(gate.HandleUpdate)

	sched := scheduler.New(logger, refresher.Run, cfg.Polling.Interval,
		scheduler.WithMinInterval(cfg.Polling.MinInterval))
	sched.Start(ctx)
	logger.Printf("poll scheduler started: interval=%s", sched.PollInterval())

	var lifecycle conc.WaitGroup

	apiServer := buildAPIServer(cfg.Server, st, registry, sched)
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Printf("control API listening on %s", apiServer.Addr)

	logger.Print("statusdeck started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		scheduler:  sched,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		sinkPool:   sinkPool,
		telemetry:  telemetryShutdown,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", "Path to configuration file (default: config/statusdeck.yaml)")
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func buildRegistry(cfg config.AppConfig) (*adapters.Registry, map[schema.ProviderID]string) {
	var list []adapters.Adapter
	scopes := make(map[schema.ProviderID]string, 3)

	if cfg.Providers.Vercel.Enabled {
		list = append(list, vercel.New(vercel.Options{
			Token:          cfg.Providers.Vercel.Token,
			TeamID:         cfg.Providers.Vercel.TeamID,
			BaseURL:        cfg.Providers.Vercel.BaseURL,
			RequestTimeout: 0,
			DeploymentsPer: 0,
		}))
		scopes[schema.ProviderVercel] = cfg.Providers.Vercel.TeamID
	}
	if cfg.Providers.Netlify.Enabled {
		list = append(list, netlify.New(netlify.Options{
			Token:          cfg.Providers.Netlify.Token,
			AccountSlug:    cfg.Providers.Netlify.AccountSlug,
			BaseURL:        cfg.Providers.Netlify.BaseURL,
			RequestTimeout: 0,
			DeploysPer:     0,
		}))
		scopes[schema.ProviderNetlify] = cfg.Providers.Netlify.AccountSlug
	}
	if cfg.Providers.Amplify.Enabled {
		list = append(list, amplify.New(amplify.Options{
			Region:         cfg.Providers.Amplify.Region,
			Profile:        cfg.Providers.Amplify.Profile,
			RequestTimeout: 0,
		}))
	}

	return adapters.NewRegistry(list...), scopes
}

func storeSeeds(registry *adapters.Registry) []store.ProviderSeed {
	adapterSeeds := registry.Seeds()
	seeds := make([]store.ProviderSeed, 0, len(adapterSeeds))
	for _, seed := range adapterSeeds {
		seeds = append(seeds, store.ProviderSeed{ID: seed.ID, DisplayName: seed.DisplayName})
	}
	return seeds
}

func buildNotifications(cfg config.AppConfig, logger *log.Logger) (*async.Pool, []notify.Sink, error) {
	sinks := []notify.Sink{notify.NewLogSink(logger)}
	if cfg.Notifications.WebhookURL == "" {
		return nil, sinks, nil
	}

	pool, err := async.NewPool(cfg.Notifications.Workers, cfg.Notifications.Queue,
		async.WithOnError(func(err error) {
			logger.Printf("alert delivery: %v", err)
		}))
	if err != nil {
		return nil, nil, fmt.Errorf("create sink pool: %w", err)
	}
	sinks = append(sinks, notify.NewWebhookSink(cfg.Notifications.WebhookURL))
	return pool, sinks, nil
}

func buildGate(cfg config.AppConfig, logger *log.Logger, pool *async.Pool, sinks []notify.Sink) (*notify.Gate, error) {
	var opts []notify.GateOption
	if cfg.Notifications.Rule != "" {
		rule, err := notify.NewRule(cfg.Notifications.Rule)
		if err != nil {
			return nil, err
		}
		opts = append(opts, notify.WithRule(rule))
	}
	return notify.NewGate(logger, pool, sinks, opts...), nil
}

func buildAPIServer(cfg config.ServerConfig, st *store.Store, registry *adapters.Registry, trigger httpserver.Trigger) *http.Server {
	handler := httpserver.NewHandler(st, registry, trigger)

	return &http.Server{
		Addr:                         cfg.Listen,
		Handler:                      handler,
		DisableGeneralOptionsHandler: false,
		TLSConfig:                    nil,
		ReadTimeout:                  0,
		WriteTimeout:                 0,
		IdleTimeout:                  0,
		MaxHeaderBytes:               0,
		TLSNextProto:                 nil,
		ConnState:                    nil,
		ErrorLog:                     nil,
		BaseContext:                  nil,
		ConnContext:                  nil,
		HTTP2:                        nil,
		Protocols:                    nil,
		ReadHeaderTimeout:            controlReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("control server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	scheduler  *scheduler.Scheduler
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	sinkPool   *async.Pool
	telemetry  func(context.Context) error
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping control server", controlServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	if cfg.scheduler != nil {
		logger.Print("shutdown: stopping scheduler")
		cfg.scheduler.Stop()
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", controlServerShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.sinkPool != nil {
		shutdownStep("draining alert sink pool", sinkPoolShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.sinkPool.Shutdown(stepCtx)
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry(stepCtx)
		})
	}
}
