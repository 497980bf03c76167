package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/backyonatan-alt/sitewatch/internal/cache"
	"github.com/backyonatan-alt/sitewatch/internal/config"
	"github.com/backyonatan-alt/sitewatch/internal/imagery"
	"github.com/backyonatan-alt/sitewatch/internal/metrics"
	"github.com/backyonatan-alt/sitewatch/internal/notify"
	"github.com/backyonatan-alt/sitewatch/internal/objectstore"
	"github.com/backyonatan-alt/sitewatch/internal/pipeline"
	"github.com/backyonatan-alt/sitewatch/internal/scheduler"
	"github.com/backyonatan-alt/sitewatch/internal/server"
	"github.com/backyonatan-alt/sitewatch/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("sitewatch exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var uploader imagery.Uploader
	if cfg.Imagery.Provider != config.ProviderMock {
		client, err := objectstore.NewMinIOClient(cfg.ObjectStore)
		if err != nil {
			return err
		}
		if err := objectstore.EnsureBucket(ctx, client, cfg.ObjectStore); err != nil {
			return err
		}
		u, err := objectstore.NewUploader(client, cfg.ObjectStore)
		if err != nil {
			return err
		}
		uploader = u
	}

	provider, err := imagery.New(ctx, cfg.Imagery, uploader, m.IncFallback)
	if err != nil {
		return err
	}

	c := cache.New()
	monitor := pipeline.New(st, provider,
		pipeline.WithStatuses(cfg.ActiveStatuses...),
		pipeline.WithRadius(cfg.Monitor.RadiusMeters),
		pipeline.WithDelay(cfg.Monitor.Delay),
		pipeline.WithNotifier(notify.New(cfg.NotifyWebhookURL)),
		pipeline.WithMetrics(m),
		pipeline.WithCache(c),
	)

	sched, err := scheduler.New(monitor, cfg.Monitor.Schedule, cfg.Monitor.RunOnStart)
	if err != nil {
		return err
	}

	srv := server.New(cfg.AllowedOrigins, monitor, c, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv.Router(),
		ReadTimeout: 5 * time.Second,
		// Manual runs hold the request open until every project is processed.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	monitor.Close()
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		mem := store.NewMemory()
		if cfg.ProjectsFile != "" {
			if err := mem.LoadFile(cfg.ProjectsFile); err != nil {
				return nil, nil, err
			}
		}
		slog.Info("using in-memory project store", "seed", cfg.ProjectsFile)
		return mem, func() {}, nil
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, time.Minute)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgres(db)
	if err := pg.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return pg, func() { db.Close() }, nil
}
