package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jensholdgaard/auctionhub/internal/alert"
	"github.com/jensholdgaard/auctionhub/internal/auction"
	"github.com/jensholdgaard/auctionhub/internal/auth"
	"github.com/jensholdgaard/auctionhub/internal/cache"
	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/config"
	"github.com/jensholdgaard/auctionhub/internal/health"
	"github.com/jensholdgaard/auctionhub/internal/httpapi"
	"github.com/jensholdgaard/auctionhub/internal/invoice"
	"github.com/jensholdgaard/auctionhub/internal/leader"
	"github.com/jensholdgaard/auctionhub/internal/metrics"
	"github.com/jensholdgaard/auctionhub/internal/negotiation"
	"github.com/jensholdgaard/auctionhub/internal/notify"
	"github.com/jensholdgaard/auctionhub/internal/realtime"
	"github.com/jensholdgaard/auctionhub/internal/store"
	"github.com/jensholdgaard/auctionhub/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/auctionhub/internal/store/memstore"
	_ "github.com/jensholdgaard/auctionhub/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("reading .env failed", slog.Any("error", err))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()
	logger.InfoContext(ctx, "connected to ledger", slog.String("driver", cfg.Database.Driver))

	c := cache.New(ctx, cfg.Redis, cfg.Bidding.StateTTL, clk, logger)
	defer c.Close()

	var mailer notify.Notifier = notify.Log{Logger: logger}
	if cfg.Notifier.Driver == "amqp" {
		broker := notify.NewAMQP(cfg.Notifier.AMQPURL, cfg.Notifier.Queue, cfg.Notifier.From)
		defer broker.Close()
		mailer = broker
	}
	async := notify.NewAsync(mailer, cfg.Notifier.MaxInFlight, logger, m)
	defer async.Wait()
	recorder := notify.NewRecorder(repos.Notifications, async, logger, m)

	alerter, err := alert.New(cfg.Alert, logger)
	if err != nil {
		return fmt.Errorf("creating alerter: %w", err)
	}

	docs, err := invoice.NewPDF(cfg.Invoice.Dir, cfg.Invoice.URLPrefix, clk)
	if err != nil {
		return fmt.Errorf("creating invoice generator: %w", err)
	}

	authSvc := auth.NewService(repos.Users, cfg.Auth, clk, logger, tp.TracerProvider)
	hub := realtime.NewHub(cfg.Realtime, authSvc, m, logger, tp.TracerProvider)
	defer hub.Close()

	coordinator := auction.NewCoordinator(repos, c, hub, recorder, m, cfg.Bidding, clk, logger, tp.TracerProvider)
	scheduler := auction.NewScheduler(repos, c, hub, recorder, alerter, m, cfg.Scheduler, clk, logger, tp.TracerProvider)
	defer scheduler.Stop()
	catalog := auction.NewCatalog(repos.Auctions, c, scheduler, clk, logger, tp.TracerProvider)
	negotiator := negotiation.New(repos, c, docs, recorder, hub, m, clk, logger, tp.TracerProvider)

	healthHandler := health.NewHandler(clk,
		health.Checker{Name: "ledger", Check: repos.Ping},
		health.Checker{Name: "cache", Check: c.Ping, Advisory: true},
	)

	api := httpapi.New(httpapi.Deps{
		Auth:       authSvc,
		Repos:      repos,
		Catalog:    catalog,
		Scheduler:  scheduler,
		Negotiator: negotiator,
		Hub:        hub,
		Session:    coordinator,
		Health:     healthHandler,
		Gatherer:   reg,
		InvoiceDir: docs.Dir(),
		Logger:     logger,
		Tracer:     tp.TracerProvider,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
			cancel()
		}
	}()
	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "auctionhub is running", slog.String("version", version))

	// Every replica serves bids and tracks the auctions it creates; the
	// leader additionally recovers lifecycle timers for every open auction.
	lead := func(ctx context.Context) {
		if recoverErr := scheduler.Reconcile(ctx); recoverErr != nil {
			logger.ErrorContext(ctx, "auction recovery failed", slog.Any("error", recoverErr))
		}
		<-ctx.Done()
	}
	if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, m, lead, func() {
		if ctx.Err() == nil {
			logger.Info("lost leadership, shutting down...")
		}
		cancel()
	}); leaderErr != nil {
		return fmt.Errorf("leader election: %w", leaderErr)
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
