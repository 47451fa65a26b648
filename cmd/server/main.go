// Package main runs the custody service: HTTP API, websocket feed, metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"solana-nft-custody/internal/api"
	"solana-nft-custody/internal/config"
	"solana-nft-custody/internal/custody"
	"solana-nft-custody/internal/events"
	"solana-nft-custody/internal/feed"
	"solana-nft-custody/internal/ledgerrpc"
	"solana-nft-custody/internal/logging"
	"solana-nft-custody/internal/storage"
	chstore "solana-nft-custody/internal/storage/clickhouse"
	"solana-nft-custody/internal/storage/memory"
	"solana-nft-custody/internal/storage/migrations"
	pgstore "solana-nft-custody/internal/storage/postgres"
	"solana-nft-custody/internal/swap"
)

func main() {
	cfg, err := config.Load("custody-server", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, closer, err := logging.New("custody-server", cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("server stopped")
		closer.Close()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// backends holds the stores selected by configuration.
type backends struct {
	db      storage.TxManager
	fees    storage.FeeReportStore // nil without analytics
	cleanup []func()
}

func (b *backends) close() {
	for i := len(b.cleanup) - 1; i >= 0; i-- {
		b.cleanup[i]()
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	hub := feed.NewHub(&feed.HubConfig{
		SendBuffer:     cfg.Feed.SendBuffer,
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		AllowedOrigins: cfg.Server.CORSOrigins,
	}, logger.WithField("component", "feed"))
	defer hub.Close()

	publisher := events.NewFanout()
	publisher.Add("feed", hub)
	if b.fees != nil {
		publisher.Add("analytics", events.NewStoreSink(b.fees))
	}

	mgr := custody.NewManager(b.db, cfg.ProgramKey(),
		custody.WithPolicy(custody.Policy{
			StrictTransitions:             cfg.Custody.StrictTransitions,
			RequireMatchingUnlockReceiver: cfg.Custody.RequireMatchingUnlockReceiver,
		}),
		custody.WithPublisher(publisher),
		custody.WithLogger(logger.WithField("component", "custody")),
	)

	swapOpts := []swap.Option{
		swap.WithPublisher(publisher),
		swap.WithLogger(logger.WithField("component", "swap")),
	}
	if cfg.Swap.CustodianURL != "" {
		swapOpts = append(swapOpts, swap.WithCustodian(ledgerrpc.NewClient(cfg.Swap.CustodianURL)))
		logger.WithField("custodian", cfg.Swap.CustodianURL).Info("swap settlement through external custodian")
	}
	exec := swap.NewExecutor(b.db, swapOpts...)

	apiOpts := []api.Option{
		api.WithFeed(hub),
		api.WithLogger(logger.WithField("component", "api")),
	}
	if b.fees != nil {
		apiOpts = append(apiOpts, api.WithFeeReports(b.fees))
	}
	srv := api.NewServer(mgr, exec, b.db, api.Config{
		CORSOrigins:   cfg.Server.CORSOrigins,
		SignatureSkew: cfg.Server.SignatureSkew,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	}, apiOpts...)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Server.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Feed connections are hijacked and not tracked by Shutdown.
	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func openBackends(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*backends, error) {
	b := &backends{}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		var pool *pgstore.Pool
		err := connectWithRetry(ctx, cfg, logger, "postgres", func() error {
			var err error
			pool, err = pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
			return err
		})
		if err != nil {
			return nil, err
		}
		b.cleanup = append(b.cleanup, pool.Close)

		if err := migrations.RunPostgresMigrations(ctx, pool.Pool); err != nil {
			b.close()
			return nil, err
		}
		version, err := migrations.PostgresVersion(ctx, pool.Pool)
		if err != nil {
			b.close()
			return nil, err
		}
		logger.WithField("schema_version", version).Info("postgres ready")
		b.db = pgstore.NewDB(pool)

	default:
		db := memory.NewDB()
		if err := cfg.Fixtures.Seed(ctx, db, time.Now().UnixMilli()); err != nil {
			return nil, fmt.Errorf("seed fixtures: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"accounts": len(cfg.Fixtures.Accounts),
			"assets":   len(cfg.Fixtures.Assets),
		}).Warn("using in-memory storage; state is lost on exit")
		b.db = db
	}

	if cfg.Storage.ClickhouseDSN != "" {
		var conn *chstore.Conn
		err := connectWithRetry(ctx, cfg, logger, "clickhouse", func() error {
			var err error
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
			return err
		})
		if err != nil {
			b.close()
			return nil, err
		}
		b.cleanup = append(b.cleanup, func() { conn.Close() })
		b.fees = chstore.NewFeeReportStore(conn)
		logger.Info("clickhouse fee analytics ready")
	} else if cfg.Storage.Backend == config.BackendMemory {
		b.fees = memory.NewFeeReportStore()
	}

	return b, nil
}

// connectWithRetry retries fn with exponential backoff until it succeeds,
// attempts run out, or ctx ends.
func connectWithRetry(ctx context.Context, cfg *config.Config, logger *logrus.Logger, name string, fn func() error) error {
	err := retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(cfg.Storage.ConnectAttempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(10*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.WithFields(logrus.Fields{"backend": name, "attempt": n + 1}).WithError(err).Warn("connect failed, retrying")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	return nil
}
