// Package main applies the embedded PostgreSQL and ClickHouse schemas.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"solana-nft-custody/internal/config"
	"solana-nft-custody/internal/storage/migrations"
	pgstore "solana-nft-custody/internal/storage/postgres"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		logrus.WithError(err).Fatal("load .env")
	}

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional)")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *postgresDSN == "" && *clickhouseDSN == "" {
		logger.Fatal("--postgres-dsn or --clickhouse-dsn is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *postgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.WithError(err).Fatal("connect postgres")
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool.Pool); err != nil {
			logger.WithError(err).Fatal("migrate postgres")
		}
		version, err := migrations.PostgresVersion(ctx, pool.Pool)
		if err != nil {
			logger.WithError(err).Fatal("read postgres version")
		}
		logger.WithField("version", version).Info("postgres schema up to date")
	}

	if *clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.WithError(err).Fatal("migrate clickhouse")
		}
		conn.Close()
		logger.Info("clickhouse schema up to date")
	}
}
