package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-costing/cmd/costctl/cli"
	"github.com/odyssey-erp/odyssey-costing/internal/app"
	"github.com/odyssey-erp/odyssey-costing/internal/costing"
	"github.com/odyssey-erp/odyssey-costing/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-costing/internal/platform/db"
)

type poolMigrator struct {
	pool *pgxpool.Pool
}

func (m poolMigrator) Up(ctx context.Context) error {
	return db.MigrateUp(ctx, m.pool)
}

func (m poolMigrator) Status(ctx context.Context) error {
	return db.MigrateStatus(ctx, m.pool)
}

func connect(ctx context.Context) (*cli.Runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLoggerTo(cfg, os.Stderr)
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pool, err := db.New(ctx, cfg.Postgres("costctl"))
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, snapshot cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	queue, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		pool.Close()
		return nil, err
	}

	repo := costing.NewRepository(pool)
	engine := costing.NewEngine(repo, repo, cfg.Engine(), logger, nil)
	service := costing.NewService(engine, repo, costing.NewCache(redisClient, cfg.CacheTTL), logger)

	return &cli.Runtime{
		Service:  service,
		Migrator: poolMigrator{pool: pool},
		Days:     repo,
		Queue:    queue,
		Location: loc,
		Close: func() {
			_ = queue.Close()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			pool.Close()
		},
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, connect, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
