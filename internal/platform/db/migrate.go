package db

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const postgresDialect = "postgres"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations exposes the embedded SQL migrations.
func Migrations() embed.FS {
	return migrationsFS
}

// MigrateUp applies all pending migrations.
func MigrateUp(ctx context.Context, pool *pgxpool.Pool) error {
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()
	if err := setupGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("platform/db: goose up: %w", err)
	}
	return nil
}

// MigrateStatus prints the state of every migration through goose's logger.
func MigrateStatus(ctx context.Context, pool *pgxpool.Pool) error {
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()
	if err := setupGoose(); err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("platform/db: goose status: %w", err)
	}
	return nil
}

func setupGoose() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(postgresDialect); err != nil {
		return fmt.Errorf("platform/db: set goose dialect: %w", err)
	}
	return nil
}
