package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), "migrations")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "00001_costing_catalog.sql", entries[0].Name())
	require.Equal(t, "00002_cost_snapshots.sql", entries[1].Name())
	require.Equal(t, "00003_idempotency_keys.sql", entries[2].Name())

	for _, entry := range entries {
		raw, err := fs.ReadFile(Migrations(), "migrations/"+entry.Name())
		require.NoError(t, err)
		body := string(raw)
		require.True(t, strings.HasPrefix(body, "-- +goose Up"), entry.Name())
		require.Contains(t, body, "-- +goose Down")
	}
}

func TestSnapshotTableIsKeyedByProductAndDay(t *testing.T) {
	raw, err := fs.ReadFile(Migrations(), "migrations/00002_cost_snapshots.sql")
	require.NoError(t, err)
	require.Contains(t, string(raw), "PRIMARY KEY (product_id, snapshot_date)")
}
