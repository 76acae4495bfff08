package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/backstage/services/provenance/config"
	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/eventstore"
	"example.com/backstage/services/provenance/internal/metrics"
)

func TestConnectSQLiteAndMigrate(t *testing.T) {
	db, err := Connect(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())

	before := metrics.GetCollector().Snapshot().Counters[metrics.CounterDBQueriesTotal]

	store := eventstore.NewGormStore(db.DB())
	_, err = store.CreateBatch(context.Background(), domain.Batch{
		ID:          "CHT-100-AAA",
		ProductName: "Cocoa",
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)

	_, err = store.GetBatch(context.Background(), "CHT-100-AAA")
	require.NoError(t, err)

	after := metrics.GetCollector().Snapshot().Counters[metrics.CounterDBQueriesTotal]
	require.Greater(t, after, before)
}

func TestConnectRejectsUnknownDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
}
