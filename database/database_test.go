package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahilchouksey/askable/services/chatstore"
)

func TestSQLiteStoreLifecycle(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Init())
	require.NoError(t, store.Init(), "init is idempotent")
	require.NoError(t, store.HealthCheck(context.Background()))

	var n int
	require.NoError(t, store.DB().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('chats', 'rate_limits')`,
	).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestRunSeeds(t *testing.T) {
	sqlite, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer sqlite.Close()
	require.NoError(t, sqlite.Init())

	backend := chatstore.NewSQLiteBackend(sqlite.DB())
	ids, err := RunSeeds(context.Background(), backend)
	require.NoError(t, err)
	require.Len(t, ids, len(SampleDatasets))

	chat, err := backend.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, SampleDatasets[0].Headers, chat.CSVHeaders)
	assert.Equal(t, "Which brand has the most stock?", chat.Title)
	assert.Empty(t, chat.Messages)
}

func TestConnectRequiresURL(t *testing.T) {
	_, err := ConnectRedis(context.Background(), "")
	assert.EqualError(t, err, "missing required env var: REDIS_URL")

	_, err = ConnectMongo(context.Background(), "", "askable")
	assert.EqualError(t, err, "missing required env var: MONGO_URI")
}
