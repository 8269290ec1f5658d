package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/shopmind/shopmind/internal/profile"
	"github.com/shopmind/shopmind/store"
)

// The container tests run the shared conversation checks against real database
// servers. They need Docker and are enabled with SHOPMIND_TEST_DOCKER=1.

func TestPostgresConversationStore(t *testing.T) {
	if !dockerEnabled() {
		t.Skip("SHOPMIND_TEST_DOCKER not set")
	}
	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("shopmind"),
		tcpostgres.WithUsername("shopmind"),
		tcpostgres.WithPassword("shopmind"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	ts := openStore(ctx, t, &profile.Profile{Mode: "dev", Driver: "postgres", DSN: dsn, DBTLSMode: "disable"})
	exerciseConversationStore(ctx, t, ts)
}

func TestMySQLConversationStore(t *testing.T) {
	if !dockerEnabled() {
		t.Skip("SHOPMIND_TEST_DOCKER not set")
	}
	ctx := context.Background()
	ctr, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("shopmind"),
		tcmysql.WithUsername("shopmind"),
		tcmysql.WithPassword("shopmind"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)
	ts := openStore(ctx, t, &profile.Profile{Mode: "dev", Driver: "mysql", DSN: dsn, DBTLSMode: "disable"})
	exerciseConversationStore(ctx, t, ts)
}

func exerciseConversationStore(ctx context.Context, t *testing.T, ts *store.Store) {
	cs := store.NewAnnotatedConversationStore(ts, ts)
	_, err := ts.CreateThread(ctx, &store.Thread{ID: "t1", UserID: "u1"})
	require.NoError(t, err)

	cfg := putMessages(ctx, t, cs, store.RunnableConfig{ThreadID: "t1", UserID: "u1"}, buildMessages(4))
	_, err = ts.ApplyMessageAction(ctx, &store.UpdateMessageAction{ThreadID: "t1", MessageIndex: 3, Action: store.MessageActionFavorite})
	require.NoError(t, err)
	putMessages(ctx, t, cs, cfg, buildMessages(5))

	list, err := cs.GetWithMetadata(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, m := range list {
		require.Equal(t, i == 3, m["is_favorited"], "index %d", i)
	}

	_, err = cs.Put(ctx, cfg, &store.Checkpoint{ID: "stale"}, store.CheckpointMetadata{}, nil)
	require.ErrorIs(t, err, store.ErrStaleCheckpoint)
}
