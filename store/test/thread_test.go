package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shopmind/shopmind/store"
)

func TestThreadStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	created, err := ts.CreateThread(ctx, &store.Thread{ID: "t1", UserID: "u1", Title: "Top products"})
	require.NoError(t, err)
	require.Equal(t, "Top products", created.Title)

	_, err = ts.CreateThread(ctx, &store.Thread{ID: "t2", UserID: "u2"})
	require.NoError(t, err)

	userID := "u1"
	list, err := ts.ListThreads(ctx, &store.FindThread{UserID: &userID})
	require.NoError(t, err)
	require.Len(t, list, 1)

	usage := store.TokenUsage{}
	usage.Add("gpt-4o-mini", 100, 20, 10, 0.5, time.Unix(1700000000, 0))
	bookmarked := true
	updated, err := ts.UpdateThread(ctx, &store.UpdateThread{ID: "t1", Bookmarked: &bookmarked, TokenUsage: &usage})
	require.NoError(t, err)
	require.True(t, updated.Bookmarked)
	require.Equal(t, int64(120), updated.TokenUsage.TotalTokens)
	require.Equal(t, int64(10), updated.TokenUsage.CachedTokens)
	require.InDelta(t, 0.5, updated.TokenUsage.CostByModel["gpt-4o-mini"], 1e-9)

	missing, err := ts.GetThread(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, missing)

	_, err = ts.CreateThread(ctx, &store.Thread{})
	require.ErrorIs(t, err, store.ErrMissingThreadID)
}
