package test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmind/shopmind/store"
)

func newConversationStore(ctx context.Context, t *testing.T) (*store.Store, *store.AnnotatedConversationStore) {
	ts := NewTestingStore(ctx, t)
	return ts, store.NewAnnotatedConversationStore(ts, ts)
}

func buildMessages(n int) []*store.Message {
	list := make([]*store.Message, 0, n)
	for i := 0; i < n; i++ {
		typ := store.MessageTypeHuman
		if i%2 == 1 {
			typ = store.MessageTypeAI
		}
		list = append(list, &store.Message{
			ID:      fmt.Sprintf("msg-%d", i),
			Type:    typ,
			Content: fmt.Sprintf("message %d", i),
			Index:   i,
		})
	}
	return list
}

func putMessages(ctx context.Context, t *testing.T, cs *store.AnnotatedConversationStore, cfg store.RunnableConfig, messages []*store.Message) store.RunnableConfig {
	t.Helper()
	cp, err := store.NewCheckpoint(messages)
	require.NoError(t, err)
	next, err := cs.Put(ctx, cfg, cp, store.CheckpointMetadata{Source: "loop"}, nil)
	require.NoError(t, err)
	return next
}

func TestConversationStorePutRequiresThreadID(t *testing.T) {
	ctx := context.Background()
	_, cs := newConversationStore(ctx, t)

	cp, err := store.NewCheckpoint(buildMessages(1))
	require.NoError(t, err)
	_, err = cs.Put(ctx, store.RunnableConfig{}, cp, store.CheckpointMetadata{}, nil)
	require.ErrorIs(t, err, store.ErrMissingThreadID)

	err = cs.PutWrites(ctx, store.RunnableConfig{}, []store.PendingWrite{{Channel: "messages", Value: "x"}}, "task")
	require.ErrorIs(t, err, store.ErrMissingThreadID)
}

func TestConversationStoreGetMissingThread(t *testing.T) {
	ctx := context.Background()
	_, cs := newConversationStore(ctx, t)

	cp, err := cs.Get(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, cp)

	list, err := cs.GetWithMetadata(ctx, "nope")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestConversationStoreMetadataPositionalIntegrity(t *testing.T) {
	ctx := context.Background()
	ts, cs := newConversationStore(ctx, t)

	cfg := putMessages(ctx, t, cs, store.RunnableConfig{ThreadID: "t1", UserID: "u1"}, buildMessages(5))
	require.Equal(t, int64(1), cfg.Version)

	_, err := ts.ApplyMessageAction(ctx, &store.UpdateMessageAction{
		ThreadID:     "t1",
		MessageIndex: 2,
		MessageID:    "msg-2",
		UserID:       "u1",
		Action:       store.MessageActionBookmark,
	})
	require.NoError(t, err)

	list, err := cs.GetWithMetadata(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, m := range list {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), m["id"])
		assert.Equal(t, i == 2, m["is_bookmarked"], "index %d", i)
		assert.Equal(t, false, m["is_flagged"])
	}
}

func TestConversationStoreUpsertNarrowing(t *testing.T) {
	ctx := context.Background()
	ts, cs := newConversationStore(ctx, t)

	first := []*store.Message{{ID: "m0", Type: store.MessageTypeAI, Content: "first"}}
	cfg := putMessages(ctx, t, cs, store.RunnableConfig{ThreadID: "t1", UserID: "alice"}, first)

	for _, action := range []store.MessageAction{store.MessageActionFavorite, store.MessageActionBookmark, store.MessageActionFlag, store.MessageActionArchive} {
		_, err := ts.ApplyMessageAction(ctx, &store.UpdateMessageAction{ThreadID: "t1", MessageIndex: 0, UserID: "alice", Action: action})
		require.NoError(t, err)
	}

	second := []*store.Message{{ID: "m0", Type: store.MessageTypeAI, Content: "rewritten", MessageFlags: store.MessageFlags{IsLiked: true}}}
	cfg.UserID = "bob"
	putMessages(ctx, t, cs, cfg, second)

	index := 0
	rows, err := ts.ListMessageMetadata(ctx, &store.FindMessageMetadata{ThreadID: "t1", MessageIndex: &index})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	require.Equal(t, "bob", row.UserID)
	require.True(t, row.IsLiked)
	require.True(t, row.IsFavorited)
	require.True(t, row.IsBookmarked)
	require.True(t, row.IsFlagged)
	require.True(t, row.IsArchived)
	require.NotNil(t, row.MessageID)
	require.Equal(t, "m0", *row.MessageID)
}

func TestConversationStoreLikeDislikeExclusion(t *testing.T) {
	ctx := context.Background()
	ts, cs := newConversationStore(ctx, t)
	putMessages(ctx, t, cs, store.RunnableConfig{ThreadID: "t1"}, buildMessages(2))

	row, err := ts.ApplyMessageAction(ctx, &store.UpdateMessageAction{ThreadID: "t1", MessageIndex: 1, Action: store.MessageActionDislike})
	require.NoError(t, err)
	require.True(t, row.IsDisliked)

	row, err = ts.ApplyMessageAction(ctx, &store.UpdateMessageAction{ThreadID: "t1", MessageIndex: 1, Action: store.MessageActionLike})
	require.NoError(t, err)
	require.True(t, row.IsLiked)
	require.False(t, row.IsDisliked)

	list, err := cs.GetWithMetadata(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, true, list[1]["is_liked"])
	require.Equal(t, false, list[1]["is_disliked"])
}

func TestConversationStoreOptimisticVersion(t *testing.T) {
	ctx := context.Background()
	_, cs := newConversationStore(ctx, t)

	base := store.RunnableConfig{ThreadID: "t1"}
	cfg := putMessages(ctx, t, cs, base, buildMessages(2))

	// A second writer that still believes the thread is empty loses.
	cp, err := store.NewCheckpoint(buildMessages(3))
	require.NoError(t, err)
	_, err = cs.Put(ctx, base, cp, store.CheckpointMetadata{}, nil)
	require.True(t, errors.Is(err, store.ErrStaleCheckpoint))

	next := putMessages(ctx, t, cs, cfg, buildMessages(3))
	require.Equal(t, int64(2), next.Version)
}

func TestConversationStoreRejectsNonAppendOnly(t *testing.T) {
	ctx := context.Background()
	_, cs := newConversationStore(ctx, t)
	cfg := putMessages(ctx, t, cs, store.RunnableConfig{ThreadID: "t1"}, buildMessages(3))

	shorter, err := store.NewCheckpoint(buildMessages(2))
	require.NoError(t, err)
	_, err = cs.Put(ctx, cfg, shorter, store.CheckpointMetadata{}, nil)
	require.ErrorIs(t, err, store.ErrNonAppendOnly)

	reordered := buildMessages(3)
	reordered[0], reordered[1] = reordered[1], reordered[0]
	cp, err := store.NewCheckpoint(reordered)
	require.NoError(t, err)
	_, err = cs.Put(ctx, cfg, cp, store.CheckpointMetadata{}, nil)
	require.ErrorIs(t, err, store.ErrNonAppendOnly)
}

func TestConversationStoreNormalizesMessageShapes(t *testing.T) {
	ctx := context.Background()
	_, cs := newConversationStore(ctx, t)

	raw := json.RawMessage(`[
		{"id":"a","type":"human","content":"plain"},
		{"lc":1,"type":"constructor","id":["langchain_core","messages","HumanMessage"],"kwargs":{"id":"b","content":"wrapped"}},
		{"role":"assistant","content":"chat style","id":"c"}
	]`)
	cp := &store.Checkpoint{ID: "cp1", ChannelValues: map[string]json.RawMessage{store.MessagesChannel: raw}}
	_, err := cs.Put(ctx, store.RunnableConfig{ThreadID: "t1"}, cp, store.CheckpointMetadata{}, nil)
	require.NoError(t, err)

	list, err := cs.GetWithMetadata(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "plain", list[0]["content"])
	require.Equal(t, "human", list[1]["type"])
	require.Equal(t, "wrapped", list[1]["data"].(map[string]any)["content"])
	require.Equal(t, "ai", list[2]["type"])
	require.Equal(t, "b", list[1]["message_id"])

	messages, err := store.DecodeMessages(list)
	require.NoError(t, err)
	require.Equal(t, store.MessageTypeHuman, messages[1].Type)
	require.Equal(t, "wrapped", messages[1].Content)
	require.Equal(t, 2, messages[2].Index)
}

func TestConversationStoreNonArrayMessages(t *testing.T) {
	ctx := context.Background()
	ts, cs := newConversationStore(ctx, t)

	cp := &store.Checkpoint{ID: "cp1", ChannelValues: map[string]json.RawMessage{store.MessagesChannel: json.RawMessage(`{"not":"a list"}`)}}
	_, err := cs.Put(ctx, store.RunnableConfig{ThreadID: "t1"}, cp, store.CheckpointMetadata{}, nil)
	require.NoError(t, err)

	rows, err := ts.ListMessageMetadata(ctx, &store.FindMessageMetadata{ThreadID: "t1"})
	require.NoError(t, err)
	require.Empty(t, rows)

	list, err := cs.GetWithMetadata(ctx, "t1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestConversationStorePendingWrites(t *testing.T) {
	ctx := context.Background()
	_, cs := newConversationStore(ctx, t)
	cfg := putMessages(ctx, t, cs, store.RunnableConfig{ThreadID: "t1"}, buildMessages(2))

	err := cs.PutWrites(ctx, cfg, []store.PendingWrite{
		{Channel: store.MessagesChannel, Value: &store.Message{ID: "tool-1", Type: store.MessageTypeTool, Content: "ok", ToolCallID: "call-1"}},
	}, "call-1")
	require.NoError(t, err)

	state, err := cs.State(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	require.Len(t, state.PendingWrites, 1)
	require.Equal(t, "call-1", state.PendingWrites[0].TaskID)
	require.Equal(t, cfg.CheckpointID, state.Config.CheckpointID)

	// Writes recorded against an older checkpoint are not returned.
	putMessages(ctx, t, cs, state.Config, buildMessages(3))
	state, err = cs.State(ctx, "t1")
	require.NoError(t, err)
	require.Empty(t, state.PendingWrites)
}

func TestConversationStorePutIsAtomic(t *testing.T) {
	ctx := context.Background()
	ts, cs := newConversationStore(ctx, t)
	cfg := putMessages(ctx, t, cs, store.RunnableConfig{ThreadID: "t1"}, buildMessages(2))

	_, err := ts.GetDriver().GetDB().ExecContext(ctx, "DROP TABLE `message_metadata`")
	require.NoError(t, err)

	cp, err := store.NewCheckpoint(buildMessages(3))
	require.NoError(t, err)
	_, err = cs.Put(ctx, cfg, cp, store.CheckpointMetadata{Source: "loop"}, nil)
	require.Error(t, err)

	// The checkpoint save rolled back with the failed metadata upsert.
	record, err := ts.GetCheckpoint(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, cfg.Version, record.Version)
	assert.Equal(t, cfg.CheckpointID, record.CheckpointID)
}

type failingAnnotations struct {
	store *store.Store
	fail  bool
}

func (f *failingAnnotations) UpsertMessageMetadata(ctx context.Context, rows []*store.MessageMetadata) error {
	if f.fail {
		return errors.New("metadata backend unavailable")
	}
	return f.store.UpsertMessageMetadata(ctx, rows)
}

func (f *failingAnnotations) ListMessageMetadata(ctx context.Context, find *store.FindMessageMetadata) ([]*store.MessageMetadata, error) {
	return f.store.ListMessageMetadata(ctx, find)
}

func TestConversationStoreSplitBackendsReturnAdvancedConfig(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	annotations := &failingAnnotations{store: ts}
	cs := store.NewAnnotatedConversationStore(ts, annotations)

	cfg := putMessages(ctx, t, cs, store.RunnableConfig{ThreadID: "t1", UserID: "u1"}, buildMessages(2))
	require.Equal(t, int64(1), cfg.Version)

	annotations.fail = true
	cp, err := store.NewCheckpoint(buildMessages(3))
	require.NoError(t, err)
	next, err := cs.Put(ctx, cfg, cp, store.CheckpointMetadata{Source: "loop"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert message metadata")
	require.Equal(t, int64(2), next.Version)
	require.Equal(t, cp.ID, next.CheckpointID)

	// The advanced config keeps the thread writable.
	annotations.fail = false
	last := putMessages(ctx, t, cs, next, buildMessages(4))
	assert.Equal(t, int64(3), last.Version)

	rows, err := ts.ListMessageMetadata(ctx, &store.FindMessageMetadata{ThreadID: "t1"})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}
