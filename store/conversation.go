package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ConversationStateStore saves and loads opaque checkpoint snapshots by thread id.
type ConversationStateStore interface {
	SaveCheckpoint(ctx context.Context, record *CheckpointRecord, expectedVersion int64) (*CheckpointRecord, error)
	GetCheckpoint(ctx context.Context, threadID string) (*CheckpointRecord, error)
	CreateCheckpointWrites(ctx context.Context, writes []*CheckpointWrite) error
	ListCheckpointWrites(ctx context.Context, find *FindCheckpointWrite) ([]*CheckpointWrite, error)
}

// MessageAnnotationStore upserts and queries per-message metadata rows.
type MessageAnnotationStore interface {
	UpsertMessageMetadata(ctx context.Context, rows []*MessageMetadata) error
	ListMessageMetadata(ctx context.Context, find *FindMessageMetadata) ([]*MessageMetadata, error)
}

// AtomicCheckpointStore saves a checkpoint and its metadata rows as one unit.
// Put prefers it when the state and annotation stores are the same backend.
type AtomicCheckpointStore interface {
	SaveCheckpointWithMetadata(ctx context.Context, record *CheckpointRecord, expectedVersion int64, rows []*MessageMetadata) (*CheckpointRecord, error)
}

// PendingWrite is a single channel write recorded between checkpoints.
type PendingWrite struct {
	Channel string
	Value   any
}

// ThreadState is the reconstructed state of a thread.
type ThreadState struct {
	Config        RunnableConfig
	Messages      []*Message
	PendingWrites []*CheckpointWrite
}

// AnnotatedConversationStore composes checkpoint persistence with the message
// metadata overlay. Messages are merged with metadata by position, so the message
// list of a thread must only ever be appended to; Put enforces this.
type AnnotatedConversationStore struct {
	state       ConversationStateStore
	annotations MessageAnnotationStore
}

func NewAnnotatedConversationStore(state ConversationStateStore, annotations MessageAnnotationStore) *AnnotatedConversationStore {
	return &AnnotatedConversationStore{
		state:       state,
		annotations: annotations,
	}
}

// Put writes the snapshot and upserts one metadata row per message index.
// The returned config carries the new checkpoint id and version. With split
// backends a failed metadata upsert still returns the advanced config.
func (s *AnnotatedConversationStore) Put(ctx context.Context, config RunnableConfig, checkpoint *Checkpoint, metadata CheckpointMetadata, versions map[string]int64) (RunnableConfig, error) {
	if config.ThreadID == "" {
		return config, ErrMissingThreadID
	}
	if checkpoint == nil {
		return config, errors.New("checkpoint is required")
	}
	if len(versions) > 0 {
		if checkpoint.ChannelVersions == nil {
			checkpoint.ChannelVersions = map[string]int64{}
		}
		for channel, v := range versions {
			checkpoint.ChannelVersions[channel] = v
		}
	}

	messages, hasMessages := checkpoint.RawMessages()
	previous, err := s.state.GetCheckpoint(ctx, config.ThreadID)
	if err != nil {
		return config, errors.Wrap(err, "failed to load previous checkpoint")
	}
	if previous != nil {
		if previous.Version != config.Version {
			return config, errors.Wrapf(ErrStaleCheckpoint, "thread %s is at version %d, write is based on %d", config.ThreadID, previous.Version, config.Version)
		}
		if hasMessages {
			if err := checkAppendOnly(previous, messages); err != nil {
				return config, err
			}
		}
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return config, errors.Wrap(err, "failed to marshal checkpoint")
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return config, errors.Wrap(err, "failed to marshal checkpoint metadata")
	}
	record := &CheckpointRecord{
		ThreadID:     config.ThreadID,
		CheckpointID: checkpoint.ID,
		Data:         string(data),
		Metadata:     string(meta),
		UpdatedTs:    time.Now().Unix(),
	}
	var rows []*MessageMetadata
	if hasMessages {
		rows = make([]*MessageMetadata, 0, len(messages))
		for idx, raw := range messages {
			normalized := normalizeMessage(raw)
			row := &MessageMetadata{
				ThreadID:     config.ThreadID,
				MessageIndex: idx,
				UserID:       config.UserID,
			}
			if id := messageIDOf(normalized); id != "" {
				row.MessageID = &id
			}
			row.IsLiked = isLikedOf(normalized)
			rows = append(rows, row)
		}
	}

	if atomic, ok := s.atomicStore(); ok {
		saved, err := atomic.SaveCheckpointWithMetadata(ctx, record, config.Version, rows)
		if err != nil {
			return config, err
		}
		return advance(config, checkpoint.ID, saved.Version), nil
	}

	saved, err := s.state.SaveCheckpoint(ctx, record, config.Version)
	if err != nil {
		return config, err
	}
	next := advance(config, checkpoint.ID, saved.Version)
	if len(rows) > 0 {
		// The checkpoint is already stored; hand back the advanced config so the
		// caller can keep writing on top of it.
		if err := s.annotations.UpsertMessageMetadata(ctx, rows); err != nil {
			return next, errors.Wrap(err, "failed to upsert message metadata")
		}
	}
	return next, nil
}

func (s *AnnotatedConversationStore) atomicStore() (AtomicCheckpointStore, bool) {
	atomic, ok := s.state.(AtomicCheckpointStore)
	if !ok {
		return nil, false
	}
	if annotations, ok := s.annotations.(AtomicCheckpointStore); !ok || annotations != atomic {
		return nil, false
	}
	return atomic, true
}

func advance(config RunnableConfig, checkpointID string, version int64) RunnableConfig {
	return RunnableConfig{
		ThreadID:     config.ThreadID,
		CheckpointID: checkpointID,
		UserID:       config.UserID,
		Version:      version,
	}
}

// PutWrites records intermediate writes made after config.CheckpointID.
func (s *AnnotatedConversationStore) PutWrites(ctx context.Context, config RunnableConfig, writes []PendingWrite, taskID string) error {
	if config.ThreadID == "" {
		return ErrMissingThreadID
	}
	now := time.Now().Unix()
	list := make([]*CheckpointWrite, 0, len(writes))
	for idx, w := range writes {
		value, err := json.Marshal(w.Value)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal write for channel %s", w.Channel)
		}
		list = append(list, &CheckpointWrite{
			ThreadID:     config.ThreadID,
			CheckpointID: config.CheckpointID,
			TaskID:       taskID,
			Idx:          idx,
			Channel:      w.Channel,
			Value:        string(value),
			CreatedTs:    now,
		})
	}
	if len(list) == 0 {
		return nil
	}
	return s.state.CreateCheckpointWrites(ctx, list)
}

// Get loads the raw checkpoint of a thread without merging metadata. It returns
// nil when the thread has no checkpoint.
func (s *AnnotatedConversationStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	_, checkpoint, err := s.load(ctx, threadID)
	return checkpoint, err
}

// GetTuple loads the checkpoint together with its metadata and pending writes.
func (s *AnnotatedConversationStore) GetTuple(ctx context.Context, threadID string) (*CheckpointTuple, error) {
	record, checkpoint, err := s.load(ctx, threadID)
	if err != nil || record == nil {
		return nil, err
	}
	tuple := &CheckpointTuple{
		Config: RunnableConfig{
			ThreadID:     threadID,
			CheckpointID: record.CheckpointID,
			Version:      record.Version,
		},
		Checkpoint: checkpoint,
	}
	if record.Metadata != "" {
		if err := json.Unmarshal([]byte(record.Metadata), &tuple.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal checkpoint metadata")
		}
	}
	checkpointID := record.CheckpointID
	writes, err := s.state.ListCheckpointWrites(ctx, &FindCheckpointWrite{ThreadID: threadID, CheckpointID: &checkpointID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending writes")
	}
	tuple.PendingWrites = writes
	return tuple, nil
}

// GetWithMetadata returns the thread's messages, in stored order, each with its
// metadata row merged on top by index.
func (s *AnnotatedConversationStore) GetWithMetadata(ctx context.Context, threadID string) ([]map[string]any, error) {
	_, checkpoint, err := s.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return s.merge(ctx, threadID, checkpoint)
}

// State loads the typed message list with metadata merged and the config needed to
// write the next checkpoint.
func (s *AnnotatedConversationStore) State(ctx context.Context, threadID string) (*ThreadState, error) {
	if threadID == "" {
		return nil, ErrMissingThreadID
	}
	tuple, err := s.GetTuple(ctx, threadID)
	if err != nil {
		return nil, err
	}
	state := &ThreadState{Config: RunnableConfig{ThreadID: threadID}}
	if tuple == nil {
		return state, nil
	}
	state.Config = tuple.Config
	state.PendingWrites = tuple.PendingWrites
	enriched, err := s.merge(ctx, threadID, tuple.Checkpoint)
	if err != nil {
		return nil, err
	}
	if state.Messages, err = DecodeMessages(enriched); err != nil {
		return nil, errors.Wrap(err, "failed to decode messages")
	}
	return state, nil
}

func (s *AnnotatedConversationStore) load(ctx context.Context, threadID string) (*CheckpointRecord, *Checkpoint, error) {
	if threadID == "" {
		return nil, nil, ErrMissingThreadID
	}
	record, err := s.state.GetCheckpoint(ctx, threadID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load checkpoint")
	}
	if record == nil {
		return nil, nil, nil
	}
	checkpoint := &Checkpoint{}
	if err := json.Unmarshal([]byte(record.Data), checkpoint); err != nil {
		return nil, nil, errors.Wrap(err, "failed to unmarshal checkpoint")
	}
	return record, checkpoint, nil
}

func (s *AnnotatedConversationStore) merge(ctx context.Context, threadID string, checkpoint *Checkpoint) ([]map[string]any, error) {
	if checkpoint == nil {
		return []map[string]any{}, nil
	}
	messages, ok := checkpoint.RawMessages()
	if !ok {
		return []map[string]any{}, nil
	}
	rows, err := s.annotations.ListMessageMetadata(ctx, &FindMessageMetadata{ThreadID: threadID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list message metadata")
	}
	byIndex := make(map[int]*MessageMetadata, len(rows))
	for _, row := range rows {
		byIndex[row.MessageIndex] = row
	}

	list := make([]map[string]any, 0, len(messages))
	for idx, raw := range messages {
		m := normalizeMessage(raw)
		if row, ok := byIndex[idx]; ok {
			for k, v := range flagsMap(row) {
				m[k] = v
			}
		}
		list = append(list, m)
	}
	return list, nil
}

func checkAppendOnly(previous *CheckpointRecord, next []json.RawMessage) error {
	stored := &Checkpoint{}
	if err := json.Unmarshal([]byte(previous.Data), stored); err != nil {
		return errors.Wrap(err, "failed to unmarshal previous checkpoint")
	}
	old, ok := stored.RawMessages()
	if !ok {
		return nil
	}
	if len(next) < len(old) {
		return errors.Wrapf(ErrNonAppendOnly, "write has %d messages, stored checkpoint has %d", len(next), len(old))
	}
	for i := range old {
		if messageKey(old[i]) != messageKey(next[i]) {
			return errors.Wrapf(ErrNonAppendOnly, "message at index %d changed identity", i)
		}
	}
	return nil
}
