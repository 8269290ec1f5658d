package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrMissingThreadID is returned when a run configuration carries no thread id.
	ErrMissingThreadID = errors.New("thread_id is required in the run configuration")
	// ErrStaleCheckpoint is returned when a checkpoint write is based on an outdated version.
	ErrStaleCheckpoint = errors.New("checkpoint version is stale")
	// ErrNonAppendOnly is returned when a write would shorten or reorder a thread's messages.
	ErrNonAppendOnly = errors.New("message list must extend the stored messages")
)

// MessagesChannel is the channel holding the ordered message list.
const MessagesChannel = "messages"

// RunnableConfig addresses a checkpoint. Version is the stored version the caller
// last observed; writes based on any other version are rejected.
type RunnableConfig struct {
	ThreadID     string
	CheckpointID string
	UserID       string
	Version      int64
}

// Checkpoint is a snapshot of the full conversation state of a thread.
// Only channel_values.messages is interpreted by the store.
type Checkpoint struct {
	ID              string                     `json:"id"`
	Ts              int64                      `json:"ts"`
	ChannelValues   map[string]json.RawMessage `json:"channel_values"`
	ChannelVersions map[string]int64           `json:"channel_versions,omitempty"`
}

// CheckpointMetadata describes how a checkpoint was produced.
type CheckpointMetadata struct {
	Source string `json:"source"`
	Step   int    `json:"step"`
}

// CheckpointTuple is a loaded checkpoint along with its pending writes.
type CheckpointTuple struct {
	Config        RunnableConfig
	Checkpoint    *Checkpoint
	Metadata      CheckpointMetadata
	PendingWrites []*CheckpointWrite
}

// CheckpointRecord is the stored row of a thread's latest checkpoint.
type CheckpointRecord struct {
	ThreadID     string
	CheckpointID string
	Version      int64
	Data         string
	Metadata     string
	UpdatedTs    int64
}

// CheckpointWrite is an intermediate channel write recorded before the next checkpoint.
type CheckpointWrite struct {
	ThreadID     string
	CheckpointID string
	TaskID       string
	Idx          int
	Channel      string
	Value        string
	CreatedTs    int64
}

type FindCheckpointWrite struct {
	ThreadID     string
	CheckpointID *string
}

// NewCheckpoint builds a checkpoint holding messages.
func NewCheckpoint(messages []*Message) (*Checkpoint, error) {
	raw, err := json.Marshal(messages)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal messages")
	}
	return &Checkpoint{
		ID:              uuid.NewString(),
		Ts:              time.Now().UnixMilli(),
		ChannelValues:   map[string]json.RawMessage{MessagesChannel: raw},
		ChannelVersions: map[string]int64{MessagesChannel: int64(len(messages))},
	}, nil
}

// RawMessages returns channel_values.messages split into elements. ok is false when
// the channel is absent or not an array.
func (c *Checkpoint) RawMessages() (list []json.RawMessage, ok bool) {
	if c == nil || c.ChannelValues == nil {
		return nil, false
	}
	raw, exists := c.ChannelValues[MessagesChannel]
	if !exists {
		return nil, false
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false
	}
	return list, true
}

func (s *Store) SaveCheckpoint(ctx context.Context, record *CheckpointRecord, expectedVersion int64) (*CheckpointRecord, error) {
	return s.driver.SaveCheckpoint(ctx, record, expectedVersion)
}

func (s *Store) SaveCheckpointWithMetadata(ctx context.Context, record *CheckpointRecord, expectedVersion int64, rows []*MessageMetadata) (*CheckpointRecord, error) {
	return s.driver.SaveCheckpointWithMetadata(ctx, record, expectedVersion, rows)
}

// GetCheckpoint returns the latest checkpoint row of a thread, or nil.
func (s *Store) GetCheckpoint(ctx context.Context, threadID string) (*CheckpointRecord, error) {
	return s.driver.GetCheckpoint(ctx, threadID)
}

func (s *Store) CreateCheckpointWrites(ctx context.Context, writes []*CheckpointWrite) error {
	if len(writes) == 0 {
		return nil
	}
	return s.driver.CreateCheckpointWrites(ctx, writes)
}

func (s *Store) ListCheckpointWrites(ctx context.Context, find *FindCheckpointWrite) ([]*CheckpointWrite, error) {
	return s.driver.ListCheckpointWrites(ctx, find)
}
