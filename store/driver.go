package store

import (
	"context"
	"database/sql"
)

// Driver is the per-dialect persistence backend used by Store.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates the agent tables if they do not exist yet.
	Migrate(ctx context.Context) error

	// Thread model related methods.
	CreateThread(ctx context.Context, create *Thread) (*Thread, error)
	ListThreads(ctx context.Context, find *FindThread) ([]*Thread, error)
	UpdateThread(ctx context.Context, update *UpdateThread) (*Thread, error)

	// Checkpoint model related methods.
	// SaveCheckpoint stores the snapshot only if the stored version equals expectedVersion
	// (0 meaning "no checkpoint yet") and returns ErrStaleCheckpoint otherwise.
	SaveCheckpoint(ctx context.Context, record *CheckpointRecord, expectedVersion int64) (*CheckpointRecord, error)
	// SaveCheckpointWithMetadata does the same and upserts the message metadata rows in the
	// same transaction; nothing is written when either step fails.
	SaveCheckpointWithMetadata(ctx context.Context, record *CheckpointRecord, expectedVersion int64, rows []*MessageMetadata) (*CheckpointRecord, error)
	GetCheckpoint(ctx context.Context, threadID string) (*CheckpointRecord, error)
	CreateCheckpointWrites(ctx context.Context, writes []*CheckpointWrite) error
	ListCheckpointWrites(ctx context.Context, find *FindCheckpointWrite) ([]*CheckpointWrite, error)

	// MessageMetadata model related methods.
	// UpsertMessageMetadata inserts rows and, on (thread_id, message_index) conflict,
	// updates user_id and is_liked only.
	UpsertMessageMetadata(ctx context.Context, rows []*MessageMetadata) error
	// UpdateMessageMetadata inserts or fully overwrites one row's flags.
	UpdateMessageMetadata(ctx context.Context, row *MessageMetadata) error
	ListMessageMetadata(ctx context.Context, find *FindMessageMetadata) ([]*MessageMetadata, error)
}
