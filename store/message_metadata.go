package store

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// MessageMetadata is the annotation overlay row keyed by (ThreadID, MessageIndex).
// It never carries message content.
type MessageMetadata struct {
	ThreadID     string
	MessageIndex int
	// MessageID is best effort; nil when the message had no id.
	MessageID *string
	UserID    string
	MessageFlags
}

type FindMessageMetadata struct {
	ThreadID     string
	MessageIndex *int
}

// MessageAction is a social-flag toggle applied by a user to one message.
type MessageAction string

const (
	MessageActionLike     MessageAction = "like"
	MessageActionDislike  MessageAction = "dislike"
	MessageActionFavorite MessageAction = "favorite"
	MessageActionBookmark MessageAction = "bookmark"
	MessageActionFlag     MessageAction = "flag"
	MessageActionArchive  MessageAction = "archive"
)

// ParseMessageAction validates a raw action name.
func ParseMessageAction(raw string) (MessageAction, error) {
	action := MessageAction(strings.ToLower(strings.TrimSpace(raw)))
	switch action {
	case MessageActionLike, MessageActionDislike, MessageActionFavorite,
		MessageActionBookmark, MessageActionFlag, MessageActionArchive:
		return action, nil
	}
	return "", errors.Errorf("unknown message action %q", raw)
}

// Toggle returns f with action toggled. Liking clears a dislike and vice versa.
func (f MessageFlags) Toggle(action MessageAction) MessageFlags {
	switch action {
	case MessageActionLike:
		f.IsLiked = !f.IsLiked
		if f.IsLiked {
			f.IsDisliked = false
		}
	case MessageActionDislike:
		f.IsDisliked = !f.IsDisliked
		if f.IsDisliked {
			f.IsLiked = false
		}
	case MessageActionFavorite:
		f.IsFavorited = !f.IsFavorited
	case MessageActionBookmark:
		f.IsBookmarked = !f.IsBookmarked
	case MessageActionFlag:
		f.IsFlagged = !f.IsFlagged
	case MessageActionArchive:
		f.IsArchived = !f.IsArchived
	}
	return f
}

// UpdateMessageAction identifies a message and the action to apply to it.
type UpdateMessageAction struct {
	ThreadID     string
	MessageIndex int
	MessageID    string
	UserID       string
	Action       MessageAction
}

func (s *Store) UpsertMessageMetadata(ctx context.Context, rows []*MessageMetadata) error {
	if len(rows) == 0 {
		return nil
	}
	return s.driver.UpsertMessageMetadata(ctx, rows)
}

func (s *Store) ListMessageMetadata(ctx context.Context, find *FindMessageMetadata) ([]*MessageMetadata, error) {
	return s.driver.ListMessageMetadata(ctx, find)
}

// ApplyMessageAction toggles one flag on a message's metadata row, creating the row
// if needed. It does not touch the checkpoint.
func (s *Store) ApplyMessageAction(ctx context.Context, update *UpdateMessageAction) (*MessageMetadata, error) {
	if update.ThreadID == "" {
		return nil, ErrMissingThreadID
	}
	if update.MessageIndex < 0 {
		return nil, errors.Errorf("invalid message index %d", update.MessageIndex)
	}
	index := update.MessageIndex
	list, err := s.driver.ListMessageMetadata(ctx, &FindMessageMetadata{
		ThreadID:     update.ThreadID,
		MessageIndex: &index,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load message metadata")
	}

	row := &MessageMetadata{
		ThreadID:     update.ThreadID,
		MessageIndex: index,
		UserID:       update.UserID,
	}
	if len(list) > 0 {
		row = list[0]
		if update.UserID != "" {
			row.UserID = update.UserID
		}
	}
	if update.MessageID != "" {
		id := update.MessageID
		row.MessageID = &id
	}
	row.MessageFlags = row.MessageFlags.Toggle(update.Action)

	if err := s.driver.UpdateMessageMetadata(ctx, row); err != nil {
		return nil, errors.Wrap(err, "failed to update message metadata")
	}
	return row, nil
}
