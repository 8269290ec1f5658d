package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// TokenUsage is the cumulative model usage of a thread.
type TokenUsage struct {
	PromptTokens     int64              `json:"promptTokens"`
	CompletionTokens int64              `json:"completionTokens"`
	CachedTokens     int64              `json:"cachedTokens"`
	TotalTokens      int64              `json:"totalTokens"`
	TotalCost        float64            `json:"totalCost"`
	CostByModel      map[string]float64 `json:"costByModel,omitempty"`
	LastUpdated      int64              `json:"lastUpdated"`
}

// Add folds one model call's usage into u.
func (u *TokenUsage) Add(model string, prompt, completion, cached int64, cost float64, now time.Time) {
	u.PromptTokens += prompt
	u.CompletionTokens += completion
	u.CachedTokens += cached
	u.TotalTokens += prompt + completion
	u.TotalCost += cost
	if u.CostByModel == nil {
		u.CostByModel = map[string]float64{}
	}
	u.CostByModel[model] += cost
	u.LastUpdated = now.Unix()
}

func (u TokenUsage) marshal() (string, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalTokenUsage decodes the token_usage column. Empty input yields a zero value.
func UnmarshalTokenUsage(raw string) (TokenUsage, error) {
	var u TokenUsage
	if raw == "" {
		return u, nil
	}
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return u, errors.Wrap(err, "failed to unmarshal token usage")
	}
	return u, nil
}

// MarshalTokenUsage encodes u for the token_usage column.
func MarshalTokenUsage(u TokenUsage) (string, error) {
	return u.marshal()
}

// Thread is a persistent conversation.
type Thread struct {
	ID         string
	UserID     string
	Title      string
	Bookmarked bool
	TokenUsage TokenUsage
	CreatedTs  int64
	UpdatedTs  int64
}

type FindThread struct {
	ID     *string
	UserID *string
	Limit  *int
}

type UpdateThread struct {
	ID         string
	Title      *string
	Bookmarked *bool
	TokenUsage *TokenUsage
}

func (s *Store) CreateThread(ctx context.Context, create *Thread) (*Thread, error) {
	if create.ID == "" {
		return nil, ErrMissingThreadID
	}
	return s.driver.CreateThread(ctx, create)
}

func (s *Store) ListThreads(ctx context.Context, find *FindThread) ([]*Thread, error) {
	return s.driver.ListThreads(ctx, find)
}

// GetThread returns the thread with the given id, or nil if it does not exist.
func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	list, err := s.driver.ListThreads(ctx, &FindThread{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateThread(ctx context.Context, update *UpdateThread) (*Thread, error) {
	return s.driver.UpdateThread(ctx, update)
}
