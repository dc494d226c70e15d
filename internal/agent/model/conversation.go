package model

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
)

type ConversationRepository interface {
	// AddMessage appends a message to the session's history.
	AddMessage(ctx context.Context, sessionID string, message *schema.Message) error

	// LoadHistory retrieves the session's history, oldest first.
	LoadHistory(ctx context.Context, sessionID string) (*ConversationHistory, error)

	// ReplaceHistory atomically swaps the session's history for messages.
	ReplaceHistory(ctx context.Context, sessionID string, messages []*schema.Message) error

	// ClearHistory removes all history for the session.
	ClearHistory(ctx context.Context, sessionID string) error

	// GetMessageCount returns the number of stored messages.
	GetMessageCount(ctx context.Context, sessionID string) (int, error)
}

// ConversationHistory represents loaded conversation data with metadata.
type ConversationHistory struct {
	SessionID string
	Messages  []*schema.Message
}

// ResultStore memoizes generated responses keyed by a content-derived request key.
type ResultStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
}

// StatsStore keeps the latest post-processing report per session.
type StatsStore interface {
	SaveStats(ctx context.Context, sessionID string, report SessionReport, ttl time.Duration) error
	LoadStats(ctx context.Context, sessionID string) (*SessionReport, error)
}
