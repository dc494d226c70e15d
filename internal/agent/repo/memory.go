package repo

import (
	"context"
	"sync"
	"time"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	"github.com/Chative-core-poc-v1/assistant/pkg/cache"
	"github.com/cloudwego/eino/schema"
)

// MemoryConversationRepository keeps history in process. Sessions do not
// block each other beyond the short map lock.
type MemoryConversationRepository struct {
	mu       sync.RWMutex
	sessions map[string][]*schema.Message
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{sessions: make(map[string][]*schema.Message)}
}

func (r *MemoryConversationRepository) AddMessage(_ context.Context, sessionID string, message *schema.Message) error {
	r.mu.Lock()
	r.sessions[sessionID] = append(r.sessions[sessionID], message)
	r.mu.Unlock()
	return nil
}

func (r *MemoryConversationRepository) LoadHistory(_ context.Context, sessionID string) (*model.ConversationHistory, error) {
	r.mu.RLock()
	msgs := append([]*schema.Message{}, r.sessions[sessionID]...)
	r.mu.RUnlock()
	return &model.ConversationHistory{SessionID: sessionID, Messages: msgs}, nil
}

func (r *MemoryConversationRepository) ReplaceHistory(_ context.Context, sessionID string, messages []*schema.Message) error {
	r.mu.Lock()
	r.sessions[sessionID] = append([]*schema.Message(nil), messages...)
	r.mu.Unlock()
	return nil
}

func (r *MemoryConversationRepository) ClearHistory(_ context.Context, sessionID string) error {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	return nil
}

func (r *MemoryConversationRepository) GetMessageCount(_ context.Context, sessionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID]), nil
}

// MemoryResultStore is a bounded TTL cache of generated responses.
type MemoryResultStore struct {
	c *cache.Cache[string, string]
}

func NewMemoryResultStore(maxEntries int, opts ...cache.Option) *MemoryResultStore {
	opts = append([]cache.Option{cache.WithMaxEntries(maxEntries)}, opts...)
	return &MemoryResultStore{c: cache.New[string, string](opts...)}
}

func (s *MemoryResultStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.c.Get(key)
	return v, ok, nil
}

func (s *MemoryResultStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	s.c.PutTTL(key, value, ttl)
	return nil
}

// MemoryStatsStore keeps the latest report per session.
type MemoryStatsStore struct {
	c *cache.Cache[string, model.SessionReport]
}

func NewMemoryStatsStore(opts ...cache.Option) *MemoryStatsStore {
	return &MemoryStatsStore{c: cache.New[string, model.SessionReport](opts...)}
}

func (s *MemoryStatsStore) SaveStats(_ context.Context, sessionID string, report model.SessionReport, ttl time.Duration) error {
	s.c.PutTTL(sessionID, report, ttl)
	return nil
}

func (s *MemoryStatsStore) LoadStats(_ context.Context, sessionID string) (*model.SessionReport, error) {
	r, ok := s.c.Get(sessionID)
	if !ok {
		return nil, nil
	}
	return &r, nil
}

var (
	_ model.ConversationRepository = (*MemoryConversationRepository)(nil)
	_ model.ResultStore            = (*MemoryResultStore)(nil)
	_ model.StatsStore             = (*MemoryStatsStore)(nil)
)
