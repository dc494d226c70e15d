package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/assistant/internal/core/error"
	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisResultStore keeps cached responses as plain string keys with expiry.
type RedisResultStore struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisResultStore(rdb redis.Cmdable, prefix string) *RedisResultStore {
	return &RedisResultStore{rdb: rdb, prefix: prefix}
}

func (s *RedisResultStore) key(k string) string {
	if s.prefix == "" {
		return "result:" + k
	}
	return s.prefix + ":result:" + k
}

func (s *RedisResultStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		logx.Error().Err(err).Str("key", s.key(key)).Msg("failed to read cached result")
		return "", false, errx.WrapRedis(err)
	}
	return v, true, nil
}

func (s *RedisResultStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", s.key(key)).Msg("failed to store cached result")
		return errx.WrapRedis(err)
	}
	return nil
}

// RedisStatsStore stores the latest SessionReport as JSON.
type RedisStatsStore struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisStatsStore(rdb redis.Cmdable, prefix string) *RedisStatsStore {
	return &RedisStatsStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStatsStore) key(sessionID string) string {
	if s.prefix == "" {
		return "stats:" + sessionID
	}
	return s.prefix + ":stats:" + sessionID
}

func (s *RedisStatsStore) SaveStats(ctx context.Context, sessionID string, report model.SessionReport, ttl time.Duration) error {
	b, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal session report: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(sessionID), b, ttl).Err(); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to store session stats")
		return errx.WrapRedis(err)
	}
	return nil
}

// LoadStats returns nil, nil when no report is stored.
func (s *RedisStatsStore) LoadStats(ctx context.Context, sessionID string) (*model.SessionReport, error) {
	b, err := s.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	var report model.SessionReport
	if err := json.Unmarshal(b, &report); err != nil {
		return nil, fmt.Errorf("unmarshal session report: %w", err)
	}
	return &report, nil
}

var (
	_ model.ResultStore = (*RedisResultStore)(nil)
	_ model.StatsStore  = (*RedisStatsStore)(nil)
)
