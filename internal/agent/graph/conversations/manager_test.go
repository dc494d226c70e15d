package conversations

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/repo"
	"github.com/Chative-core-poc-v1/assistant/pkg/cache"
)

type brokenRepo struct {
	*repo.MemoryConversationRepository
}

func (brokenRepo) LoadHistory(context.Context, string) (*model.ConversationHistory, error) {
	return nil, errors.New("connection refused")
}

func messages(contents ...string) []*schema.Message {
	out := make([]*schema.Message, len(contents))
	for i, c := range contents {
		if i%2 == 0 {
			out[i] = schema.UserMessage(c)
		} else {
			out[i] = schema.AssistantMessage(c, nil)
		}
	}
	return out
}

func contents(msgs []*schema.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func newTestManager(t *testing.T, cfg model.MemoryConfig) (*MemoryManager, *repo.MemoryConversationRepository, *cache.ManualClock) {
	t.Helper()
	r := repo.NewMemoryConversationRepository()
	clock := cache.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewMemoryManager(r, cfg, clock), r, clock
}

func seed(t *testing.T, r *repo.MemoryConversationRepository, sessionID string, msgs []*schema.Message) {
	t.Helper()
	require.NoError(t, r.ReplaceHistory(context.Background(), sessionID, msgs))
}

func TestWordSet(t *testing.T) {
	got := wordSet("Hello, 世界 go1!")
	assert.Len(t, got, 4)
	for _, w := range []string{"hello", "世", "界", "go1"} {
		assert.Contains(t, got, w)
	}
	assert.Empty(t, wordSet("  ,.!  "))
}

func TestRelevanceScoresUnspacedChinese(t *testing.T) {
	// whitespace splitting would make both entries single tokens with no overlap
	history := messages("我想学习并发编程", "今天天气不错")
	scores := Relevance("如何学习并发", history)
	assert.Greater(t, scores[0], 0.0)
	assert.Zero(t, scores[1])
}

func TestRelevanceBounds(t *testing.T) {
	history := messages("完全无关的内容", "学习 Go 语言", "random english", "学习 Go 语言", "")
	scores := Relevance("学习 Go 语言", history)
	require.Len(t, scores, len(history))

	for i, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0, "index %d", i)
		assert.LessOrEqual(t, s, 1.0, "index %d", i)
	}
	// identical entries outscore disjoint ones
	assert.Greater(t, scores[1], scores[2])
	assert.Greater(t, scores[3], scores[2])
	// recency decay
	assert.InDelta(t, math.Exp(-0.1), scores[3], 1e-9)
	assert.InDelta(t, math.Exp(-0.3), scores[1], 1e-9)
	assert.Zero(t, scores[4])
}

func TestCompress(t *testing.T) {
	mm, _, _ := newTestManager(t, model.DefaultMemoryConfig())

	t.Run("within window unchanged", func(t *testing.T) {
		history := messages("a", "b", "c")
		got := mm.Compress(history, model.ContextRelevance{Scores: map[int]float64{}})
		assert.Equal(t, contents(history), contents(got))
	})

	t.Run("relevant plus recent in order", func(t *testing.T) {
		history := messages("m0", "m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9", "m10", "m11")
		scores := map[int]float64{}
		for i := range history {
			scores[i] = 0.1
		}
		scores[0], scores[4], scores[6] = 0.5, 0.9, 0.3
		got := mm.Compress(history, model.ContextRelevance{Scores: scores})
		assert.Equal(t, []string{"m0", "m4", "m6", "m9", "m10", "m11"}, contents(got))
	})

	t.Run("recent always kept", func(t *testing.T) {
		history := messages("m0", "m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9", "m10", "m11", "m12", "m13", "m14")
		got := mm.Compress(history, model.ContextRelevance{Scores: map[int]float64{}})
		assert.Equal(t, []string{"m12", "m13", "m14"}, contents(got))
	})

	t.Run("top k capped at window", func(t *testing.T) {
		history := make([]*schema.Message, 30)
		scores := map[int]float64{}
		for i := range history {
			history[i] = schema.UserMessage("x")
			scores[i] = 0.9
		}
		got := mm.Compress(history, model.ContextRelevance{Scores: scores})
		// ten highest (ties favor recent) already include the last three
		assert.Len(t, got, 10)
	})
}

func TestLoadContext(t *testing.T) {
	ctx := context.Background()
	mm, r, _ := newTestManager(t, model.DefaultMemoryConfig())
	seed(t, r, "s1", messages("学习 Go", "好的", "天气", "晴"))

	out := mm.LoadContext(ctx, "s1", "学习 Go")
	require.False(t, out.Degraded)
	require.NoError(t, out.Err)
	memCtx := out.Value
	assert.Equal(t, "s1", memCtx.SessionID)
	assert.Len(t, memCtx.History, 4)
	assert.Len(t, memCtx.Compressed, 4)
	assert.Len(t, memCtx.Relevance.Scores, 4)

	snap, ok := mm.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, memCtx.Relevance.Scores, snap.Scores)
}

func TestLoadContextDegradesOnError(t *testing.T) {
	mm := NewMemoryManager(brokenRepo{repo.NewMemoryConversationRepository()}, model.DefaultMemoryConfig(), nil)

	out := mm.LoadContext(context.Background(), "s1", "hi")
	assert.True(t, out.Degraded)
	assert.Error(t, out.Err)
	require.NotNil(t, out.Value)
	assert.Equal(t, "s1", out.Value.SessionID)
	assert.Empty(t, out.Value.History)
	assert.Empty(t, out.Value.Compressed)
}

func TestSaveContext(t *testing.T) {
	ctx := context.Background()
	mm, r, _ := newTestManager(t, model.DefaultMemoryConfig())

	loaded := mm.LoadContext(ctx, "s1", "你好")
	require.NoError(t, mm.SaveContext(ctx, "s1", loaded.Value, "你好", "你好！有什么可以帮你？"))

	h, err := r.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, h.Messages, 2)
	assert.Equal(t, schema.User, h.Messages[0].Role)
	assert.Equal(t, schema.Assistant, h.Messages[1].Role)

	snap, ok := mm.Snapshot("s1")
	require.True(t, ok)
	assert.Len(t, snap.Scores, 2)

	st, err := mm.Stats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, st.MessageCount)
	assert.Equal(t, snap.Average(), st.AverageRelevance)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	cfg := model.DefaultMemoryConfig()
	cfg.MaxHistory = 6
	cfg.CleanupKeepRecent = 2

	history := messages("apple banana", "zzz", "apple banana", "zzz", "zzz", "zzz", "r6", "r7")

	t.Run("no snapshot is a no-op", func(t *testing.T) {
		mm, r, _ := newTestManager(t, cfg)
		seed(t, r, "s1", history)
		require.NoError(t, mm.Cleanup(ctx, "s1"))
		n, _ := r.GetMessageCount(ctx, "s1")
		assert.Equal(t, 8, n)
	})

	t.Run("keeps relevant and recent", func(t *testing.T) {
		mm, r, _ := newTestManager(t, cfg)
		seed(t, r, "s1", history)
		require.False(t, mm.LoadContext(ctx, "s1", "apple banana").Degraded)

		require.NoError(t, mm.Cleanup(ctx, "s1"))
		h, err := r.LoadHistory(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []string{"apple banana", "apple banana", "r6", "r7"}, contents(h.Messages))

		// snapshot follows the new positions
		snap, ok := mm.Snapshot("s1")
		require.True(t, ok)
		require.Len(t, snap.Scores, 4)
		assert.InDelta(t, math.Exp(-0.7), snap.Scores[0], 1e-9)
		assert.InDelta(t, math.Exp(-0.5), snap.Scores[1], 1e-9)
	})

	t.Run("under cap untouched", func(t *testing.T) {
		mm, r, _ := newTestManager(t, cfg)
		seed(t, r, "s1", history[:6])
		mm.LoadContext(ctx, "s1", "apple banana")
		require.NoError(t, mm.Cleanup(ctx, "s1"))
		n, _ := r.GetMessageCount(ctx, "s1")
		assert.Equal(t, 6, n)
	})

	t.Run("expired snapshot is a no-op", func(t *testing.T) {
		mm, r, clock := newTestManager(t, cfg)
		seed(t, r, "s1", history)
		mm.LoadContext(ctx, "s1", "apple banana")

		clock.Advance(cfg.SnapshotTTL + time.Second)
		_, ok := mm.Snapshot("s1")
		assert.False(t, ok)

		require.NoError(t, mm.Cleanup(ctx, "s1"))
		n, _ := r.GetMessageCount(ctx, "s1")
		assert.Equal(t, 8, n)
	})
}

func TestEvictExpiredSnapshots(t *testing.T) {
	ctx := context.Background()
	mm, _, clock := newTestManager(t, model.DefaultMemoryConfig())
	mm.LoadContext(ctx, "a", "x")
	mm.LoadContext(ctx, "b", "x")

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, mm.EvictExpiredSnapshots())
	clock.Advance(31 * time.Minute)
	assert.Equal(t, 2, mm.EvictExpiredSnapshots())
}
