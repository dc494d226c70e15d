package preprocess

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/repo"
	errx "github.com/Chative-core-poc-v1/assistant/internal/core/error"
)

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("boom")
}

func (failingStore) Put(context.Context, string, string, time.Duration) error {
	return errors.New("boom")
}

func newTestPreprocessor() (*Preprocessor, *repo.MemoryResultStore) {
	store := repo.NewMemoryResultStore(100)
	return NewPreprocessor(store, Config{Cache: model.DefaultCacheConfig()}), store
}

func TestValidate(t *testing.T) {
	p, _ := newTestPreprocessor()

	tests := []struct {
		name    string
		message string
		wantErr bool
	}{
		{"ok", "你好", false},
		{"empty", "", true},
		{"blank", "  \n\t ", true},
		{"at limit", strings.Repeat("字", DefaultMaxMessageLength), false},
		{"over limit", strings.Repeat("字", DefaultMaxMessageLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Validate(model.ChatRequest{Message: tt.message})
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errx.ErrInvalidRequest)
				assert.Equal(t, 400, errx.StatusOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	n := Normalize(model.ChatRequest{Message: "  hi  "})
	assert.Equal(t, "hi", n.Message)
	assert.True(t, n.SaveHistory)
	assert.False(t, n.EnableDeepThinking)
	assert.Regexp(t, regexp.MustCompile(`^session-[0-9a-f]{8}$`), n.SessionID)

	n = Normalize(model.ChatRequest{
		Message:            "x",
		SessionID:          " s1 ",
		SaveHistory:        model.Bool(false),
		EnableDeepThinking: model.Bool(true),
	})
	assert.Equal(t, "s1", n.SessionID)
	assert.False(t, n.SaveHistory)
	assert.True(t, n.EnableDeepThinking)
}

func TestCacheKey(t *testing.T) {
	a := model.NormalizedRequest{Message: "什么是Go", SessionID: "s1", SaveHistory: true}
	b := a
	b.SessionID = "s2"
	assert.Equal(t, CacheKey(a), CacheKey(b), "session does not change the key")
	assert.Regexp(t, `^req_[0-9a-f]{16}_false_true$`, CacheKey(a))

	c := a
	c.EnableDeepThinking = true
	assert.NotEqual(t, CacheKey(a), CacheKey(c))

	d := a
	d.Message = "什么是Rust"
	assert.NotEqual(t, CacheKey(a), CacheKey(d))
}

func TestDetermineRoute(t *testing.T) {
	tests := []struct {
		name    string
		message string
		deep    bool
		want    model.Route
	}{
		{"chinese greeting", "你好", false, model.RouteSimpleChat},
		{"deep wins over greeting", "你好", true, model.RouteDeepThinkingSimple},
		{"deep greeting with keyword", "你好，如何学习Go并发？", true, model.RouteDeepThinkingWithTools},
		{"english greeting", "Hi there!", false, model.RouteSimpleChat},
		{"not a greeting word", "this is fine", false, model.RouteStandardChat},
		{"long greeting", "你好，请帮我写一份关于分布式系统一致性的详细报告", false, model.RouteStandardChat},
		{"standard", "Go 的协程调度", false, model.RouteStandardChat},
		{"deep with keyword", "为什么天空是蓝色的", true, model.RouteDeepThinkingWithTools},
		{"deep long", strings.Repeat("长", complexMinRunes+1), true, model.RouteDeepThinkingWithTools},
		{"deep simple", "Go 的协程调度", true, model.RouteDeepThinkingSimple},
		{"keyword without deep", "如何学习 Go", false, model.RouteStandardChat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetermineRoute(model.NormalizedRequest{Message: tt.message, EnableDeepThinking: tt.deep})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPreprocessCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPreprocessor()
	req := model.ChatRequest{Message: "什么是 Go？", SessionID: "s1"}

	first, err := p.Preprocess(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cache.Hit)
	assert.Equal(t, "s1", first.SessionID)
	assert.Equal(t, model.RouteStandardChat, first.Route)

	require.NoError(t, p.Remember(ctx, first, "Go 是一门编程语言"))

	second, err := p.Preprocess(ctx, model.ChatRequest{Message: "  什么是 Go？ ", SessionID: "s2"})
	require.NoError(t, err)
	assert.True(t, second.Cache.Hit)
	assert.Equal(t, "Go 是一门编程语言", second.Cache.Payload)
	assert.Equal(t, first.Cache.Key, second.Cache.Key)
}

func TestPreprocessRejectsInvalid(t *testing.T) {
	p, _ := newTestPreprocessor()
	out, err := p.Preprocess(context.Background(), model.ChatRequest{Message: " "})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, errx.ErrInvalidRequest)
}

func TestCacheDisabledOrFailing(t *testing.T) {
	ctx := context.Background()

	disabled := NewPreprocessor(repo.NewMemoryResultStore(10), Config{Cache: model.CacheConfig{Enabled: false}})
	first, err := disabled.Preprocess(ctx, model.ChatRequest{Message: "q"})
	require.NoError(t, err)
	require.NoError(t, disabled.Remember(ctx, first, "a"))
	again, err := disabled.Preprocess(ctx, model.ChatRequest{Message: "q"})
	require.NoError(t, err)
	assert.False(t, again.Cache.Hit)

	nilStore := NewPreprocessor(nil, Config{Cache: model.DefaultCacheConfig()})
	out, err := nilStore.Preprocess(ctx, model.ChatRequest{Message: "q"})
	require.NoError(t, err)
	assert.False(t, out.Cache.Hit)
	assert.NoError(t, nilStore.Remember(ctx, out, "a"))

	failing := NewPreprocessor(failingStore{}, Config{Cache: model.DefaultCacheConfig()})
	out, err = failing.Preprocess(ctx, model.ChatRequest{Message: "q"})
	require.NoError(t, err, "cache errors degrade to a miss")
	assert.False(t, out.Cache.Hit)
	assert.Error(t, failing.Remember(ctx, out, "a"))
}
