package thinking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/parsers"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/prompts"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	"github.com/Chative-core-poc-v1/assistant/pkg/cache"
	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
)

// Config configures an Executor.
type Config struct {
	Thinking model.ThinkingConfig
	// CacheEnabled turns the thinking-result cache on.
	CacheEnabled bool
	// ModelName is only used for logging.
	ModelName string
}

// Executor runs the deep-thinking stage: cache lookup, strategy selection,
// a streamed analysis call and the cache store.
type Executor struct {
	chat    einomodel.BaseChatModel
	cfg     Config
	clock   cache.Clock
	results *cache.Cache[string, model.ThinkingResult]
}

func NewExecutor(chat einomodel.BaseChatModel, cfg Config, clock cache.Clock) *Executor {
	if clock == nil {
		clock = cache.SystemClock
	}
	def := model.DefaultThinkingConfig()
	if cfg.Thinking.MaxTokens <= 0 {
		cfg.Thinking.MaxTokens = def.MaxTokens
	}
	if cfg.Thinking.CacheTTL <= 0 {
		cfg.Thinking.CacheTTL = def.CacheTTL
	}
	if cfg.Thinking.SweepThreshold <= 0 {
		cfg.Thinking.SweepThreshold = def.SweepThreshold
	}
	if cfg.Thinking.ReplayDelay < 0 {
		cfg.Thinking.ReplayDelay = 0
	}
	return &Executor{
		chat:  chat,
		cfg:   cfg,
		clock: clock,
		results: cache.New[string, model.ThinkingResult](
			cache.WithClock(clock),
			cache.WithTTL(cfg.Thinking.CacheTTL),
			cache.WithSweepThreshold(cfg.Thinking.SweepThreshold),
		),
	}
}

// CacheKey derives the thinking-cache key from the raw message text.
func CacheKey(message string) string {
	sum := sha256.Sum256([]byte(message))
	return "thinking_" + hex.EncodeToString(sum[:])
}

var strategyKeywords = []struct {
	Strategy model.ThinkingStrategy
	Keywords []string
}{
	{model.StrategyFactualAnalysis, []string{"什么是", "定义", "介绍"}},
	{model.StrategyCreativeThinking, []string{"创意", "设计", "想象"}},
	{model.StrategyProblemSolving, []string{"如何", "怎么", "解决"}},
	{model.StrategyComparativeAnalysis, []string{"比较", "区别", "对比"}},
}

// SelectStrategy picks the thinking strategy from message keywords. Categories
// are checked in a fixed order and the first match wins.
func SelectStrategy(message string) model.ThinkingStrategy {
	for _, k := range strategyKeywords {
		for _, kw := range k.Keywords {
			if strings.Contains(message, kw) {
				return k.Strategy
			}
		}
	}
	return model.StrategyGeneralThinking
}

// Execute runs the thinking stage for message and streams steps to cb. It
// never fails: errors degrade to a single generic analysis step.
func (e *Executor) Execute(ctx context.Context, sessionID, message string, cb model.StreamCallback) (out model.Outcome[*model.ThinkingResult]) {
	start := e.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("thinking panic: %v", r)
			logx.Error().Str("session_id", sessionID).Err(err).Msg("Thinking recovered from panic")
			out = e.degrade(cb, model.StrategyGeneralThinking, err)
		}
	}()

	key := CacheKey(message)
	if e.cfg.CacheEnabled {
		if cached, ok := e.results.Get(key); ok {
			logx.Info().Str("session_id", sessionID).Str("key", key).Msg("Thinking cache hit")
			return model.Ok(e.replay(ctx, cached, cb))
		}
	}

	strategy := SelectStrategy(message)
	logx.Info().Str("session_id", sessionID).Str("strategy", string(strategy)).Msg("Thinking strategy selected")
	emit(cb, model.NewThinkingStep(model.StepAnalyze, "思考策略", "采用"+strategy.Description()+"进行深度分析"))

	steps, usage, err := e.run(ctx, strategy, message, cb)
	if err != nil {
		logx.Warn().Str("session_id", sessionID).Err(err).Msg("Thinking failed - using generic step")
		return e.degrade(cb, strategy, err)
	}

	result := model.ThinkingResult{
		Steps:     steps,
		Strategy:  strategy,
		Timestamp: e.clock.Now(),
		Usage:     usage,
	}
	if e.cfg.CacheEnabled {
		e.results.Put(key, result)
	}

	logx.Info().
		Str("session_id", sessionID).
		Str("strategy", string(strategy)).
		Int("steps", len(steps)).
		Dur("elapsed", e.clock.Now().Sub(start)).
		Msg("Thinking done")
	return model.Ok(&result)
}

// run streams the thinking completion, emitting sections as they complete.
func (e *Executor) run(ctx context.Context, strategy model.ThinkingStrategy, message string, cb model.StreamCallback) ([]model.ThinkingStep, *schema.TokenUsage, error) {
	if e.chat == nil {
		return nil, nil, errors.New("thinking model is not configured")
	}
	msgs, err := prompts.RenderThinkingMessages(ctx, strategy, message)
	if err != nil {
		return nil, nil, err
	}

	sr, err := e.chat.Stream(ctx, msgs,
		einomodel.WithMaxTokens(e.cfg.Thinking.MaxTokens),
		einomodel.WithTemperature(e.cfg.Thinking.Temperature),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("thinking stream: %w", err)
	}
	defer sr.Close()

	var (
		parser = parsers.NewStepStream()
		usage  *schema.TokenUsage
		live   = true
	)
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("thinking stream recv: %w", err)
		}
		if chunk == nil {
			continue
		}
		if chunk.ResponseMeta != nil && chunk.ResponseMeta.Usage != nil {
			usage = chunk.ResponseMeta.Usage
		}
		for _, st := range parser.Feed(chunk.Content) {
			// keep reading after the consumer left so the result can still be cached
			if live && !emit(cb, st) {
				live = false
			}
		}
	}

	pending, all := parser.Finish()
	if len(all) == 0 {
		return nil, nil, errors.New("thinking model returned no content")
	}
	for _, st := range pending {
		if live && !emit(cb, st) {
			live = false
		}
	}
	return all, usage, nil
}

// replay re-emits cached steps at the configured interval.
func (e *Executor) replay(ctx context.Context, cached model.ThinkingResult, cb model.StreamCallback) *model.ThinkingResult {
	if !emit(cb, model.NewThinkingStep(model.StepAnalyze, "智能缓存", "发现相似问题的思考结果，正在快速加载...")) {
		cb = nil
	}
	for _, st := range cached.Steps {
		if cb == nil {
			break
		}
		if !emit(cb, st) {
			break
		}
		if !wait(ctx, e.cfg.Thinking.ReplayDelay) {
			break
		}
	}

	out := cached
	out.Steps = append([]model.ThinkingStep(nil), cached.Steps...)
	out.Cached = true
	out.Usage = nil
	return &out
}

func (e *Executor) degrade(cb model.StreamCallback, strategy model.ThinkingStrategy, cause error) model.Outcome[*model.ThinkingResult] {
	st := model.NewThinkingStep(model.StepAnalyze, "思考过程", "正在分析您的问题...")
	emit(cb, st)
	return model.Degraded(&model.ThinkingResult{
		Steps:     []model.ThinkingStep{st},
		Strategy:  strategy,
		Timestamp: e.clock.Now(),
	}, cause)
}

// EvictExpired purges expired thinking results.
func (e *Executor) EvictExpired() int {
	return e.results.EvictExpired()
}

// emit sends a step event and reports whether the consumer is still listening.
func emit(cb model.StreamCallback, st model.ThinkingStep) bool {
	if cb == nil {
		return false
	}
	if err := cb.Send(model.StepEvent(st)); err != nil {
		logx.Debug().Err(err).Str("title", st.Title).Msg("Step not delivered")
		return false
	}
	return true
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
