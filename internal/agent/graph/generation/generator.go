package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/prompts"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/assistant/internal/core/error"
	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
)

// Strategy selects how the completion request is assembled.
type Strategy string

const (
	StrategyRAG          Strategy = "RAG_GENERATION"
	StrategyThinking     Strategy = "THINKING_BASED_GENERATION"
	StrategyContextAware Strategy = "CONTEXT_AWARE_GENERATION"
	StrategyEnhanced     Strategy = "ENHANCED_GENERATION"
	StrategySimple       Strategy = "SIMPLE_GENERATION"
	StrategyStandard     Strategy = "STANDARD_GENERATION"
)

// ErrorPrefix starts the message of the error event sent on failure.
const ErrorPrefix = "响应生成失败: "

var preludes = map[Strategy]string{
	StrategyRAG:      "正在基于搜索结果生成回答...\n\n",
	StrategyThinking: "基于深度思考结果生成回答...\n\n",
	StrategyEnhanced: "正在生成增强回答...\n\n",
}

// Input is everything the generator reads from the pipeline state.
type Input struct {
	SessionID string
	Message   string
	Route     model.Route
	Memory    *model.MemoryContext
	Thinking  *model.ThinkingResult
	Tools     *model.FunctionCallResult
}

// Result is the generated answer.
type Result struct {
	Content  string
	Strategy Strategy
	Usage    *schema.TokenUsage
	Duration time.Duration
}

type Generator struct {
	chat      einomodel.BaseChatModel
	cfg       model.ChatModelConfig
	modelName string
}

func NewGenerator(chat einomodel.BaseChatModel, cfg model.ChatModelConfig, modelName string) *Generator {
	def := model.DefaultChatModelConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	return &Generator{chat: chat, cfg: cfg, modelName: modelName}
}

// ModelName is the model whose usage Generate reports.
func (g *Generator) ModelName() string { return g.modelName }

// SelectStrategy applies the precedence tool result > thinking result > route.
func SelectStrategy(in Input) Strategy {
	if !in.Tools.Empty() {
		return StrategyRAG
	}
	if in.Thinking != nil && len(in.Thinking.Steps) > 0 {
		return StrategyThinking
	}
	switch in.Route {
	case model.RouteSimpleChat:
		return StrategySimple
	case model.RouteStandardChat:
		return StrategyContextAware
	case model.RouteDeepThinkingSimple, model.RouteDeepThinkingWithTools:
		return StrategyEnhanced
	default:
		return StrategyStandard
	}
}

// BuildMessages assembles the role-tagged completion input for strategy.
func BuildMessages(ctx context.Context, strategy Strategy, in Input) ([]*schema.Message, error) {
	var (
		system string
		err    error
	)
	switch strategy {
	case StrategyRAG:
		system, err = prompts.RenderResponseSystem(ctx, prompts.RAGInstruction)
	case StrategyThinking:
		system, err = prompts.RenderResponseSystem(ctx, prompts.ThinkingInstruction)
	case StrategyEnhanced:
		system, err = prompts.RenderResponseSystem(ctx, prompts.EnhancedInstruction)
	case StrategySimple:
		system, err = prompts.RenderSimpleSystem(ctx)
	default:
		system, err = prompts.RenderResponseSystem(ctx, "")
	}
	if err != nil {
		return nil, err
	}

	msgs := []*schema.Message{schema.SystemMessage(system)}
	switch strategy {
	case StrategyRAG:
		msgs = append(msgs, schema.SystemMessage("工具调用结果：\n"+in.Tools.Summary()))
	case StrategyThinking:
		msgs = append(msgs, schema.SystemMessage("深度思考结果：\n"+in.Thinking.Summary()))
	case StrategyContextAware:
		msgs = append(msgs, history(in.Memory)...)
	case StrategyEnhanced:
		if s := in.Thinking.Summary(); s != "" {
			msgs = append(msgs, schema.SystemMessage("思考过程：\n"+s))
		}
		if s := in.Tools.Summary(); s != "" {
			msgs = append(msgs, schema.SystemMessage("工具结果：\n"+s))
		}
		msgs = append(msgs, history(in.Memory)...)
	}
	return append(msgs, schema.UserMessage(in.Message)), nil
}

// history copies the compressed user and assistant turns.
func history(mem *model.MemoryContext) []*schema.Message {
	if mem == nil {
		return nil
	}
	out := make([]*schema.Message, 0, len(mem.Compressed))
	for _, m := range mem.Compressed {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role != schema.User && m.Role != schema.Assistant {
			continue
		}
		out = append(out, &schema.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// Generate streams the answer to cb while accumulating it. On failure one
// error event is sent and the error is returned.
func (g *Generator) Generate(ctx context.Context, in Input, cb model.StreamCallback) (*Result, error) {
	start := time.Now()
	strategy := SelectStrategy(in)
	logx.Info().
		Str("session_id", in.SessionID).
		Str("route", string(in.Route)).
		Str("strategy", string(strategy)).
		Str("model", g.modelName).
		Msg("Response generation started")

	res, err := g.generate(ctx, strategy, in, cb)
	if err != nil {
		logx.Error().
			Str("session_id", in.SessionID).
			Str("strategy", string(strategy)).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("Response generation failed")
		if cb != nil {
			_ = cb.Send(model.ErrorEvent(ErrorPrefix + err.Error()))
		}
		return nil, err
	}
	res.Duration = time.Since(start)

	logx.Info().
		Str("session_id", in.SessionID).
		Str("strategy", string(strategy)).
		Int("length", len(res.Content)).
		Dur("elapsed", res.Duration).
		Msg("Response generation done")
	return res, nil
}

func (g *Generator) generate(ctx context.Context, strategy Strategy, in Input, cb model.StreamCallback) (*Result, error) {
	if g.chat == nil {
		return nil, errx.Upstream(errors.New("chat model is not configured"))
	}
	msgs, err := BuildMessages(ctx, strategy, in)
	if err != nil {
		return nil, err
	}

	live := cb != nil
	if p, ok := preludes[strategy]; ok && live {
		live = cb.Send(model.ContentEvent(p)) == nil
	}

	sr, err := g.chat.Stream(ctx, msgs,
		einomodel.WithMaxTokens(g.cfg.MaxTokens),
		einomodel.WithTemperature(g.cfg.Temperature),
	)
	if err != nil {
		return nil, errx.Upstream(fmt.Errorf("response stream: %w", err))
	}
	defer sr.Close()

	res := &Result{Strategy: strategy}
	var b strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errx.Upstream(fmt.Errorf("response stream recv: %w", err))
		}
		if chunk == nil {
			continue
		}
		if chunk.ResponseMeta != nil && chunk.ResponseMeta.Usage != nil {
			res.Usage = chunk.ResponseMeta.Usage
		}
		if chunk.Content == "" {
			continue
		}
		b.WriteString(chunk.Content)
		if !live {
			continue
		}
		if err := cb.Send(model.ContentEvent(chunk.Content)); err != nil {
			logx.Debug().Str("session_id", in.SessionID).Err(err).Msg("Consumer gone - stop forwarding")
			break
		}
	}
	res.Content = b.String()
	return res, nil
}
