package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/conversations"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/generation"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/postprocess"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/preprocess"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/prompts"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/thinking"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/tools"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
	"github.com/Chative-core-poc-v1/assistant/pkg/stategraph"
)

// Node is the function type of every pipeline stage.
type Node = stategraph.NodeFunc[model.PipelineState]

// CachedPrefix starts the content event sent for a request-cache hit.
const CachedPrefix = "缓存结果: "

// Timed records the duration of fn under id in the state's metrics.
func Timed(id string, fn Node) Node {
	return func(ctx context.Context, s model.PipelineState) (model.PipelineState, error) {
		start := time.Now()
		out, err := fn(ctx, s)
		if err == nil {
			out.Metrics.RecordStage(id, time.Since(start))
		}
		return out, err
	}
}

// NewPreprocessingNode normalizes and routes the request.
func NewPreprocessingNode(p *preprocess.Preprocessor) Node {
	return func(ctx context.Context, s model.PipelineState) (model.PipelineState, error) {
		processed, err := p.Preprocess(ctx, s.Request)
		if err != nil {
			return s, err
		}
		s.Processed = processed
		return s, nil
	}
}

// NewCacheCheckNode replays a cached response. On a hit the walk ends here,
// so the node also sends the done event.
func NewCacheCheckNode() Node {
	return func(ctx context.Context, s model.PipelineState) (model.PipelineState, error) {
		if !s.CacheHit() {
			return s, nil
		}
		payload := s.Processed.Cache.Payload
		s.Response = payload
		logx.Info().
			Str("session_id", s.SessionID()).
			Str("key", s.Processed.Cache.Key).
			Msg("Request cache hit")
		send(s, model.ContentEvent(CachedPrefix+payload))
		send(s, model.DoneEvent())
		return s, nil
	}
}

// NewMemoryLoadingNode loads the compressed conversation context.
func NewMemoryLoadingNode(mm *conversations.MemoryManager) Node {
	return func(ctx context.Context, s model.PipelineState) (model.PipelineState, error) {
		out := mm.LoadContext(ctx, s.SessionID(), s.Processed.Message())
		if out.Degraded {
			s.Metrics.MarkDegraded(NodeMemoryLoading)
		}
		s.Memory = out.Value
		return s, nil
	}
}

// NewThinkingNode runs deep thinking and streams its steps.
func NewThinkingNode(e *thinking.Executor, modelName string) Node {
	return func(ctx context.Context, s model.PipelineState) (model.PipelineState, error) {
		out := e.Execute(ctx, s.SessionID(), s.Processed.Message(), s.Callback)
		if out.Degraded {
			s.Metrics.MarkDegraded(NodeThinkingExecution)
		}
		s.Thinking = out.Value
		if out.Value != nil {
			s.Metrics.AddUsage(modelName, out.Value.Usage)
		}
		return s, nil
	}
}

// NewFunctionCallingNode lets the tool-bound model pick tools and runs them.
// Failures leave the state without a tool result.
func NewFunctionCallingNode(caller *tools.Caller, toolModel einomodel.BaseChatModel, modelName string) Node {
	return func(ctx context.Context, s model.PipelineState) (model.PipelineState, error) {
		out := CallTools(ctx, caller, toolModel, modelName, s)
		if out.Degraded {
			logx.Warn().Str("session_id", s.SessionID()).Err(out.Err).Msg("Function calling failed - continuing without tools")
			s.Metrics.MarkDegraded(NodeFunctionCalling)
		}
		s.Tools = out.Value
		return s, nil
	}
}

// CallTools asks toolModel for tool calls and executes them through caller.
func CallTools(ctx context.Context, caller *tools.Caller, toolModel einomodel.BaseChatModel, modelName string, s model.PipelineState) (out model.Outcome[*model.FunctionCallResult]) {
	defer func() {
		if r := recover(); r != nil {
			out = model.Degraded[*model.FunctionCallResult](nil, fmt.Errorf("function calling panic: %v", r))
		}
	}()
	if caller == nil || toolModel == nil {
		return model.Degraded[*model.FunctionCallResult](nil, errors.New("tools are not configured"))
	}

	system, err := prompts.RenderToolSystem(ctx, caller.MaxCalls())
	if err != nil {
		return model.Degraded[*model.FunctionCallResult](nil, err)
	}
	msgs := []*schema.Message{schema.SystemMessage(system)}
	if summary := s.Thinking.Summary(); summary != "" {
		msgs = append(msgs, schema.SystemMessage("思考过程：\n"+summary))
	}
	msgs = append(msgs, schema.UserMessage(s.Processed.Message()))

	resp, err := toolModel.Generate(ctx, msgs)
	if err != nil {
		return model.Degraded[*model.FunctionCallResult](nil, fmt.Errorf("tool selection: %w", err))
	}
	if resp.ResponseMeta != nil {
		s.Metrics.AddUsage(modelName, resp.ResponseMeta.Usage)
	}
	if len(resp.ToolCalls) == 0 {
		logx.Debug().Str("session_id", s.SessionID()).Msg("No tool calls proposed")
		return model.Ok(&model.FunctionCallResult{Timestamp: time.Now()})
	}

	res, err := caller.Call(ctx, s.SessionID(), resp)
	if err != nil {
		return model.Degraded[*model.FunctionCallResult](nil, err)
	}
	return model.Ok(res)
}

// NewResponseGenerationNode streams the answer. Its failure ends the invocation.
func NewResponseGenerationNode(g *generation.Generator) Node {
	return func(ctx context.Context, s model.PipelineState) (model.PipelineState, error) {
		res, err := g.Generate(ctx, generation.Input{
			SessionID: s.SessionID(),
			Message:   s.Processed.Message(),
			Route:     s.Route(),
			Memory:    s.Memory,
			Thinking:  s.Thinking,
			Tools:     s.Tools,
		}, s.Callback)
		if err != nil {
			return s, err
		}
		s.Response = res.Content
		s.Generated = true
		s.Metrics.AddUsage(g.ModelName(), res.Usage)
		return s, nil
	}
}

// NewMemorySavingNode persists the turn and fills the request cache.
// Failures are logged only.
func NewMemorySavingNode(mm *conversations.MemoryManager, p *preprocess.Preprocessor) Node {
	return func(ctx context.Context, s model.PipelineState) (model.PipelineState, error) {
		if !s.Generated {
			return s, nil
		}
		sid := s.SessionID()
		if s.Processed.Request.SaveHistory {
			if err := mm.SaveContext(ctx, sid, s.Memory, s.Processed.Message(), s.Response); err != nil {
				logx.Error().Str("session_id", sid).Err(err).Msg("Error saving memory context")
				s.Metrics.MarkDegraded(NodeMemorySaving)
			}
		}
		if err := p.Remember(ctx, s.Processed, s.Response); err != nil {
			logx.Warn().Str("session_id", sid).Err(err).Msg("Error caching response")
		}
		return s, nil
	}
}

// NewPostProcessingNode scores the answer and closes the stream.
func NewPostProcessingNode(proc *postprocess.Processor) Node {
	return func(ctx context.Context, s model.PipelineState) (model.PipelineState, error) {
		report := proc.Process(ctx, postprocess.Input{
			SessionID: s.SessionID(),
			Message:   s.Processed.Message(),
			Route:     s.Route(),
			Response:  s.Response,
			Metrics:   s.Metrics,
			StartedAt: s.StartedAt,
		}, s.Callback)
		if report != nil {
			q := report.Quality
			s.Quality = &q
			s.Suggestions = report.Suggestions
		}
		return s, nil
	}
}

// NewFinishNode is the terminal placeholder; the engine never runs it.
func NewFinishNode() Node {
	return func(_ context.Context, s model.PipelineState) (model.PipelineState, error) {
		return s, nil
	}
}

func send(s model.PipelineState, e model.Event) {
	if s.Callback == nil {
		return
	}
	if err := s.Callback.Send(e); err != nil {
		logx.Debug().Str("session_id", s.SessionID()).Str("event", string(e.Kind)).Err(err).Msg("Event not delivered")
	}
}
