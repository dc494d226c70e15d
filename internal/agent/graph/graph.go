package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/conversations"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/generation"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/nodes"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/observers"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/postprocess"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/preprocess"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/thinking"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/tools"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/llm"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	"github.com/Chative-core-poc-v1/assistant/pkg/cache"
	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
	"github.com/Chative-core-poc-v1/assistant/pkg/stategraph"
)

// Config holds the tuning knobs of every stage.
type Config struct {
	Chat     model.ChatModelConfig
	Thinking model.ThinkingConfig
	Memory   model.MemoryConfig
	Cache    model.CacheConfig
	Tools    model.ToolsConfig
	Pipeline model.PipelineConfig
	// ModelName is used for cost accounting and logs.
	ModelName string
	// Observe registers the eino callback observers globally.
	Observe bool
	// Clock defaults to the system clock.
	Clock cache.Clock
}

// DefaultConfig returns the built-in defaults of every stage.
func DefaultConfig() Config {
	return Config{
		Chat:     model.DefaultChatModelConfig(),
		Thinking: model.DefaultThinkingConfig(),
		Memory:   model.DefaultMemoryConfig(),
		Cache:    model.DefaultCacheConfig(),
		Tools:    model.ToolsConfig{MaxCalls: tools.DefaultMaxToolCalls},
		Pipeline: model.DefaultPipelineConfig(),
	}
}

// Dependencies are the collaborators the pipeline talks to.
type Dependencies struct {
	// ChatModel streams thinking and answers. Required.
	ChatModel einomodel.BaseChatModel
	// ToolModel proposes tool calls. Nil disables the function-calling stage.
	ToolModel einomodel.BaseChatModel
	// Conversations stores the per-session history. Required.
	Conversations model.ConversationRepository
	// Results backs the request cache. Nil disables it.
	Results model.ResultStore
	// Stats stores the per-session reports. Nil skips persistence.
	Stats model.StatsStore
}

// GraphBuilder assembles the pipeline graph.
type GraphBuilder struct {
	config Config
	deps   Dependencies
	graph  *stategraph.StateGraph[model.PipelineState]

	preprocessor *preprocess.Preprocessor
	memory       *conversations.MemoryManager
	thinking     *thinking.Executor
	caller       *tools.Caller
	toolModel    einomodel.BaseChatModel
	generator    *generation.Generator
	processor    *postprocess.Processor
}

// BuildPipeline wires every stage into a compiled graph and returns its Runner.
func BuildPipeline(ctx context.Context, cfg Config, deps Dependencies) (*Runner, error) {
	if deps.ChatModel == nil {
		return nil, fmt.Errorf("chat model is nil")
	}
	if deps.Conversations == nil {
		return nil, fmt.Errorf("conversation repo is nil")
	}
	if cfg.Clock == nil {
		cfg.Clock = cache.SystemClock
	}
	if cfg.Observe {
		observers.Register()
	}

	b := &GraphBuilder{config: cfg, deps: deps}
	b.setupStages()
	if err := b.setupTools(ctx); err != nil {
		return nil, err
	}

	b.graph = stategraph.New[model.PipelineState](nodes.Router{ToolsAvailable: b.caller != nil}.Route)
	b.addNodes()
	if err := b.addEdges(); err != nil {
		return nil, err
	}

	compiled, err := b.compile()
	if err != nil {
		return nil, err
	}

	r := &Runner{
		graph:        compiled,
		preprocessor: b.preprocessor,
		memory:       b.memory,
		thinking:     b.thinking,
		stats:        deps.Stats,
		clock:        cfg.Clock,
	}
	info := compiled.Info()
	logx.Debug().
		Int("nodes", info.NodeCount).
		Int("edges", info.EdgeCount).
		Bool("tools", b.caller != nil).
		Msg("Pipeline graph built successfully")
	return r, nil
}

func (b *GraphBuilder) setupStages() {
	cfg := b.config
	b.preprocessor = preprocess.NewPreprocessor(b.deps.Results, preprocess.Config{
		Cache:            cfg.Cache,
		MaxMessageLength: cfg.Pipeline.MaxMessageLength,
	})
	b.memory = conversations.NewMemoryManager(b.deps.Conversations, cfg.Memory, cfg.Clock)
	b.thinking = thinking.NewExecutor(b.deps.ChatModel, thinking.Config{
		Thinking:     cfg.Thinking,
		CacheEnabled: cfg.Cache.Enabled,
		ModelName:    cfg.ModelName,
	}, cfg.Clock)
	b.generator = generation.NewGenerator(b.deps.ChatModel, cfg.Chat, cfg.ModelName)
	b.processor = postprocess.NewProcessor(b.deps.Stats, cfg.Pipeline.StatsTTL, cfg.Clock)
}

// setupTools builds the tool set and binds it to the tool model. Without a
// tool model the function-calling stage is never routed to.
func (b *GraphBuilder) setupTools(ctx context.Context) error {
	if b.deps.ToolModel == nil {
		return nil
	}
	caller, err := tools.NewCaller(ctx, tools.GetQueryTools(b.deps.Conversations, b.config.Clock), b.config.Tools.MaxCalls)
	if err != nil {
		return err
	}
	bound, err := llm.BindTools(b.deps.ToolModel, caller.Infos())
	if err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools to tool model")
		return fmt.Errorf("failed to bind tools to tool model: %w", err)
	}
	b.caller = caller
	b.toolModel = bound
	return nil
}

// addNodes registers every stage, timed under its node id.
func (b *GraphBuilder) addNodes() {
	stages := []struct {
		id string
		fn nodes.Node
	}{
		{nodes.NodePreprocessing, nodes.NewPreprocessingNode(b.preprocessor)},
		{nodes.NodeCacheCheck, nodes.NewCacheCheckNode()},
		{nodes.NodeMemoryLoading, nodes.NewMemoryLoadingNode(b.memory)},
		{nodes.NodeThinkingExecution, nodes.NewThinkingNode(b.thinking, b.config.ModelName)},
		{nodes.NodeFunctionCalling, nodes.NewFunctionCallingNode(b.caller, b.toolModel, b.config.ModelName)},
		{nodes.NodeResponseGeneration, nodes.NewResponseGenerationNode(b.generator)},
		{nodes.NodeMemorySaving, nodes.NewMemorySavingNode(b.memory, b.preprocessor)},
		{nodes.NodePostProcessing, nodes.NewPostProcessingNode(b.processor)},
	}
	for _, st := range stages {
		_ = b.graph.AddNode(st.id, nodes.Timed(st.id, st.fn))
	}
	_ = b.graph.AddNode(nodes.NodeFinish, nodes.NewFinishNode())
}

// addEdges adds the decision table and the entry and finish points. Builder
// errors are also reported by Compile.
func (b *GraphBuilder) addEdges() error {
	for _, e := range nodes.Edges {
		if err := b.graph.AddConditionalEdge(e.From, e.To, e.When); err != nil {
			logx.Error().Err(err).Str("from", e.From).Str("to", e.To).Msg("Error adding edge")
			return fmt.Errorf("error adding edge %s -> %s: %w", e.From, e.To, err)
		}
	}
	if err := b.graph.SetEntryPoint(nodes.NodePreprocessing); err != nil {
		return err
	}
	return b.graph.SetFinishPoint(nodes.NodeFinish)
}

func (b *GraphBuilder) compile() (*stategraph.CompiledGraph[model.PipelineState], error) {
	compiled, err := b.graph.Compile(
		stategraph.WithPoolSize(b.config.Pipeline.WorkerPoolSize),
		stategraph.WithStepObserver(logStep),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}
	logx.Debug().Msg("Graph compiled successfully")
	return compiled, nil
}

func logStep(info stategraph.StepInfo) {
	if info.Err != nil {
		logx.Warn().Str("node", info.NodeID).Int("step", info.Step).Dur("elapsed", info.Elapsed).Err(info.Err).Msg("Node failed")
		return
	}
	logx.Debug().Str("node", info.NodeID).Int("step", info.Step).Dur("elapsed", info.Elapsed).Msg("Node executed")
}

// ================ Runner ================

// Runner executes the compiled pipeline. It is safe for concurrent use;
// invocations of one session are expected to be sequential.
type Runner struct {
	graph        *stategraph.CompiledGraph[model.PipelineState]
	preprocessor *preprocess.Preprocessor
	memory       *conversations.MemoryManager
	thinking     *thinking.Executor
	stats        model.StatsStore
	clock        cache.Clock
}

// Execute runs one request through the pipeline, streaming events to cb.
// Exactly one terminal event (done or error) reaches cb per call. The
// returned state is the final pipeline state, or the initial one on failure.
func (r *Runner) Execute(ctx context.Context, req model.ChatRequest, cb model.StreamCallback) (model.PipelineState, error) {
	guard := newTerminalGuard(cb)
	state := model.NewPipelineState(req, guard)
	state.StartedAt = r.clock.Now()

	if err := r.preprocessor.Validate(req); err != nil {
		logx.Warn().Str("session_id", req.SessionID).Err(err).Msg("Request rejected")
		_ = guard.Send(model.ErrorEvent(err.Error()))
		state.Err = err
		return state, err
	}

	out, err := r.graph.Invoke(ctx, state)
	if err != nil {
		var stageErr *stategraph.StageError
		node := ""
		if errors.As(err, &stageErr) {
			node = stageErr.NodeID
		}
		logx.Error().Str("session_id", state.SessionID()).Str("node", node).Err(err).Msg("Pipeline failed")
		_ = guard.Send(model.ErrorEvent(err.Error()))
		state.Err = err
		return state, err
	}

	if !guard.Terminated() {
		_ = guard.Send(model.DoneEvent())
	}
	return out, nil
}

// Info describes the compiled graph.
func (r *Runner) Info() stategraph.GraphInfo {
	return r.graph.Info()
}

// SessionStats reports stored memory for a session.
func (r *Runner) SessionStats(ctx context.Context, sessionID string) (conversations.SessionStats, error) {
	return r.memory.Stats(ctx, sessionID)
}

// LastReport returns the latest stored report of a session, nil when none is stored.
func (r *Runner) LastReport(ctx context.Context, sessionID string) (*model.SessionReport, error) {
	if r.stats == nil {
		return nil, nil
	}
	return r.stats.LoadStats(ctx, sessionID)
}

// EvictExpired purges expired relevance snapshots and thinking results.
func (r *Runner) EvictExpired() (snapshots, thoughts int) {
	return r.memory.EvictExpiredSnapshots(), r.thinking.EvictExpired()
}

// Close releases the worker pool.
func (r *Runner) Close() {
	r.graph.Close()
}

// terminalGuard forwards events to the caller's callback and lets through
// at most one terminal event.
type terminalGuard struct {
	mu         sync.Mutex
	cb         model.StreamCallback
	terminated bool
}

func newTerminalGuard(cb model.StreamCallback) *terminalGuard {
	return &terminalGuard{cb: cb}
}

func (g *terminalGuard) Send(e model.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminated {
		return model.ErrCallbackClosed
	}
	if e.IsTerminal() {
		g.terminated = true
	}
	if g.cb == nil {
		return nil
	}
	return g.cb.Send(e)
}

// Terminated reports whether a terminal event went through.
func (g *terminalGuard) Terminated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminated
}
