package nodes

import (
	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	"github.com/Chative-core-poc-v1/assistant/pkg/stategraph"
)

// Node ids of the pipeline graph.
const (
	NodePreprocessing      = "preprocessing"
	NodeCacheCheck         = "cache_check"
	NodeMemoryLoading      = "memory_loading"
	NodeThinkingExecution  = "thinking_execution"
	NodeFunctionCalling    = "function_calling"
	NodeResponseGeneration = "response_generation"
	NodeMemorySaving       = "memory_saving"
	NodePostProcessing     = "post_processing"
	NodeFinish             = "finish"
)

// Routing conditions. stategraph.Always guards the fallthrough edges.
const (
	CondCacheHit      stategraph.Condition = "cache_hit"
	CondNeedsThinking stategraph.Condition = "needs_thinking"
	CondNeedsTools    stategraph.Condition = "needs_tools"
)

// EdgeSpec is one row of the pipeline decision table.
type EdgeSpec struct {
	From string
	To   string
	When stategraph.Condition
}

// Edges lists every transition in evaluation order.
var Edges = []EdgeSpec{
	{NodePreprocessing, NodeCacheCheck, stategraph.Always},
	{NodeCacheCheck, NodeFinish, CondCacheHit},
	{NodeCacheCheck, NodeMemoryLoading, stategraph.Always},
	{NodeMemoryLoading, NodeThinkingExecution, CondNeedsThinking},
	{NodeMemoryLoading, NodeFunctionCalling, CondNeedsTools},
	{NodeMemoryLoading, NodeResponseGeneration, stategraph.Always},
	{NodeThinkingExecution, NodeFunctionCalling, CondNeedsTools},
	{NodeThinkingExecution, NodeResponseGeneration, stategraph.Always},
	{NodeFunctionCalling, NodeResponseGeneration, stategraph.Always},
	{NodeResponseGeneration, NodeMemorySaving, stategraph.Always},
	{NodeMemorySaving, NodePostProcessing, stategraph.Always},
	{NodePostProcessing, NodeFinish, stategraph.Always},
}

// Router resolves the pipeline conditions. ToolsAvailable reports whether a
// tool set is wired; without one NeedsTools never holds.
type Router struct {
	ToolsAvailable bool
}

// Route is the pure dispatch used as the graph's stategraph.Router.
func (r Router) Route(cond stategraph.Condition, s model.PipelineState) bool {
	switch cond {
	case stategraph.Always:
		return true
	case CondCacheHit:
		return s.CacheHit()
	case CondNeedsThinking:
		return s.Route().IsDeepThinking()
	case CondNeedsTools:
		return r.ToolsAvailable && s.Route() == model.RouteDeepThinkingWithTools
	default:
		return false
	}
}
