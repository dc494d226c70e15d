package model

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// PipelineState is carried through every node of the pipeline graph. Nodes
// receive it by value and return the updated copy.
//
// Concurrency model:
//   - the graph engine runs exactly one node per invocation at a time, so the
//     pointer fields (Metrics, results) are never touched concurrently;
//   - states of different invocations share nothing.
type PipelineState struct {
	Request     ChatRequest
	Processed   *ProcessedRequest
	Memory      *MemoryContext
	Thinking    *ThinkingResult
	Tools       *FunctionCallResult
	Response    string
	Generated   bool
	Quality     *QualityAssessment
	Suggestions []string
	Metrics     *Metrics
	Callback    StreamCallback
	StartedAt   time.Time
	Err         error
}

// NewPipelineState starts a state for req.
func NewPipelineState(req ChatRequest, cb StreamCallback) PipelineState {
	return PipelineState{
		Request:   req,
		Callback:  cb,
		Metrics:   NewMetrics(),
		StartedAt: time.Now(),
	}
}

// SessionID returns the resolved session id, or the caller's when preprocessing has not run.
func (s PipelineState) SessionID() string {
	if s.Processed != nil {
		return s.Processed.SessionID
	}
	return s.Request.SessionID
}

// Route returns the preprocessing route, empty before preprocessing.
func (s PipelineState) Route() Route {
	if s.Processed == nil {
		return ""
	}
	return s.Processed.Route
}

// CacheHit reports whether preprocessing found a cached result.
func (s PipelineState) CacheHit() bool {
	return s.Processed != nil && s.Processed.Cache.Hit
}

// Clone returns a copy whose Metrics and slices are independent of s.
func (s PipelineState) Clone() PipelineState {
	out := s
	out.Metrics = s.Metrics.Clone()
	out.Suggestions = append([]string(nil), s.Suggestions...)
	return out
}

// Merge overlays the non-zero fields of other onto s and returns the result.
func (s PipelineState) Merge(other PipelineState) PipelineState {
	out := s
	if other.Processed != nil {
		out.Processed = other.Processed
	}
	if other.Memory != nil {
		out.Memory = other.Memory
	}
	if other.Thinking != nil {
		out.Thinking = other.Thinking
	}
	if other.Tools != nil {
		out.Tools = other.Tools
	}
	if other.Generated {
		out.Response = other.Response
		out.Generated = true
	}
	if other.Quality != nil {
		out.Quality = other.Quality
	}
	if len(other.Suggestions) > 0 {
		out.Suggestions = other.Suggestions
	}
	if other.Metrics != nil {
		out.Metrics = other.Metrics
	}
	if other.Callback != nil {
		out.Callback = other.Callback
	}
	if other.Err != nil {
		out.Err = other.Err
	}
	return out
}

// Metrics accumulates per-invocation counters.
type Metrics struct {
	Stages   map[string]time.Duration
	Usage    schema.TokenUsage
	CostUSD  float64
	Degraded []string
}

func NewMetrics() *Metrics {
	return &Metrics{Stages: make(map[string]time.Duration)}
}

// RecordStage stores the duration of a stage.
func (m *Metrics) RecordStage(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.Stages[name] = d
}

// MarkDegraded notes that a stage fell back to its default.
func (m *Metrics) MarkDegraded(stage string) {
	if m == nil {
		return
	}
	m.Degraded = append(m.Degraded, stage)
}

// AddUsage accumulates token usage and its cost for modelName.
func (m *Metrics) AddUsage(modelName string, usage *schema.TokenUsage) {
	if m == nil || usage == nil {
		return
	}
	m.Usage.PromptTokens += usage.PromptTokens
	m.Usage.CompletionTokens += usage.CompletionTokens
	m.Usage.TotalTokens += usage.TotalTokens
	if CostEnabled() {
		_, _, total := ComputeCost(usage, ResolvePricing(modelName))
		m.CostUSD += total
	}
}

func (m *Metrics) Clone() *Metrics {
	if m == nil {
		return nil
	}
	out := &Metrics{
		Stages:   make(map[string]time.Duration, len(m.Stages)),
		Usage:    m.Usage,
		CostUSD:  m.CostUSD,
		Degraded: append([]string(nil), m.Degraded...),
	}
	for k, v := range m.Stages {
		out.Stages[k] = v
	}
	return out
}

// Outcome is the result of a stage that degrades instead of failing.
type Outcome[T any] struct {
	Value    T
	Degraded bool
	// Err is the cause of degradation, nil when Degraded is false.
	Err error
}

func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

func Degraded[T any](fallback T, cause error) Outcome[T] {
	return Outcome[T]{Value: fallback, Degraded: true, Err: cause}
}
