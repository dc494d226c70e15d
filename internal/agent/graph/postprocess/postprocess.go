package postprocess

import (
	"context"
	"strings"
	"time"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	"github.com/Chative-core-poc-v1/assistant/pkg/cache"
	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
)

// Input is what the post-processor reads from the pipeline state.
type Input struct {
	SessionID string
	Message   string
	Route     model.Route
	Response  string
	Metrics   *model.Metrics
	StartedAt time.Time
}

// Processor scores the answer, suggests follow-ups and records session stats.
type Processor struct {
	stats    model.StatsStore
	statsTTL time.Duration
	clock    cache.Clock
}

// NewProcessor returns a Processor. stats may be nil to skip persistence.
func NewProcessor(stats model.StatsStore, statsTTL time.Duration, clock cache.Clock) *Processor {
	if clock == nil {
		clock = cache.SystemClock
	}
	if statsTTL <= 0 {
		statsTTL = model.DefaultPipelineConfig().StatsTTL
	}
	return &Processor{stats: stats, statsTTL: statsTTL, clock: clock}
}

// Process emits the suggestions event followed by done. It never fails;
// internal errors are logged and the report built so far is returned.
func (p *Processor) Process(ctx context.Context, in Input, cb model.StreamCallback) (report *model.SessionReport) {
	now := p.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("session_id", in.SessionID).Msgf("Post-processing recovered from panic: %v", r)
		}
	}()

	var total time.Duration
	if !in.StartedAt.IsZero() {
		total = now.Sub(in.StartedAt)
	}

	quality := Assess(in.Message, in.Response, total)
	suggestions := FollowUps(in.Message, in.Route, quality)
	report = &model.SessionReport{
		SessionID:   in.SessionID,
		Quality:     quality,
		Performance: Performance(in.Route, in.Metrics, total),
		Suggestions: suggestions,
		Timestamp:   now,
	}

	if p.stats != nil && in.SessionID != "" {
		if err := p.stats.SaveStats(ctx, in.SessionID, *report, p.statsTTL); err != nil {
			logx.Warn().Str("session_id", in.SessionID).Err(err).Msg("Failed to save session stats")
		}
	}

	if cb != nil {
		if err := cb.Send(model.SuggestionsEvent(suggestions)); err != nil {
			logx.Debug().Str("session_id", in.SessionID).Err(err).Msg("Suggestions not delivered")
		}
		if err := cb.Send(model.DoneEvent()); err != nil {
			logx.Debug().Str("session_id", in.SessionID).Err(err).Msg("Done not delivered")
		}
	}

	perf := report.Performance
	logx.Info().
		Str("session_id", in.SessionID).
		Str("route", string(in.Route)).
		Float64("overall", quality.Overall).
		Float64("completeness", quality.Completeness).
		Float64("relevance", quality.Relevance).
		Float64("clarity", quality.Clarity).
		Float64("efficiency", quality.Efficiency).
		Dur("total", perf.Total).
		Int("total_tokens", perf.TotalTokens).
		Float64("cost_usd", perf.CostUSD).
		Strs("degraded", perf.Degraded).
		Msg("Invocation report")
	return report
}

// ================ Quality ================

// Assess scores response against question. An empty response scores zero everywhere.
func Assess(question, response string, total time.Duration) model.QualityAssessment {
	if strings.TrimSpace(response) == "" {
		return model.QualityAssessment{}
	}
	length := len([]rune(response))
	keywords := containsKeywords(response, question)

	completeness := 0.5
	if length > 50 {
		completeness += 0.2
	}
	if length > 200 {
		completeness += 0.1
	}
	if keywords {
		completeness += 0.2
	}

	relevance := 0.3
	if keywords {
		relevance += 0.4
	}
	if length > 50 && keywords {
		relevance += 0.3
	}

	clarity := 0.4
	if strings.ContainsAny(response, "。\n：") {
		clarity += 0.3
	}
	if !strings.Contains(response, "...") && length > 20 {
		clarity += 0.3
	}

	q := model.QualityAssessment{
		Completeness: min(1, completeness),
		Relevance:    min(1, relevance),
		Clarity:      min(1, clarity),
		Efficiency:   efficiency(total),
	}
	q.Overall = 0.3*q.Completeness + 0.3*q.Relevance + 0.2*q.Clarity + 0.2*q.Efficiency
	return q
}

func efficiency(total time.Duration) float64 {
	switch {
	case total < 2*time.Second:
		return 1.0
	case total < 5*time.Second:
		return 0.8
	case total < 10*time.Second:
		return 0.6
	case total < 20*time.Second:
		return 0.4
	default:
		return 0.2
	}
}

// containsKeywords reports whether enough whitespace-separated question words
// appear in response: at least min(words/2, 3).
func containsKeywords(response, question string) bool {
	words := strings.Fields(strings.ToLower(question))
	lower := strings.ToLower(response)
	matched := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			matched++
		}
	}
	return matched >= min(len(words)/2, 3)
}

// ================ Follow-ups ================

var questionKinds = []struct {
	keywords    []string
	suggestions []string
}{
	{[]string{"如何", "怎么", "怎样"}, []string{"您想了解更多实施细节吗？", "有什么具体的困难需要解决吗？"}},
	{[]string{"什么是", "什么", "是什么"}, []string{"您想深入了解相关的应用场景吗？", "还有其他相关概念需要解释吗？"}},
	{[]string{"为什么", "为何", "原因"}, []string{"您想了解更多背景信息吗？", "有什么具体的例子可以帮助理解吗？"}},
}

var genericSuggestions = []string{"还有什么相关问题吗？", "需要我详细解释某个方面吗？"}

const (
	lowQualitySuggestion = "我的回答是否完全解决了您的问题？"
	deepSuggestion       = "您希望我从其他角度分析这个问题吗？"
	simpleSuggestion     = "还有什么可以帮助您的吗？"
	lowQualityThreshold  = 0.7
)

// FollowUps suggests follow-up questions by question type, quality and route.
func FollowUps(question string, route model.Route, q model.QualityAssessment) []string {
	out := append([]string(nil), genericSuggestions...)
kinds:
	for _, k := range questionKinds {
		for _, kw := range k.keywords {
			if strings.Contains(question, kw) {
				out = append([]string(nil), k.suggestions...)
				break kinds
			}
		}
	}

	if q.Overall < lowQualityThreshold {
		out = append(out, lowQualitySuggestion)
	}
	switch {
	case route.IsDeepThinking():
		out = append(out, deepSuggestion)
	case route == model.RouteSimpleChat:
		out = append(out, simpleSuggestion)
	}
	return out
}

// ================ Performance ================

// Performance summarizes metrics of one invocation.
func Performance(route model.Route, m *model.Metrics, total time.Duration) model.PerformanceStats {
	out := model.PerformanceStats{Route: route, Total: total, Stages: map[string]time.Duration{}}
	if m == nil {
		return out
	}
	for k, v := range m.Stages {
		out.Stages[k] = v
	}
	out.PromptTokens = m.Usage.PromptTokens
	out.CompletionTokens = m.Usage.CompletionTokens
	out.TotalTokens = m.Usage.TotalTokens
	out.CostUSD = m.CostUSD
	out.Degraded = append([]string(nil), m.Degraded...)
	return out
}
