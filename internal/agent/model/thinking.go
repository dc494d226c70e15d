package model

import (
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

// StepType classifies a thinking step.
type StepType string

const (
	StepAnalyze    StepType = "analyze"
	StepResearch   StepType = "research"
	StepReason     StepType = "reason"
	StepSynthesize StepType = "synthesize"
	StepValidate   StepType = "validate"
)

type ThinkingStep struct {
	Type      StepType  `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func NewThinkingStep(t StepType, title, content string) ThinkingStep {
	return ThinkingStep{Type: t, Title: title, Content: content, Timestamp: time.Now()}
}

// ThinkingStrategy is the analysis approach chosen for a message.
type ThinkingStrategy string

const (
	StrategyFactualAnalysis     ThinkingStrategy = "FACTUAL_ANALYSIS"
	StrategyCreativeThinking    ThinkingStrategy = "CREATIVE_THINKING"
	StrategyProblemSolving      ThinkingStrategy = "PROBLEM_SOLVING"
	StrategyComparativeAnalysis ThinkingStrategy = "COMPARATIVE_ANALYSIS"
	StrategyGeneralThinking     ThinkingStrategy = "GENERAL_THINKING"
)

var strategyDescriptions = map[ThinkingStrategy]string{
	StrategyFactualAnalysis:     "事实分析",
	StrategyCreativeThinking:    "创意思维",
	StrategyProblemSolving:      "问题解决",
	StrategyComparativeAnalysis: "对比分析",
	StrategyGeneralThinking:     "通用思考",
}

// Description is the user-facing name of the strategy.
func (s ThinkingStrategy) Description() string {
	if d, ok := strategyDescriptions[s]; ok {
		return d
	}
	return strategyDescriptions[StrategyGeneralThinking]
}

type ThinkingResult struct {
	Steps     []ThinkingStep     `json:"steps"`
	Strategy  ThinkingStrategy   `json:"strategy"`
	Timestamp time.Time          `json:"timestamp"`
	Cached    bool               `json:"cached"`
	Usage     *schema.TokenUsage `json:"usage,omitempty"`
}

// Summary renders the steps as 【title】content lines for prompt injection.
func (r *ThinkingResult) Summary() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, s := range r.Steps {
		b.WriteString("【")
		b.WriteString(s.Title)
		b.WriteString("】")
		b.WriteString(s.Content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
