package model

import "time"

// QualityAssessment holds the post-hoc heuristic scores of one answer.
type QualityAssessment struct {
	Completeness float64 `json:"completeness"`
	Relevance    float64 `json:"relevance"`
	Clarity      float64 `json:"clarity"`
	Efficiency   float64 `json:"efficiency"`
	Overall      float64 `json:"overall"`
}

// PerformanceStats summarizes the cost of one invocation.
type PerformanceStats struct {
	Route            Route                    `json:"route"`
	Total            time.Duration            `json:"total"`
	Stages           map[string]time.Duration `json:"stages"`
	PromptTokens     int                      `json:"prompt_tokens"`
	CompletionTokens int                      `json:"completion_tokens"`
	TotalTokens      int                      `json:"total_tokens"`
	CostUSD          float64                  `json:"cost_usd"`
	Degraded         []string                 `json:"degraded,omitempty"`
}

// SessionReport is what the post-processor persists per session.
type SessionReport struct {
	SessionID   string            `json:"session_id"`
	Quality     QualityAssessment `json:"quality"`
	Performance PerformanceStats  `json:"performance"`
	Suggestions []string          `json:"suggestions"`
	Timestamp   time.Time         `json:"timestamp"`
}
