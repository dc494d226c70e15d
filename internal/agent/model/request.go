package model

import (
	"strings"
	"time"
)

// ChatRequest is the caller-facing request. Nil flags take their defaults
// (SaveHistory=true, EnableDeepThinking=false) during preprocessing.
type ChatRequest struct {
	Message            string `json:"message"`
	SessionID          string `json:"session_id,omitempty"`
	EnableDeepThinking *bool  `json:"enable_deep_thinking,omitempty"`
	SaveHistory        *bool  `json:"save_history,omitempty"`
}

// Bool returns a pointer to b, for building ChatRequest literals.
func Bool(b bool) *bool { return &b }

// NormalizedRequest is a ChatRequest with every field resolved.
type NormalizedRequest struct {
	Message            string `json:"message"`
	SessionID          string `json:"session_id"`
	EnableDeepThinking bool   `json:"enable_deep_thinking"`
	SaveHistory        bool   `json:"save_history"`
}

// Route classifies a request and decides which optional stages run.
type Route string

const (
	RouteSimpleChat            Route = "SIMPLE_CHAT"
	RouteStandardChat          Route = "STANDARD_CHAT"
	RouteDeepThinkingSimple    Route = "DEEP_THINKING_SIMPLE"
	RouteDeepThinkingWithTools Route = "DEEP_THINKING_WITH_TOOLS"
)

// IsDeepThinking reports whether the route runs the thinking stage.
func (r Route) IsDeepThinking() bool {
	return r == RouteDeepThinkingSimple || r == RouteDeepThinkingWithTools
}

func (r Route) String() string { return string(r) }

// CacheResult is the outcome of the request-cache lookup. A miss is not an error.
type CacheResult struct {
	Hit       bool      `json:"hit"`
	Payload   string    `json:"payload,omitempty"`
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
}

// ProcessedRequest is produced once per invocation by the preprocessor.
type ProcessedRequest struct {
	Request   NormalizedRequest `json:"request"`
	SessionID string            `json:"session_id"`
	Route     Route             `json:"route"`
	Cache     CacheResult       `json:"cache"`
	Duration  time.Duration     `json:"duration"`
}

// Message is a shorthand for the normalized message text.
func (p *ProcessedRequest) Message() string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.Request.Message)
}
