package model

import (
	"fmt"
	"strings"
	"time"
)

// ToolInvocation records one executed tool call.
type ToolInvocation struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments"`
	Result    string        `json:"result"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// FunctionCallResult is the output of the function-calling stage.
type FunctionCallResult struct {
	Invocations  []ToolInvocation `json:"invocations"`
	LimitReached bool             `json:"limit_reached"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Empty reports whether no tool produced output.
func (f *FunctionCallResult) Empty() bool {
	return f == nil || len(f.Invocations) == 0
}

// Summary renders the invocations for prompt injection.
func (f *FunctionCallResult) Summary() string {
	if f.Empty() {
		return ""
	}
	var b strings.Builder
	for _, inv := range f.Invocations {
		fmt.Fprintf(&b, "- %s(%s): ", inv.Name, inv.Arguments)
		if inv.Error != "" {
			b.WriteString("error: " + inv.Error)
		} else {
			b.WriteString(inv.Result)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
