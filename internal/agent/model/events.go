package model

import "errors"

// EventKind discriminates streaming events.
type EventKind string

const (
	EventContent     EventKind = "content"
	EventStep        EventKind = "step"
	EventSuggestions EventKind = "suggestions"
	EventDone        EventKind = "done"
	EventError       EventKind = "error"
)

// Event is one side-channel message delivered to the caller while the
// pipeline runs. Done and Error are terminal.
type Event struct {
	Kind        EventKind     `json:"type"`
	Content     string        `json:"content,omitempty"`
	Step        *ThinkingStep `json:"step,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// IsTerminal reports whether e ends the stream.
func (e Event) IsTerminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

func ContentEvent(content string) Event {
	return Event{Kind: EventContent, Content: content}
}

func StepEvent(step ThinkingStep) Event {
	return Event{Kind: EventStep, Step: &step}
}

func SuggestionsEvent(suggestions []string) Event {
	return Event{Kind: EventSuggestions, Suggestions: suggestions}
}

func DoneEvent() Event {
	return Event{Kind: EventDone}
}

func ErrorEvent(msg string) Event {
	return Event{Kind: EventError, Error: msg}
}

// ErrCallbackClosed is returned by callbacks whose consumer has gone away.
var ErrCallbackClosed = errors.New("stream callback closed")

// StreamCallback receives pipeline events. A non-nil error tells streaming
// stages to stop forwarding.
type StreamCallback interface {
	Send(Event) error
}

// CallbackFunc adapts a function to StreamCallback.
type CallbackFunc func(Event) error

func (f CallbackFunc) Send(e Event) error { return f(e) }
