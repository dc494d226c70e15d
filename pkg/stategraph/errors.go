package stategraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownNode is returned when an edge, entry or finish point names an unregistered node.
	ErrUnknownNode = errors.New("unknown node")
	// ErrNoEntryPoint is returned by Compile when SetEntryPoint was never called.
	ErrNoEntryPoint = errors.New("entry point not set")
	// ErrNoNodes is returned by Compile for an empty graph.
	ErrNoNodes = errors.New("graph has no nodes")
	// ErrCycle is returned by Compile when a cycle is reachable from the entry point.
	ErrCycle = errors.New("cycle reachable from entry point")
	// ErrMaxStepsExceeded stops an invocation that ran more nodes than allowed.
	ErrMaxStepsExceeded = errors.New("max steps exceeded")
)

// BuildError reports a programmer error while assembling a graph.
type BuildError struct {
	Op  string
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("stategraph %s: %v", e.Op, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// StageError reports that a node function failed (or panicked). No partial
// state accompanies it.
type StageError struct {
	NodeID string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("node %q failed: %v", e.NodeID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func unknownNode(op, id string) error {
	return &BuildError{Op: op, Err: fmt.Errorf("%w: %q", ErrUnknownNode, id)}
}

func cycleError(path []string) error {
	return fmt.Errorf("%w: %s", ErrCycle, strings.Join(path, " -> "))
}
