package stategraph

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
)

// StepInfo describes one executed node. It is passed to the step observer.
type StepInfo struct {
	NodeID  string
	Step    int
	Elapsed time.Duration
	Err     error
}

// GraphInfo is a diagnostic summary of a compiled graph.
type GraphInfo struct {
	NodeCount  int    `json:"node_count"`
	EdgeCount  int    `json:"edge_count"`
	EntryID    string `json:"entry_id"`
	TerminalID string `json:"terminal_id"`
}

// Result is delivered by InvokeAsync.
type Result[S any] struct {
	State S
	Err   error
}

type compileOptions struct {
	poolSize    int
	maxSteps    int
	allowCycles bool
	observer    func(StepInfo)
}

// CompileOption configures Compile.
type CompileOption func(*compileOptions)

// WithPoolSize bounds the number of node bodies running concurrently across
// all invocations. n<=0 means ants' default capacity.
func WithPoolSize(n int) CompileOption {
	return func(o *compileOptions) { o.poolSize = n }
}

// WithMaxSteps bounds the number of nodes a single invocation may execute.
func WithMaxSteps(n int) CompileOption {
	return func(o *compileOptions) { o.maxSteps = n }
}

// AllowCycles skips the acyclicity check in Compile.
func AllowCycles() CompileOption {
	return func(o *compileOptions) { o.allowCycles = true }
}

// WithStepObserver registers fn to be called after every executed node, on the
// invoking goroutine, before the next edge is chosen.
func WithStepObserver(fn func(StepInfo)) CompileOption {
	return func(o *compileOptions) { o.observer = fn }
}

// CompiledGraph is an immutable, concurrency-safe execution handle.
type CompiledGraph[S any] struct {
	nodes    map[string]NodeFunc[S]
	edges    map[string][]Edge
	entry    string
	terminal string
	router   Router[S]
	maxSteps int
	observer func(StepInfo)
	pool     *ants.Pool
}

func newCompiled[S any](g *StateGraph[S], o compileOptions) (*CompiledGraph[S], error) {
	size := o.poolSize
	if size <= 0 {
		size = ants.DefaultAntsPoolSize
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create node worker pool: %w", err)
	}

	maxSteps := o.maxSteps
	if maxSteps <= 0 {
		// An acyclic walk visits each node at most once.
		maxSteps = len(g.nodes)
		if o.allowCycles {
			maxSteps = 100 * len(g.nodes)
		}
	}

	nodes := make(map[string]NodeFunc[S], len(g.nodes))
	for id, fn := range g.nodes {
		nodes[id] = fn
	}
	edges := make(map[string][]Edge, len(g.edges))
	for id, es := range g.edges {
		edges[id] = append([]Edge(nil), es...)
	}

	return &CompiledGraph[S]{
		nodes:    nodes,
		edges:    edges,
		entry:    g.entry,
		terminal: g.terminal,
		router:   g.router,
		maxSteps: maxSteps,
		observer: o.observer,
		pool:     pool,
	}, nil
}

// Invoke walks the graph from the entry point until no edge matches or the
// terminal node is selected. Exactly one node runs at a time; each node body
// runs on the pool. A failing node ends the walk with a *StageError.
// Cancellation of ctx is observed between nodes only.
func (g *CompiledGraph[S]) Invoke(ctx context.Context, state S) (S, error) {
	var zero S
	current := g.entry
	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if step >= g.maxSteps {
			return zero, fmt.Errorf("%w: %d (at node %q)", ErrMaxStepsExceeded, g.maxSteps, current)
		}

		start := time.Now()
		next, err := g.runNode(ctx, current, state)
		if g.observer != nil {
			g.observer(StepInfo{NodeID: current, Step: step, Elapsed: time.Since(start), Err: err})
		}
		if err != nil {
			return zero, &StageError{NodeID: current, Err: err}
		}
		state = next

		target, ok := g.next(current, state)
		if !ok || target == g.terminal {
			return state, nil
		}
		current = target
	}
}

// InvokeAsync runs Invoke on a new goroutine and delivers its result on the
// returned channel, which is closed afterwards.
func (g *CompiledGraph[S]) InvokeAsync(ctx context.Context, state S) <-chan Result[S] {
	ch := make(chan Result[S], 1)
	go func() {
		defer close(ch)
		out, err := g.Invoke(ctx, state)
		ch <- Result[S]{State: out, Err: err}
	}()
	return ch
}

// InvokeWithCallback runs Invoke asynchronously and calls done with its result.
func (g *CompiledGraph[S]) InvokeWithCallback(ctx context.Context, state S, done func(S, error)) {
	go func() {
		done(g.Invoke(ctx, state))
	}()
}

// Next returns the node that follows from for state, or false when the walk
// would end there (no matching edge). It is exposed for inspection and tests.
func (g *CompiledGraph[S]) Next(from string, state S) (string, bool) {
	return g.next(from, state)
}

// Edges returns a copy of the outgoing edges of id in evaluation order.
func (g *CompiledGraph[S]) Edges(id string) []Edge {
	return append([]Edge(nil), g.edges[id]...)
}

// Info returns node and edge counts plus the entry and terminal ids.
func (g *CompiledGraph[S]) Info() GraphInfo {
	edgeCount := 0
	for _, es := range g.edges {
		edgeCount += len(es)
	}
	return GraphInfo{
		NodeCount:  len(g.nodes),
		EdgeCount:  edgeCount,
		EntryID:    g.entry,
		TerminalID: g.terminal,
	}
}

// Close releases the worker pool. Invocations must not be started afterwards.
func (g *CompiledGraph[S]) Close() {
	g.pool.Release()
}

func (g *CompiledGraph[S]) next(from string, state S) (string, bool) {
	for _, e := range g.edges[from] {
		if e.When == Always || (g.router != nil && g.router(e.When, state)) {
			return e.To, true
		}
	}
	return "", false
}

type nodeResult[S any] struct {
	state S
	err   error
}

func (g *CompiledGraph[S]) runNode(ctx context.Context, id string, state S) (S, error) {
	var zero S
	fn, ok := g.nodes[id]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}

	done := make(chan nodeResult[S], 1)
	err := g.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- nodeResult[S]{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := fn(ctx, state)
		done <- nodeResult[S]{state: out, err: err}
	})
	if err != nil {
		return zero, fmt.Errorf("submit node: %w", err)
	}

	// Once started a node always runs to completion.
	r := <-done
	return r.state, r.err
}
