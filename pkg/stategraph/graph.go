// Package stategraph is a small conditional task-graph engine. Nodes transform a
// typed state; edges are guarded by named conditions evaluated through a single
// Router, in insertion order, first match wins.
package stategraph

import (
	"context"
	"errors"
)

// NodeFunc transforms the state. It may have side effects.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// Condition names a routing decision. Conditions other than Always are
// resolved by the graph's Router.
type Condition string

// Always is the condition of unconditional edges.
const Always Condition = "always"

// Router decides whether cond holds for state. It should be a pure function.
type Router[S any] func(cond Condition, state S) bool

// Edge is one outgoing transition of a node.
type Edge struct {
	To   string
	When Condition
}

// StateGraph collects nodes and edges before compilation. It is not safe for
// concurrent use.
type StateGraph[S any] struct {
	nodes    map[string]NodeFunc[S]
	order    []string
	edges    map[string][]Edge
	entry    string
	terminal string
	router   Router[S]
	err      error
}

// New creates an empty graph. router may be nil when only Always edges are used.
func New[S any](router Router[S]) *StateGraph[S] {
	return &StateGraph[S]{
		nodes:  make(map[string]NodeFunc[S]),
		edges:  make(map[string][]Edge),
		router: router,
	}
}

// AddNode registers fn under id. Re-registering an id replaces the function.
func (g *StateGraph[S]) AddNode(id string, fn NodeFunc[S]) error {
	if id == "" {
		return g.fail(&BuildError{Op: "add_node", Err: errors.New("node id is empty")})
	}
	if fn == nil {
		return g.fail(&BuildError{Op: "add_node", Err: errors.New("node function is nil for " + id)})
	}
	if _, exists := g.nodes[id]; !exists {
		g.order = append(g.order, id)
	}
	g.nodes[id] = fn
	return nil
}

// AddEdge adds an unconditional edge.
func (g *StateGraph[S]) AddEdge(from, to string) error {
	return g.AddConditionalEdge(from, to, Always)
}

// AddConditionalEdge adds an edge taken when cond holds. Edges of a node are
// evaluated in the order they were added.
func (g *StateGraph[S]) AddConditionalEdge(from, to string, cond Condition) error {
	if _, ok := g.nodes[from]; !ok {
		return g.fail(unknownNode("add_edge", from))
	}
	if _, ok := g.nodes[to]; !ok {
		return g.fail(unknownNode("add_edge", to))
	}
	if cond == "" {
		cond = Always
	}
	g.edges[from] = append(g.edges[from], Edge{To: to, When: cond})
	return nil
}

// SetEntryPoint sets the first node to run.
func (g *StateGraph[S]) SetEntryPoint(id string) error {
	if _, ok := g.nodes[id]; !ok {
		return g.fail(unknownNode("set_entry", id))
	}
	g.entry = id
	return nil
}

// SetFinishPoint designates the terminal node. Reaching it ends the walk; its
// function is never executed.
func (g *StateGraph[S]) SetFinishPoint(id string) error {
	if _, ok := g.nodes[id]; !ok {
		return g.fail(unknownNode("set_finish", id))
	}
	g.terminal = id
	return nil
}

// Compile validates the graph and returns an executable handle. The first
// error recorded by a builder method is returned here as well, so callers may
// ignore individual builder errors and check once.
func (g *StateGraph[S]) Compile(opts ...CompileOption) (*CompiledGraph[S], error) {
	if g.err != nil {
		return nil, g.err
	}
	if len(g.nodes) == 0 {
		return nil, &BuildError{Op: "compile", Err: ErrNoNodes}
	}
	if g.entry == "" {
		return nil, &BuildError{Op: "compile", Err: ErrNoEntryPoint}
	}

	o := compileOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if !o.allowCycles {
		if path := g.findCycle(); path != nil {
			return nil, &BuildError{Op: "compile", Err: cycleError(path)}
		}
	}

	return newCompiled(g, o)
}

func (g *StateGraph[S]) fail(err error) error {
	if g.err == nil {
		g.err = err
	}
	return err
}

// findCycle runs a DFS from the entry point, ignoring edges into the terminal
// node, and returns the node path of the first cycle found.
func (g *StateGraph[S]) findCycle() []string {
	const (
		unvisited = iota
		onStack
		done
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = onStack
		stack = append(stack, id)
		for _, e := range g.edges[id] {
			if e.To == g.terminal {
				continue
			}
			switch color[e.To] {
			case onStack:
				for i, n := range stack {
					if n == e.To {
						return append(append([]string(nil), stack[i:]...), e.To)
					}
				}
			case unvisited:
				if p := visit(e.To); p != nil {
					return p
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = done
		return nil
	}
	return visit(g.entry)
}
