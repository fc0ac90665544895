package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"eino_agent_router/pkg"
)

// Reserved node IDs marking the entry and exit of a graph
const (
	START = "__start__"
	END   = "__end__"
)

var (
	// ErrInvalidGraph is wrapped by every graph construction error
	ErrInvalidGraph = errors.New("invalid graph")
	// ErrRecursionLimit aborts a walk that visits too many nodes
	ErrRecursionLimit = errors.New("recursion limit reached")
)

// NodeFunc runs a single-shot node and returns its partial state
type NodeFunc func(ctx context.Context, state *pkg.WorkflowState) (pkg.Update, error)

// StreamFunc runs a streaming generator node. emit publishes one text delta.
type StreamFunc func(ctx context.Context, state *pkg.WorkflowState, emit func(delta string)) (pkg.Update, error)

// NodeType defines the different kinds of nodes in a graph
type NodeType string

const (
	NodeTypeInvoke NodeType = "invoke"
	NodeTypeStream NodeType = "stream"
	NodeTypeGraph  NodeType = "graph"
)

// Node is one unit of work. Exactly one of Invoke, Stream or Graph is set.
type Node struct {
	ID string
	// Label is the public progress text shown to the user
	Label  string
	Invoke NodeFunc
	Stream StreamFunc
	Graph  *Graph
	// Fallback builds the partial state merged when the node fails
	Fallback func(state *pkg.WorkflowState) pkg.Update
}

// Type returns the node kind
func (n Node) Type() NodeType {
	switch {
	case n.Graph != nil:
		return NodeTypeGraph
	case n.Stream != nil:
		return NodeTypeStream
	default:
		return NodeTypeInvoke
	}
}

func (n Node) label() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Selector picks a route key from the current state
type Selector func(state *pkg.WorkflowState) string

// Branch is a conditional edge. The selector's key is looked up in Targets;
// an unknown key falls back to the Default key.
type Branch struct {
	Name     string
	Selector Selector
	Targets  map[string]string
	Default  string
}

// Graph is a set of nodes and routes. Build it with AddNode, AddEdge and
// AddBranch, then Compile it once; a compiled graph is immutable and safe to
// share across goroutines.
type Graph struct {
	name     string
	nodes    map[string]Node
	order    []string
	edges    map[string]string
	branches map[string]Branch
	compiled bool
}

// NewGraph creates an empty graph
func NewGraph(name string) *Graph {
	return &Graph{
		name:     name,
		nodes:    make(map[string]Node),
		edges:    make(map[string]string),
		branches: make(map[string]Branch),
	}
}

// Name returns the graph name
func (g *Graph) Name() string {
	if g == nil {
		return ""
	}
	return g.name
}

// Compiled reports whether Compile succeeded
func (g *Graph) Compiled() bool {
	return g.compiled
}

// Nodes returns the node IDs in insertion order
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// AddNode adds a node to the graph
func (g *Graph) AddNode(node Node) error {
	if g.compiled {
		return fmt.Errorf("%w: graph %s is already compiled", ErrInvalidGraph, g.name)
	}
	if node.ID == "" {
		return fmt.Errorf("%w: node ID cannot be empty", ErrInvalidGraph)
	}
	if node.ID == START || node.ID == END {
		return fmt.Errorf("%w: node ID %s is reserved", ErrInvalidGraph, node.ID)
	}
	if _, exists := g.nodes[node.ID]; exists {
		return fmt.Errorf("%w: duplicate node %s", ErrInvalidGraph, node.ID)
	}

	set := 0
	for _, ok := range []bool{node.Invoke != nil, node.Stream != nil, node.Graph != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: node %s must have exactly one of Invoke, Stream or Graph", ErrInvalidGraph, node.ID)
	}
	if node.Graph != nil && !node.Graph.compiled {
		return fmt.Errorf("%w: sub-graph %s of node %s is not compiled", ErrInvalidGraph, node.Graph.name, node.ID)
	}

	g.nodes[node.ID] = node
	g.order = append(g.order, node.ID)
	return nil
}

// AddEdge adds a fixed route. from may be START.
func (g *Graph) AddEdge(from, to string) error {
	if err := g.checkFrom(from); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("%w: edge from %s has no target", ErrInvalidGraph, from)
	}
	g.edges[from] = to
	return nil
}

// AddBranch adds a conditional route. from may be START.
func (g *Graph) AddBranch(from string, branch Branch) error {
	if err := g.checkFrom(from); err != nil {
		return err
	}
	if branch.Selector == nil {
		return fmt.Errorf("%w: branch from %s has no selector", ErrInvalidGraph, from)
	}
	if len(branch.Targets) == 0 {
		return fmt.Errorf("%w: branch from %s declares no targets", ErrInvalidGraph, from)
	}
	if _, ok := branch.Targets[branch.Default]; !ok {
		return fmt.Errorf("%w: branch from %s has default %q outside its targets", ErrInvalidGraph, from, branch.Default)
	}

	targets := make(map[string]string, len(branch.Targets))
	for k, v := range branch.Targets {
		targets[k] = v
	}
	branch.Targets = targets
	g.branches[from] = branch
	return nil
}

func (g *Graph) checkFrom(from string) error {
	if g.compiled {
		return fmt.Errorf("%w: graph %s is already compiled", ErrInvalidGraph, g.name)
	}
	if from == "" || from == END {
		return fmt.Errorf("%w: invalid route source %q", ErrInvalidGraph, from)
	}
	_, hasEdge := g.edges[from]
	_, hasBranch := g.branches[from]
	if hasEdge || hasBranch {
		return fmt.Errorf("%w: %s already has an outgoing route", ErrInvalidGraph, from)
	}
	return nil
}

// Compile validates the graph: every route source and target exists, every
// node has an outgoing route, and every node is reachable from START.
func (g *Graph) Compile() (*Graph, error) {
	if g.compiled {
		return g, nil
	}
	if len(g.nodes) == 0 {
		return nil, fmt.Errorf("%w: graph %s has no nodes", ErrInvalidGraph, g.name)
	}

	if _, ok := g.edges[START]; !ok {
		if _, ok := g.branches[START]; !ok {
			return nil, fmt.Errorf("%w: graph %s has no entry route", ErrInvalidGraph, g.name)
		}
	}

	for _, from := range g.routeSources() {
		if from != START {
			if _, ok := g.nodes[from]; !ok {
				return nil, fmt.Errorf("%w: route from unknown node %s", ErrInvalidGraph, from)
			}
		}
		for _, to := range g.targetsOf(from) {
			if to == END {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return nil, fmt.Errorf("%w: route from %s to unknown node %s", ErrInvalidGraph, from, to)
			}
		}
	}

	for _, id := range g.order {
		if len(g.targetsOf(id)) == 0 {
			return nil, fmt.Errorf("%w: node %s has no outgoing route", ErrInvalidGraph, id)
		}
	}

	reached := map[string]bool{}
	queue := []string{START}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, to := range g.targetsOf(cur) {
			if to != END && !reached[to] {
				reached[to] = true
				queue = append(queue, to)
			}
		}
	}
	for _, id := range g.order {
		if !reached[id] {
			return nil, fmt.Errorf("%w: node %s is unreachable", ErrInvalidGraph, id)
		}
	}

	g.compiled = true
	return g, nil
}

// MustCompile is Compile for statically built graphs
func (g *Graph) MustCompile() *Graph {
	compiled, err := g.Compile()
	if err != nil {
		panic(err)
	}
	return compiled
}

func (g *Graph) routeSources() []string {
	seen := map[string]bool{}
	var out []string
	for k := range g.edges {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for k := range g.branches {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (g *Graph) targetsOf(from string) []string {
	if to, ok := g.edges[from]; ok {
		return []string{to}
	}
	b, ok := g.branches[from]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(b.Targets))
	for _, to := range b.Targets {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}
