package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eino_agent_router/internal/metrics"
	"eino_agent_router/internal/storage"
	"eino_agent_router/pkg"

	"github.com/rs/zerolog"
)

// DefaultRecursionLimit bounds the number of node visits in one invocation
const DefaultRecursionLimit = 25

// Engine walks compiled graphs against checkpointed thread state
type Engine struct {
	store          storage.CheckpointStore
	logger         zerolog.Logger
	metrics        *metrics.Recorder
	recursionLimit int
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRecursionLimit overrides DefaultRecursionLimit
func WithRecursionLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.recursionLimit = limit
		}
	}
}

// NewEngine creates an engine persisting through store
func NewEngine(store storage.CheckpointStore, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		logger:         zerolog.Nop(),
		recursionLimit: DefaultRecursionLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the checkpoint store
func (e *Engine) Store() storage.CheckpointStore {
	return e.store
}

// Invoke runs one turn and returns the committed state. The walk is detached
// from ctx cancellation so a started turn always reaches its commit. The only
// errors are a *storage.StorageError, ErrRecursionLimit or an uncompiled graph.
func (e *Engine) Invoke(ctx context.Context, g *Graph, threadID string, input pkg.Update) (*pkg.WorkflowState, error) {
	started := time.Now()
	state, err := e.run(context.WithoutCancel(ctx), g, threadID, input, nil)
	e.metrics.ObserveInvocation("invoke", status(err), time.Since(started))
	return state, err
}

// Stream runs one turn and reports it as events: start, progress per node,
// chunks from streaming nodes, then exactly one complete or error event.
// Cancelling ctx only stops delivery; the turn still commits.
func (e *Engine) Stream(ctx context.Context, g *Graph, threadID string, input pkg.Update) <-chan pkg.Event {
	em := NewEmitter(ctx.Done())

	go func() {
		defer em.Close()
		started := time.Now()

		em.Emit(pkg.Event{Type: pkg.EventStart, ThreadID: threadID, Graph: g.Name()})

		state, err := e.run(context.WithoutCancel(ctx), g, threadID, input, em)
		e.metrics.ObserveInvocation("stream", status(err), time.Since(started))
		if err != nil {
			em.Emit(pkg.Event{
				Type:     pkg.EventError,
				ThreadID: threadID,
				Message:  pkg.ProcessingErrorMessage,
			})
			return
		}

		em.Emit(pkg.Event{
			Type:         pkg.EventComplete,
			ThreadID:     threadID,
			Answer:       state.Answer,
			QuestionType: state.QuestionType,
			AgentType:    state.AgentType,
			ModelUsed:    state.ModelUsed,
		})
	}()

	return em.Events()
}

func (e *Engine) run(ctx context.Context, g *Graph, threadID string, input pkg.Update, em *Emitter) (*pkg.WorkflowState, error) {
	if g == nil || !g.compiled {
		return nil, fmt.Errorf("%w: graph is not compiled", ErrInvalidGraph)
	}
	if threadID == "" {
		return nil, fmt.Errorf("thread ID cannot be empty")
	}

	startTime := time.Now()
	logger := e.logger.With().Str("thread_id", threadID).Str("graph", g.name).Logger()
	logger.Debug().Msg("Starting graph execution")

	state, err := e.load(ctx, threadID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load checkpoint")
		return nil, err
	}
	Merge(state, input)

	w := &walker{
		engine:   e,
		emitter:  em,
		threadID: threadID,
		logger:   logger,
	}
	if err := w.walk(ctx, g, state); err != nil {
		logger.Error().Err(err).Strs("execution_path", w.path).Msg("Graph execution aborted")
		return nil, err
	}

	// inputs consumed by this turn are not part of the committed state
	state.Attachment = ""
	state.RetrievalContext = ""

	cp, err := e.store.Save(ctx, threadID, *state)
	if err != nil {
		e.metrics.CheckpointWrite("error")
		logger.Error().Err(err).Msg("Failed to commit checkpoint")
		return nil, storage.NewStorageError("save", threadID, err)
	}
	e.metrics.CheckpointWrite("success")

	logger.Info().
		Int64("sequence", cp.Sequence).
		Int("messages", len(cp.State.Messages)).
		Strs("execution_path", w.path).
		Dur("duration", time.Since(startTime)).
		Msg("Graph execution completed")

	return &cp.State, nil
}

func (e *Engine) load(ctx context.Context, threadID string) (*pkg.WorkflowState, error) {
	cp, err := e.store.Load(ctx, threadID)
	if errors.Is(err, storage.ErrCheckpointNotFound) {
		return &pkg.WorkflowState{ThreadID: threadID}, nil
	}
	if err != nil {
		return nil, storage.NewStorageError("load", threadID, err)
	}
	state := cp.State.Clone()
	state.ThreadID = threadID
	// per-turn inputs and outputs never carry over
	state.Answer = ""
	state.QuestionType = ""
	state.ModelUsed = ""
	state.Attachment = ""
	state.RetrievalContext = ""
	return state, nil
}

// walker holds the per-invocation bookkeeping of a walk across nested graphs
type walker struct {
	engine   *Engine
	emitter  *Emitter
	threadID string
	logger   zerolog.Logger
	steps    int
	path     []string
}

func (w *walker) walk(ctx context.Context, g *Graph, state *pkg.WorkflowState) error {
	current := w.route(g, START, state)

	for current != END {
		w.steps++
		if w.steps > w.engine.recursionLimit {
			return fmt.Errorf("%w: %d steps in graph %s", ErrRecursionLimit, w.engine.recursionLimit, g.name)
		}

		node := g.nodes[current]
		w.path = append(w.path, g.name+"/"+node.ID)
		w.emitter.Emit(pkg.Event{
			Type:     pkg.EventProgress,
			ThreadID: w.threadID,
			Graph:    g.name,
			Node:     node.ID,
			Message:  node.label(),
		})

		if node.Graph != nil {
			child := state.Clone()
			if err := w.walk(ctx, node.Graph, child); err != nil {
				return err
			}
			*state = *child
		} else {
			Merge(state, w.execute(ctx, g, node, state))
		}

		current = w.route(g, current, state)
	}

	return nil
}

// execute runs a leaf node. Errors and panics are contained: the node's
// fallback partial state is returned instead.
func (w *walker) execute(ctx context.Context, g *Graph, node Node, state *pkg.WorkflowState) pkg.Update {
	started := time.Now()

	u, err := w.call(ctx, g, node, state.Clone())
	if err == nil {
		w.engine.metrics.ObserveNode(g.name, node.ID, "ok", time.Since(started))
		return u
	}

	w.engine.metrics.ObserveNode(g.name, node.ID, "fallback", time.Since(started))
	w.logger.Warn().Err(err).Str("node", node.ID).Msg("Node failed, using fallback state")
	if node.Fallback == nil {
		return pkg.Update{}
	}
	return node.Fallback(state)
}

func (w *walker) call(ctx context.Context, g *Graph, node Node, state *pkg.WorkflowState) (u pkg.Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node %s panicked: %v", node.ID, r)
		}
	}()

	if node.Stream != nil {
		emit := func(delta string) {
			if delta == "" {
				return
			}
			w.emitter.Emit(pkg.Event{
				Type:     pkg.EventChunk,
				ThreadID: w.threadID,
				Graph:    g.name,
				Node:     node.ID,
				Content:  delta,
			})
		}
		return node.Stream(ctx, state, emit)
	}
	return node.Invoke(ctx, state)
}

// route resolves the next node after from. Selector failures and undeclared
// keys resolve to the branch default.
func (w *walker) route(g *Graph, from string, state *pkg.WorkflowState) string {
	if to, ok := g.edges[from]; ok {
		return to
	}
	b, ok := g.branches[from]
	if !ok {
		return END
	}

	key := w.selectKey(b, state)
	to, ok := b.Targets[key]
	if !ok {
		w.logger.Warn().Str("branch", b.Name).Str("key", key).Str("default", b.Default).Msg("Selector returned undeclared key, using default")
		to = b.Targets[b.Default]
	}
	return to
}

func (w *walker) selectKey(b Branch, state *pkg.WorkflowState) (key string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn().Str("branch", b.Name).Interface("panic", r).Msg("Selector panicked, using default")
			key = b.Default
		}
	}()
	return b.Selector(state.Clone())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
