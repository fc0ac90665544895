// Package conversation is the public surface of the router: it turns user
// requests into graph invocations on a thread and serializes turns per thread.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eino_agent_router/internal/core"
	"eino_agent_router/pkg"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrEmptyMessage rejects requests without user text
var ErrEmptyMessage = errors.New("message cannot be empty")

// Request is one user turn
type Request struct {
	ThreadID string `json:"thread_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Message  string `json:"message"`
	// AgentType pins the specialist; an invalid value is re-detected
	AgentType string `json:"agent_type,omitempty"`
	// Attachment is the path of a recording for the meeting specialist
	Attachment string `json:"attachment,omitempty"`
}

// Result is the outcome of a committed turn
type Result struct {
	ThreadID     string `json:"thread_id"`
	Answer       string `json:"answer"`
	QuestionType string `json:"question_type,omitempty"`
	AgentType    string `json:"agent_type,omitempty"`
	ModelUsed    string `json:"model_used,omitempty"`
}

// Service runs turns of many threads against one compiled graph
type Service struct {
	engine  *core.Engine
	graph   *core.Graph
	locks   *threadLocks
	locker  Locker
	lockTTL time.Duration
	logger  zerolog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithLocker adds a cross-process lock held for the duration of every turn
func WithLocker(locker Locker, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = locker
		s.lockTTL = ttl
	}
}

// WithLogger sets the service logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a service running graph on engine
func NewService(engine *core.Engine, graph *core.Graph, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if graph == nil || !graph.Compiled() {
		return nil, fmt.Errorf("a compiled graph is required")
	}
	s := &Service{
		engine:  engine,
		graph:   graph,
		locks:   newThreadLocks(),
		lockTTL: 2 * time.Minute,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Invoke runs one turn and returns its committed result
func (s *Service) Invoke(ctx context.Context, req Request) (*Result, error) {
	threadID, input, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := s.engine.Invoke(ctx, s.graph, threadID, input)
	if err != nil {
		return nil, err
	}
	return &Result{
		ThreadID:     threadID,
		Answer:       state.Answer,
		QuestionType: state.QuestionType,
		AgentType:    state.AgentType,
		ModelUsed:    state.ModelUsed,
	}, nil
}

// Stream runs one turn and returns its events. The thread stays locked until
// the turn is committed, even when the consumer stops reading.
func (s *Service) Stream(ctx context.Context, req Request) (<-chan pkg.Event, error) {
	threadID, input, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, threadID)
	if err != nil {
		return nil, err
	}

	out := core.NewEmitter(ctx.Done())
	events := s.engine.Stream(context.WithoutCancel(ctx), s.graph, threadID, input)
	go func() {
		defer out.Close()
		defer unlock()
		for ev := range events {
			out.Emit(ev)
		}
	}()
	return out.Events(), nil
}

// Thread returns the latest committed state of a thread
func (s *Service) Thread(ctx context.Context, threadID string) (*pkg.WorkflowState, error) {
	cp, err := s.engine.Store().Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return &cp.State, nil
}

// History returns up to limit checkpoints of a thread, oldest first
func (s *Service) History(ctx context.Context, threadID string, limit int) ([]pkg.Checkpoint, error) {
	return s.engine.Store().History(ctx, threadID, limit)
}

// Threads lists the known thread IDs
func (s *Service) Threads(ctx context.Context) ([]string, error) {
	return s.engine.Store().List(ctx)
}

// Reset deletes every checkpoint of a thread
func (s *Service) Reset(ctx context.Context, threadID string) error {
	unlock, err := s.lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.engine.Store().Delete(ctx, threadID); err != nil {
		return err
	}
	s.logger.Info().Str("thread_id", threadID).Msg("Thread reset")
	return nil
}

func (s *Service) prepare(req Request) (string, pkg.Update, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return "", pkg.Update{}, ErrEmptyMessage
	}

	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = uuid.NewString()
	}

	return threadID, pkg.Update{
		Messages:   []pkg.Message{pkg.UserMessage(message)},
		UserID:     req.UserID,
		AgentType:  strings.ToLower(strings.TrimSpace(req.AgentType)),
		Attachment: req.Attachment,
	}, nil
}

// lock takes the in-process lock, then the distributed one when configured
func (s *Service) lock(ctx context.Context, threadID string) (func(), error) {
	release, err := s.locks.lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if s.locker == nil {
		return release, nil
	}

	unlock, err := s.locker.Lock(ctx, threadID, s.lockTTL)
	if err != nil {
		release()
		return nil, err
	}
	return func() {
		if err := unlock(context.Background()); err != nil {
			s.logger.Warn().Err(err).Str("thread_id", threadID).Msg("Failed to release thread lock")
		}
		release()
	}, nil
}
