package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"eino_agent_router/pkg"
)

// MemoryStore is an in-memory CheckpointStore for development and tests
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*memoryThread
	ttl     time.Duration
	limit   int
	now     func() time.Time
}

type memoryThread struct {
	log     []pkg.Checkpoint
	lastSeq int64
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithMemoryTTL expires threads not written to within ttl
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(m *MemoryStore) { m.ttl = ttl }
}

// WithMemoryHistoryLimit retains only the newest limit checkpoints per thread
func WithMemoryHistoryLimit(limit int) MemoryOption {
	return func(m *MemoryStore) { m.limit = limit }
}

// NewMemoryStore creates a new in-memory checkpoint store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		threads: make(map[string]*memoryThread),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load returns the newest checkpoint of a thread
func (m *MemoryStore) Load(ctx context.Context, threadID string) (*pkg.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[threadID]
	if !ok || len(t.log) == 0 || m.expired(t) {
		return nil, ErrCheckpointNotFound
	}
	cp := copyCheckpoint(t.log[len(t.log)-1])
	return &cp, nil
}

// Save appends a checkpoint to the thread log
func (m *MemoryStore) Save(ctx context.Context, threadID string, state pkg.WorkflowState) (*pkg.Checkpoint, error) {
	if err := ValidateState(threadID, state); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[threadID]
	if !ok || m.expired(t) {
		t = &memoryThread{}
		m.threads[threadID] = t
	}
	t.lastSeq++

	cp := pkg.Checkpoint{
		ThreadID:  threadID,
		Sequence:  t.lastSeq,
		State:     *state.Clone(),
		CreatedAt: m.now().UTC(),
	}
	cp.State.ThreadID = threadID
	t.log = append(t.log, cp)
	if m.limit > 0 && len(t.log) > m.limit {
		t.log = append([]pkg.Checkpoint(nil), t.log[len(t.log)-m.limit:]...)
	}

	out := copyCheckpoint(cp)
	return &out, nil
}

// History returns up to limit newest checkpoints, oldest first
func (m *MemoryStore) History(ctx context.Context, threadID string, limit int) ([]pkg.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[threadID]
	if !ok || m.expired(t) {
		return nil, nil
	}
	entries := t.log
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]pkg.Checkpoint, 0, len(entries))
	for _, cp := range entries {
		out = append(out, copyCheckpoint(cp))
	}
	return out, nil
}

// Delete removes a thread
func (m *MemoryStore) Delete(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	return nil
}

// List returns the live thread IDs in lexical order
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.threads))
	for id, t := range m.threads {
		if len(t.log) > 0 && !m.expired(t) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) expired(t *memoryThread) bool {
	if m.ttl <= 0 || len(t.log) == 0 {
		return false
	}
	return m.now().Sub(t.log[len(t.log)-1].CreatedAt) > m.ttl
}

func copyCheckpoint(cp pkg.Checkpoint) pkg.Checkpoint {
	cp.State = *cp.State.Clone()
	return cp
}
