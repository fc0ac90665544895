package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eino_agent_router/pkg"
)

// ErrCheckpointNotFound is returned by Load when a thread has no checkpoint yet
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointStore persists the append-only checkpoint log of every thread.
// Implementations must be safe for concurrent use and append atomically per thread.
type CheckpointStore interface {
	// Load returns the newest checkpoint of the thread or ErrCheckpointNotFound
	Load(ctx context.Context, threadID string) (*pkg.Checkpoint, error)
	// Save appends a new checkpoint holding state and returns it with its sequence assigned
	Save(ctx context.Context, threadID string, state pkg.WorkflowState) (*pkg.Checkpoint, error)
	// History returns up to limit newest checkpoints, oldest first. limit <= 0 means all retained.
	History(ctx context.Context, threadID string, limit int) ([]pkg.Checkpoint, error)
	// Delete drops the whole log of a thread
	Delete(ctx context.Context, threadID string) error
	// List returns the IDs of threads with at least one checkpoint
	List(ctx context.Context) ([]string, error)
	Close() error
}

// StorageError reports a checkpoint store failure. It is the only error kind
// an invocation surfaces to its caller.
type StorageError struct {
	Op       string
	ThreadID string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("checkpoint %s failed for thread %s: %v", e.Op, e.ThreadID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err unless it already is a StorageError
func NewStorageError(op, threadID string, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, ThreadID: threadID, Err: err}
}

// IsStorageError reports whether err wraps a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ThreadStats provides statistics about a thread's current checkpoint
type ThreadStats struct {
	ThreadID     string    `json:"thread_id"`
	Sequence     int64     `json:"sequence"`
	MessageCount int       `json:"message_count"`
	HasDigest    bool      `json:"has_digest"`
	AgentType    string    `json:"agent_type,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GetThreadStats returns statistics for a checkpoint
func GetThreadStats(cp *pkg.Checkpoint) ThreadStats {
	return ThreadStats{
		ThreadID:     cp.ThreadID,
		Sequence:     cp.Sequence,
		MessageCount: len(cp.State.Messages),
		HasDigest:    cp.State.Digest != "",
		AgentType:    cp.State.AgentType,
		UpdatedAt:    cp.CreatedAt,
	}
}

// ValidateState checks that a state can be persisted
func ValidateState(threadID string, state pkg.WorkflowState) error {
	if threadID == "" {
		return fmt.Errorf("thread ID cannot be empty")
	}
	if state.ThreadID != "" && state.ThreadID != threadID {
		return fmt.Errorf("state belongs to thread %s, not %s", state.ThreadID, threadID)
	}

	for i, msg := range state.Messages {
		if msg.ID == "" {
			return fmt.Errorf("message %d has no ID", i)
		}
		if msg.Remove {
			return fmt.Errorf("message %d is an unapplied tombstone", i)
		}
		switch msg.Role {
		case pkg.RoleUser, pkg.RoleAssistant, pkg.RoleSystem:
		default:
			return fmt.Errorf("message %d has invalid role: %s", i, msg.Role)
		}
	}

	return nil
}
