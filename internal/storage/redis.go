package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eino_agent_router/pkg"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultCheckpointTTL is the default lifetime of an idle thread log
	DefaultCheckpointTTL = 24 * time.Hour

	defaultKeyPrefix = "checkpoint:"

	maxSaveAttempts = 10
)

// ErrSaveConflict is returned when concurrent saves on one thread keep
// invalidating the sequence watch
var ErrSaveConflict = errors.New("checkpoint save conflict")

// RedisStore keeps each thread log in a Redis list with a sequence counter
// and a sorted-set index of thread IDs.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	limit  int
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithRedisTTL sets the expiry refreshed on every save. Zero disables expiry.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *RedisStore) { r.ttl = ttl }
}

// WithRedisPrefix sets the key prefix
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisStore) { r.prefix = prefix }
}

// WithRedisHistoryLimit retains only the newest limit checkpoints per thread
func WithRedisHistoryLimit(limit int) RedisOption {
	return func(r *RedisStore) { r.limit = limit }
}

// NewRedisStore connects to redisURL and verifies the connection
func NewRedisStore(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(options)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, opts...), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, opts ...RedisOption) *RedisStore {
	r := &RedisStore{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    DefaultCheckpointTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Client exposes the underlying client so it can be shared with a Locker
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func (r *RedisStore) logKey(threadID string) string {
	return r.prefix + threadID + ":log"
}

func (r *RedisStore) seqKey(threadID string) string {
	return r.prefix + threadID + ":seq"
}

func (r *RedisStore) indexKey() string {
	return r.prefix + "threads"
}

// Load returns the newest checkpoint of a thread
func (r *RedisStore) Load(ctx context.Context, threadID string) (*pkg.Checkpoint, error) {
	data, err := r.client.LIndex(ctx, r.logKey(threadID), -1).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp pkg.Checkpoint
	if err := sonic.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Save appends a checkpoint. The sequence counter is watched, so allocating
// the sequence and the append, trim, expiry and index update commit together
// in one MULTI/EXEC; a concurrent save on the same thread retries.
func (r *RedisStore) Save(ctx context.Context, threadID string, state pkg.WorkflowState) (*pkg.Checkpoint, error) {
	if err := ValidateState(threadID, state); err != nil {
		return nil, err
	}

	var cp pkg.Checkpoint
	save := func(tx *redis.Tx) error {
		last, err := tx.Get(ctx, r.seqKey(threadID)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read checkpoint sequence: %w", err)
		}

		now := time.Now().UTC()
		cp = pkg.Checkpoint{
			ThreadID:  threadID,
			Sequence:  last + 1,
			State:     state,
			CreatedAt: now,
		}
		cp.State.ThreadID = threadID

		data, err := sonic.Marshal(cp)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.seqKey(threadID), cp.Sequence, r.ttl)
			pipe.RPush(ctx, r.logKey(threadID), data)
			if r.limit > 0 {
				pipe.LTrim(ctx, r.logKey(threadID), int64(-r.limit), -1)
			}
			if r.ttl > 0 {
				pipe.Expire(ctx, r.logKey(threadID), r.ttl)
			}
			pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(now.Unix()), Member: threadID})
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		err := r.client.Watch(ctx, save, r.seqKey(threadID))
		if err == nil {
			return &cp, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("failed to append checkpoint: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to append checkpoint: %w", ErrSaveConflict)
}

// History returns up to limit newest checkpoints, oldest first
func (r *RedisStore) History(ctx context.Context, threadID string, limit int) ([]pkg.Checkpoint, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	raw, err := r.client.LRange(ctx, r.logKey(threadID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint history: %w", err)
	}

	out := make([]pkg.Checkpoint, 0, len(raw))
	for _, item := range raw {
		var cp pkg.Checkpoint
		if err := sonic.UnmarshalString(item, &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, nil
}

// Delete removes the thread log, its counter and its index entry
func (r *RedisStore) Delete(ctx context.Context, threadID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.logKey(threadID), r.seqKey(threadID))
	pipe.ZRem(ctx, r.indexKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// List returns live thread IDs, oldest activity first. Entries whose log
// expired are pruned from the index.
func (r *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := r.client.Exists(ctx, r.logKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check thread existence: %w", err)
		}
		if n == 0 {
			r.client.ZRem(ctx, r.indexKey(), id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

// Ping tests the Redis connection
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
