package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

// MemoryCheckpointStore keeps checkpoints in process.
type MemoryCheckpointStore struct {
	mu sync.Mutex
	m  map[string]*schemas.Checkpoint
}

var _ schemas.CheckpointStore = (*MemoryCheckpointStore)(nil)

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{m: make(map[string]*schemas.Checkpoint)}
}

func (s *MemoryCheckpointStore) Put(_ context.Context, cp *schemas.Checkpoint) error {
	c := *cp
	c.CurrentPlan = cp.CurrentPlan.Clone()
	c.History = append([]schemas.ActionHistoryEntry(nil), cp.History...)

	s.mu.Lock()
	s.m[cp.TaskID] = &c
	s.mu.Unlock()
	return nil
}

// Take returns and forgets the checkpoint for taskID.
func (s *MemoryCheckpointStore) Take(_ context.Context, taskID string) (*schemas.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.m[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", schemas.ErrCheckpointNotFound, taskID)
	}
	delete(s.m, taskID)
	return cp, nil
}

const checkpointKeyPrefix = "browseruse:checkpoint:"

// RedisCheckpointStore keeps checkpoints in Redis so a paused task can be
// resumed by another process. Take uses GETDEL, so a checkpoint is consumed
// at most once even with concurrent resumers.
type RedisCheckpointStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ schemas.CheckpointStore = (*RedisCheckpointStore)(nil)

// NewRedisCheckpointStore connects to addr and verifies the connection.
func NewRedisCheckpointStore(ctx context.Context, addr, password string, db int, ttl time.Duration, logger *zap.Logger) (*RedisCheckpointStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCheckpointStore{
		client: client,
		ttl:    ttl,
		logger: logger.Named("store.checkpoint").With(zap.String("store", "redis")),
	}, nil
}

func (s *RedisCheckpointStore) Put(ctx context.Context, cp *schemas.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.key(cp.TaskID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	s.logger.Debug("Checkpoint saved.", zap.String("task_id", cp.TaskID), zap.Int("history", len(cp.History)))
	return nil
}

func (s *RedisCheckpointStore) Take(ctx context.Context, taskID string) (*schemas.Checkpoint, error) {
	data, err := s.client.GetDel(ctx, s.key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", schemas.ErrCheckpointNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take checkpoint: %w", err)
	}
	var cp schemas.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *RedisCheckpointStore) Close() error { return s.client.Close() }

func (s *RedisCheckpointStore) key(taskID string) string { return checkpointKeyPrefix + taskID }
