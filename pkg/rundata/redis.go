package rundata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultHistoryTTL bounds how long a finished execution stays reusable
const DefaultHistoryTTL = 24 * time.Hour

// RedisStore shares the last execution of a workflow between editor sessions.
// Records and pinned data are stored as JSON under per-workflow keys.
type RedisStore struct {
	client     redis.Cmdable
	workflowID string
	ttl        time.Duration
	logger     *zap.Logger
}

// NewRedisStore creates a store for one workflow on top of an existing client
func NewRedisStore(client redis.Cmdable, workflowID string, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if workflowID == "" {
		return nil, fmt.Errorf("workflow id cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &RedisStore{
		client:     client,
		workflowID: workflowID,
		ttl:        ttl,
		logger:     logger,
	}, nil
}

// NewRedisClient parses a redis:// URL and verifies the server answers
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL cannot be empty")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func historyKey(workflowID string) string {
	return fmt.Sprintf("daedalus:history:%s", workflowID)
}

func pinnedKey(workflowID string) string {
	return fmt.Sprintf("daedalus:pinned:%s", workflowID)
}

// RunData loads the stored history. A missing key means no history.
func (s *RedisStore) RunData(ctx context.Context) (RunHistory, error) {
	var history RunHistory
	found, err := s.load(ctx, historyKey(s.workflowID), &history)
	if err != nil || !found {
		return nil, err
	}
	return history, nil
}

// PinnedData loads the stored pinned data
func (s *RedisStore) PinnedData(ctx context.Context) (PinnedData, error) {
	var pinned PinnedData
	found, err := s.load(ctx, pinnedKey(s.workflowID), &pinned)
	if err != nil || !found {
		return nil, err
	}
	return pinned, nil
}

// SaveRunData stores the history of a finished execution
func (s *RedisStore) SaveRunData(ctx context.Context, history RunHistory) error {
	return s.save(ctx, historyKey(s.workflowID), history)
}

// SavePinnedData stores the pinned data
func (s *RedisStore) SavePinnedData(ctx context.Context, pinned PinnedData) error {
	return s.save(ctx, pinnedKey(s.workflowID), pinned)
}

func (s *RedisStore) load(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) save(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Error("Failed to store run data",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	s.logger.Debug("Stored run data",
		zap.String("key", key),
		zap.Int("size_bytes", len(data)))
	return nil
}
