// Package redisstore keeps research checkpoints and results in Redis
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/research"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "research"

// Store implements research.Checkpointer, research.CheckpointLister and
// research.ResultStore. Checkpoints are JSON strings indexed by a sorted
// set scored by creation time.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	resultTTL time.Duration
}

var (
	_ research.Checkpointer     = (*Store)(nil)
	_ research.CheckpointLister = (*Store)(nil)
	_ research.ResultStore      = (*Store)(nil)
)

// Option configures a Store
type Option func(*Store)

// WithPrefix sets the key prefix
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithResultTTL expires results after ttl. Zero keeps them forever.
func WithResultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.resultTTL = ttl
	}
}

// New returns a store using the given client
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) checkpointKey(taskID string) string {
	return fmt.Sprintf("%s:checkpoint:%s", s.prefix, taskID)
}

func (s *Store) resultKey(taskID string) string {
	return fmt.Sprintf("%s:result:%s", s.prefix, taskID)
}

func (s *Store) indexKey() string {
	return s.prefix + ":checkpoints"
}

func (s *Store) SaveCheckpoint(ctx context.Context, checkpoint *research.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.checkpointKey(checkpoint.TaskID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(checkpoint.CreatedAt.UnixMilli()),
			Member: checkpoint.TaskID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, taskID string) (*research.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	var checkpoint research.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (s *Store) DeleteCheckpoint(ctx context.Context, taskID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.checkpointKey(taskID))
		pipe.ZRem(ctx, s.indexKey(), taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints returns every indexed task, newest first. Index entries
// whose checkpoint has disappeared are skipped.
func (s *Store) ListCheckpoints(ctx context.Context) ([]*research.CheckpointSummary, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	summaries := make([]*research.CheckpointSummary, 0, len(ids))
	if len(ids) == 0 {
		return summaries, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.checkpointKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading checkpoints: %w", err)
	}
	for _, value := range values {
		text, ok := value.(string)
		if !ok {
			continue
		}
		var checkpoint research.Checkpoint
		if err := json.Unmarshal([]byte(text), &checkpoint); err != nil {
			continue
		}
		summaries = append(summaries, checkpoint.Summary())
	}
	return summaries, nil
}

func (s *Store) PutResult(ctx context.Context, result *research.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	if err := s.client.Set(ctx, s.resultKey(result.TaskID), data, s.resultTTL).Err(); err != nil {
		return fmt.Errorf("saving result: %w", err)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, taskID string) (*research.Result, error) {
	data, err := s.client.Get(ctx, s.resultKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading result: %w", err)
	}
	var result research.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshaling result: %w", err)
	}
	return &result, nil
}

func (s *Store) DeleteResult(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, s.resultKey(taskID)).Err(); err != nil {
		return fmt.Errorf("deleting result: %w", err)
	}
	return nil
}
