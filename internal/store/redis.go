package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tendant/ml-orchestrator/pkg/schema"
)

// RedisStore keeps each Job as a JSON string under "<prefix>:execution:<id>"
// with a TTL, and every id in the set "<prefix>:executions".
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// DialRedis parses a redis:// URL, connects and pings the server.
func DialRedis(ctx context.Context, url, prefix string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, prefix, ttl), nil
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "pipeline"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) jobKey(id string) string { return s.prefix + ":execution:" + id }

func (s *RedisStore) indexKey() string { return s.prefix + ":executions" }

func (s *RedisStore) Put(ctx context.Context, job *schema.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := s.client.Set(ctx, s.jobKey(job.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*schema.Job, error) {
	data, err := s.client.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var job schema.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *RedisStore) IndexAdd(ctx context.Context, id string) error {
	if err := s.client.SAdd(ctx, s.indexKey(), id).Err(); err != nil {
		return fmt.Errorf("index execution %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) IndexMembers(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return ids, nil
}
