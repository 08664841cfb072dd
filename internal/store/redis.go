package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/panteleyshmelev/pii-anon-3/internal/mask"
)

const redisKeyPrefix = "mapping:"

// redisStore is a MappingStore backed by Redis, for deployments where several
// service instances must share mappings.
type redisStore struct {
	client *redis.Client
}

// NewRedis connects to Redis at the given URL (redis://host:port/db) and
// verifies the connection.
func NewRedis(redisURL string) (MappingStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &redisStore{client: client}, nil
}

func (s *redisStore) key(docID string) string {
	return redisKeyPrefix + docID
}

func (s *redisStore) Put(ctx context.Context, m *mask.Mapping) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	// SetNX gives the write-once guarantee atomically.
	ok, err := s.client.SetNX(ctx, s.key(m.DocID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("put %s: %w", m.DocID, err)
	}
	if !ok {
		return fmt.Errorf("put %s: %w", m.DocID, ErrAlreadyExists)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, docID string) (*mask.Mapping, error) {
	data, err := s.client.Get(ctx, s.key(docID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get %s: %w", docID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", docID, err)
	}
	return decode(data)
}

func (s *redisStore) Delete(ctx context.Context, docID string) error {
	if err := s.client.Del(ctx, s.key(docID)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", docID, err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
