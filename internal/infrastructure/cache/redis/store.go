// Package redis shares fingerprint results between API and worker processes.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
)

const keyPrefix = "intake:fp:"

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

var _ ports.FingerprintStore = (*Store)(nil)

// Connect parses url, pings the server and returns a store. ttl <= 0 keeps
// entries until Redis evicts them.
func Connect(ctx context.Context, url string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(client, ttl), nil
}

func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) Get(ctx context.Context, key domain.FingerprintKey) (*domain.ExtractionResult, bool, error) {
	if !key.Subtype.Cacheable() {
		return nil, false, nil
	}
	raw, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrTemporary, "fingerprint get", err)
	}
	var result domain.ExtractionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		// A corrupt entry is a miss; the next Put overwrites it.
		return nil, false, nil
	}
	return &result, true, nil
}

func (s *Store) Put(ctx context.Context, key domain.FingerprintKey, result *domain.ExtractionResult) error {
	if result == nil || !key.Subtype.Cacheable() {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal fingerprint result: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(key), raw, s.ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrTemporary, "fingerprint put", err)
	}
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func redisKey(key domain.FingerprintKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	return keyPrefix + hex.EncodeToString(sum[:])
}
