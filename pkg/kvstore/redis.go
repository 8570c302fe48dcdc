package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore はRedisをバックエンドとする Store 実装。
// 有効期限はRedisのキーTTLに委ねる。
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// RedisOption は RedisStore の設定を変更する。
type RedisOption func(*RedisStore)

// WithKeyPrefix はすべてのキーに付与するプレフィックスを設定する。
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// NewRedisStore は既存のRedisクライアントを使って RedisStore を生成する。
// クライアントのクローズは Close が行う。
func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GETに失敗: key=%s: %w", key, err)
	}
	return v, nil
}

// Exists implements Store.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTSに失敗: key=%s: %w", key, err)
	}
	return n > 0, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SETに失敗: key=%s: %w", key, err)
	}
	return nil
}

// PutIfAbsent implements Store. SET NXで存在確認と書き込みを1操作で行う。
func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.rdb.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNXに失敗: key=%s: %w", key, err)
	}
	return ok, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
