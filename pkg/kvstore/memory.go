package kvstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセス内のマップに値を保持する Store 実装。
// 開発環境とテストで使用する。再起動で内容は失われる。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryOption は MemoryStore の設定を変更する。
type MemoryOption func(*MemoryStore)

// WithClock は有効期限の判定に使う時計を差し替える。
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore は空の MemoryStore を生成する。
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(ent.value))
	copy(out, ent.value)
	return out, nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.lookup(key)
	return ok, nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = s.newEntry(value, ttl)
	return nil
}

// PutIfAbsent implements Store.
func (s *MemoryStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.entries[key] = s.newEntry(value, ttl)
	return true, nil
}

// Len は有効期限内のエントリ数を返す。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, ent := range s.entries {
		if !ent.expired(now) {
			n++
		}
	}
	return n
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// lookup は呼び出し側がロックを保持している前提で動作する。
// 期限切れのエントリは見つけ次第削除する。
func (s *MemoryStore) lookup(key string) (memoryEntry, bool) {
	ent, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if ent.expired(s.now()) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return ent, true
}

func (s *MemoryStore) newEntry(value []byte, ttl time.Duration) memoryEntry {
	v := make([]byte, len(value))
	copy(v, value)
	ent := memoryEntry{value: v}
	if ttl > 0 {
		ent.expiresAt = s.now().Add(ttl)
	}
	return ent
}
