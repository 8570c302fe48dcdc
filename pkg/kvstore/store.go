package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound はキーが存在しない、または有効期限切れであることを表す。
var ErrNotFound = errors.New("kvstore: key not found")

// Store はTTL付きキーバリューストアのインターフェース。
// 実装は並行利用に対して安全でなければならない。
type Store interface {
	// Get はキーに対応する値を返す。存在しない場合は ErrNotFound を返す。
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists はキーが存在するかを返す。
	Exists(ctx context.Context, key string) (bool, error)
	// Put は値を書き込む。既存の値は上書きされる。ttlが0以下の場合は期限なし。
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// PutIfAbsent はキーが存在しない場合のみ値を書き込む。
	// 書き込んだ場合はtrue、既に存在した場合はfalseを返す。
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Close は保持しているリソースを解放する。
	Close() error
}
