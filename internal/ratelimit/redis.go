package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFixedWindow はRedisのカウンタで状態を共有する固定ウィンドウ方式のレート制限。
// ウィンドウの期限はキーのTTLで管理するため、掃除は不要。
type RedisFixedWindow struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisFixedWindow は新しい RedisFixedWindow を生成する。
func NewRedisFixedWindow(rdb *redis.Client, limit int, window time.Duration, prefix string) *RedisFixedWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisFixedWindow{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

// Allow implements Limiter.
// 上限に達している場合はカウンタを増やさずに拒否する。
func (l *RedisFixedWindow) Allow(ctx context.Context, clientID string) (bool, error) {
	if clientID == "" {
		clientID = UnknownClient
	}
	key := l.prefix + ":" + clientID

	count, err := l.rdb.Get(ctx, key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("カウンタの取得に失敗: key=%s: %w", key, err)
	}
	if count >= l.limit {
		// TTLを持たないキーが残っていると拒否が永続するため、期限を付け直す
		if err := l.rdb.ExpireNX(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("期限の設定に失敗: key=%s: %w", key, err)
		}
		return false, nil
	}

	// 加算と期限の設定は同じMULTIで行う。NXのため既存のウィンドウの期限は延長しない
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("カウンタの加算に失敗: key=%s: %w", key, err)
	}

	// GETとINCRの間に他のインスタンスが加算した場合
	if incr.Val() > int64(l.limit) {
		return false, nil
	}
	return true, nil
}
