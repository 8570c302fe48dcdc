// Package ratelimit はクライアント識別子ごとの固定ウィンドウ方式のレート制限を提供する。
//
// 既定の実装（FixedWindow）はプロセス内のマップで状態を保持し、
// 複数インスタンス構成では RedisFixedWindow で状態を共有する。
package ratelimit

import (
	"context"
	"time"
)

const (
	// DefaultLimit はウィンドウ内で許可する最大リクエスト数の既定値。
	DefaultLimit = 10
	// DefaultWindow はウィンドウ長の既定値。
	DefaultWindow = 60 * time.Second
	// UnknownClient は識別子を取得できなかったクライアントが共有するバケット名。
	UnknownClient = "unknown"
)

// Limiter はクライアント識別子ごとにリクエストを許可するかを判定する。
type Limiter interface {
	// Allow はリクエストを許可する場合にtrueを返す。
	// 許可した場合、そのリクエストはウィンドウ内のカウントに加算される。
	Allow(ctx context.Context, clientID string) (bool, error)
}

// Record はクライアントごとのカウンタ。
type Record struct {
	// WindowStart は現在のウィンドウの開始時刻。
	WindowStart time.Time
	// Count はウィンドウ開始以降に許可したリクエスト数。
	Count int
}

// expired はウィンドウ長を超えて経過したかを返す。
// 経過時間がちょうどウィンドウ長の場合はまだ有効とみなす。
func (r Record) expired(now time.Time, window time.Duration) bool {
	return now.Sub(r.WindowStart) > window
}
