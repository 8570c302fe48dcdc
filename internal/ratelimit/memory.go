package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// defaultSweepProbability は Allow 呼び出し時に期限切れレコードを掃除する確率。
const defaultSweepProbability = 0.01

// FixedWindow はプロセス内メモリで状態を保持する固定ウィンドウ方式のレート制限。
//
// 期限切れレコードの削除は専用のタイマーを持たず、Allow呼び出し時に
// 一定の確率で全件を走査して行う。メモリ使用量の上限は保証しない。
type FixedWindow struct {
	mu        sync.Mutex
	records   map[string]*Record
	limit     int
	window    time.Duration
	now       func() time.Time
	sweepProb float64
	randFloat func() float64
}

// Option は FixedWindow の設定を変更する。
type Option func(*FixedWindow)

// WithClock は時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(l *FixedWindow) { l.now = now }
}

// WithSweep は掃除の確率と乱数源を差し替える。
func WithSweep(probability float64, randFloat func() float64) Option {
	return func(l *FixedWindow) {
		l.sweepProb = probability
		if randFloat != nil {
			l.randFloat = randFloat
		}
	}
}

// NewFixedWindow は新しい FixedWindow を生成する。
// limitまたはwindowが0以下の場合は既定値を使う。
func NewFixedWindow(limit int, window time.Duration, opts ...Option) *FixedWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &FixedWindow{
		records:   make(map[string]*Record),
		limit:     limit,
		window:    window,
		now:       time.Now,
		sweepProb: defaultSweepProbability,
		randFloat: rand.Float64,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow implements Limiter. エラーは常にnil。
func (l *FixedWindow) Allow(_ context.Context, clientID string) (bool, error) {
	return l.allow(clientID), nil
}

func (l *FixedWindow) allow(clientID string) bool {
	if clientID == "" {
		clientID = UnknownClient
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.randFloat() < l.sweepProb {
		l.sweepLocked(now)
	}

	rec, ok := l.records[clientID]
	if !ok || rec.expired(now, l.window) {
		l.records[clientID] = &Record{WindowStart: now, Count: 1}
		return true
	}
	if rec.Count >= l.limit {
		return false
	}
	rec.Count++
	return true
}

// sweep は期限切れのレコードをすべて削除し、削除件数を返す。
func (l *FixedWindow) sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

func (l *FixedWindow) sweepLocked(now time.Time) int {
	n := 0
	for k, rec := range l.records {
		if rec.expired(now, l.window) {
			delete(l.records, k)
			n++
		}
	}
	return n
}

// Len は保持しているレコード数を返す。期限切れで未削除のものも含む。
// /admin/stats で追跡中のクライアント数として報告する。
func (l *FixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// snapshot はクライアントのレコードのコピーを返す。
func (l *FixedWindow) snapshot(clientID string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[clientID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
