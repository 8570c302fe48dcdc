// Package shortcode は衝突を確認しながら短縮コードを割り当てる。
package shortcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nao1215/shortgate/pkg/kvstore"
)

const (
	// Alphabet はコードに使用する62文字。
	Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// Length はコードの長さ。
	Length = 6
	// MaxAttempts は衝突時に再試行する最大回数。
	MaxAttempts = 5
)

// ErrAllocationExhausted は MaxAttempts 回試行しても空きコードが見つからなかったことを表す。
var ErrAllocationExhausted = errors.New("shortcode: failed to generate unique code")

// Allocator はストアを参照して未使用の短縮コードを割り当てる。
type Allocator struct {
	// store はコードの存在確認と書き込みに使うストア。
	store kvstore.Store
	// random はコード生成に使う乱数源。
	random io.Reader
	// onCollision は衝突のたびに呼ばれる。メトリクス記録用。
	onCollision func()
}

// Option は Allocator の設定を変更する。
type Option func(*Allocator)

// WithRandom は乱数源を差し替える。テストで衝突を再現するために使う。
func WithRandom(r io.Reader) Option {
	return func(a *Allocator) { a.random = r }
}

// WithCollisionHook は衝突時に呼ばれる関数を設定する。
func WithCollisionHook(fn func()) Option {
	return func(a *Allocator) { a.onCollision = fn }
}

// New は新しい Allocator を生成する。
func New(store kvstore.Store, opts ...Option) *Allocator {
	a := &Allocator{
		store:       store,
		random:      rand.Reader,
		onCollision: func() {},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Generate はランダムなコードを1つ生成する。
// 各バイトを62で割った余りで文字を選ぶため、先頭の一部の文字がわずかに出やすい。
func (a *Allocator) Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := io.ReadFull(a.random, buf); err != nil {
		return "", fmt.Errorf("乱数の読み取りに失敗: %w", err)
	}
	for i, b := range buf {
		buf[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(buf), nil
}

// Allocate はストアに存在しないコードを返す。
// 確認と書き込みの間に他のリクエストが同じコードを書き込む可能性があるため、
// 書き込みまで行う場合は AllocateAndStore を使う。
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		code, err := a.Generate()
		if err != nil {
			return "", err
		}
		exists, err := a.store.Exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("コードの存在確認に失敗: %w", err)
		}
		if !exists {
			return code, nil
		}
		a.onCollision()
	}
	return "", ErrAllocationExhausted
}

// AllocateAndStore はコードを生成し、valueをストアに「存在しない場合のみ」書き込む。
// valueFnには確定したコードが渡され、その戻り値が保存される。
// 存在確認と書き込みが1操作で行われるため、並行実行でも同じコードが二重に割り当てられない。
func (a *Allocator) AllocateAndStore(ctx context.Context, ttl time.Duration, valueFn func(code string) ([]byte, error)) (string, error) {
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		code, err := a.Generate()
		if err != nil {
			return "", err
		}
		value, err := valueFn(code)
		if err != nil {
			return "", err
		}
		stored, err := a.store.PutIfAbsent(ctx, code, value, ttl)
		if err != nil {
			return "", fmt.Errorf("コードの書き込みに失敗: %w", err)
		}
		if stored {
			return code, nil
		}
		a.onCollision()
	}
	return "", ErrAllocationExhausted
}
