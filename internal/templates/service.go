// Package templates はテンプレートレコードの作成と取得を提供する。
//
// レコードは短縮コードをキーとしてキーバリューストアに保存され、
// 1年後にストアのTTLで自動的に失効する。更新・削除の操作は持たない。
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/shortgate/internal/shortcode"
	"github.com/nao1215/shortgate/pkg/kvstore"
)

var (
	// ErrValidation は必須フィールド（template.name / template.content）が無いことを表す。
	ErrValidation = errors.New("templates: missing required fields: template.name, template.content")
	// ErrNotFound はコードに対応するレコードが無い、または失効していることを表す。
	ErrNotFound = errors.New("templates: template not found or expired")
	// ErrCorruptData は保存されている値をレコードとして解釈できないことを表す。
	ErrCorruptData = errors.New("templates: invalid stored data")
)

// defaultStoreTimeout はストア呼び出し1回あたりのタイムアウトの既定値。
const defaultStoreTimeout = 5 * time.Second

// Service はテンプレートレコードの作成と取得を行う。
type Service struct {
	// store はレコードの保存先。
	store kvstore.Store
	// allocator は短縮コードの割り当てを行う。
	allocator *shortcode.Allocator
	// ttl はレコードの保存期間。
	ttl time.Duration
	// storeTimeout はストア呼び出し1回あたりのタイムアウト。
	storeTimeout time.Duration
	// now は作成日時の取得に使う時計。
	now func() time.Time
}

// Option は Service の設定を変更する。
type Option func(*Service)

// WithStoreTimeout はストア呼び出しのタイムアウトを設定する。
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithClock は時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService は新しい Service を生成する。
func NewService(store kvstore.Store, allocator *shortcode.Allocator, opts ...Option) *Service {
	s := &Service{
		store:        store,
		allocator:    allocator,
		ttl:          RetentionTTL,
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate は作成リクエストの必須フィールドを検証する。
func Validate(req CreateRequest) error {
	if !truthy(req.Template) {
		return ErrValidation
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(req.Template, &fields); err != nil {
		return ErrValidation
	}
	if !truthy(fields["name"]) || !truthy(fields["content"]) {
		return ErrValidation
	}
	return nil
}

// Create はリクエストを検証し、新しいコードでレコードを保存する。
// 検証に失敗した場合はストアへの書き込みを行わない。
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Record, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	rec := &Record{
		Template:  req.Template,
		Banks:     orEmptyObject(req.Banks),
		Defaults:  orEmptyObject(req.Defaults),
		CreatedAt: s.now().UTC().Format(CreatedAtLayout),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("レコードのシリアライズに失敗: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	code, err := s.allocator.AllocateAndStore(ctx, s.ttl, func(string) ([]byte, error) {
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	rec.Code = code
	return rec, nil
}

// Fetch はコードに対応する保存値をそのまま返す。
// 値がJSONオブジェクトでない場合は ErrCorruptData を返す。中身の各フィールドは解釈しない。
func (s *Service) Fetch(ctx context.Context, code string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	data, err := s.store.Get(ctx, code)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("レコードの取得に失敗: code=%s: %w", code, err)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: code=%s", ErrCorruptData, code)
	}
	return json.RawMessage(data), nil
}

// Exists はコードに対応するレコードが存在するかを返す。値の解釈は行わない。
func (s *Service) Exists(ctx context.Context, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	ok, err := s.store.Exists(ctx, code)
	if err != nil {
		return false, fmt.Errorf("レコードの存在確認に失敗: code=%s: %w", code, err)
	}
	return ok, nil
}
