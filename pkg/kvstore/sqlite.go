package kvstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/shortgate/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore はSQLiteの kv テーブルに値を保持する Store 実装。
// 有効期限は expires_at 列（UNIXミリ秒）で管理し、読み取り時に判定する。
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *zap.Logger
}

// SQLiteOption は SQLiteStore の設定を変更する。
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock は有効期限の判定に使う時計を差し替える。
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) { s.now = now }
}

// WithSQLiteLogger はマイグレーションとジャニターが使うロガーを設定する。
func WithSQLiteLogger(logger *zap.Logger) SQLiteOption {
	return func(s *SQLiteStore) { s.logger = logger }
}

// OpenSQLite はSQLiteデータベースを開き、マイグレーションを適用する。
// pathに ":memory:" を指定するとインメモリDBを使用する。
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// インメモリDBは接続ごとに別のDBになるため、接続を1本に固定する。
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := migration.Run(context.Background(), db, migrationsFS, "migrations", s.logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *SQLiteStore) expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixMilli()
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.nowMillis(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("値の取得に失敗: key=%s: %w", key, err)
	}
	return value, nil
}

// Exists implements Store.
func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM kv WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.nowMillis(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("存在確認に失敗: key=%s: %w", key, err)
	}
	return n > 0, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.expiresAt(ttl),
	)
	if err != nil {
		return fmt.Errorf("値の書き込みに失敗: key=%s: %w", key, err)
	}
	return nil
}

// PutIfAbsent implements Store.
// 期限切れの行を同一トランザクション内で削除してから挿入を試みる。
func (s *SQLiteStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ? AND expires_at != 0 AND expires_at <= ?`,
		key, s.nowMillis(),
	); err != nil {
		return false, fmt.Errorf("期限切れ行の削除に失敗: key=%s: %w", key, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?) ON CONFLICT(key) DO NOTHING`,
		key, value, s.expiresAt(ttl),
	)
	if err != nil {
		return false, fmt.Errorf("値の挿入に失敗: key=%s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("挿入件数の取得に失敗: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("コミットに失敗: %w", err)
	}
	return n == 1, nil
}

// PurgeExpired は期限切れの行を削除し、削除件数を返す。
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at != 0 AND expires_at <= ?`, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("期限切れ行の削除に失敗: %w", err)
	}
	return res.RowsAffected()
}

// StartJanitor は期限切れの行を定期的に削除するゴルーチンを起動する。
// ctxをキャンセルすると停止する。
func (s *SQLiteStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := s.PurgeExpired(ctx)
				if err != nil {
					s.logger.Warn("期限切れレコードの削除に失敗", zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Info("期限切れレコードを削除しました", zap.Int64("count", n))
				}
			}
		}
	}()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
