package migration

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	_ "modernc.org/sqlite"
)

// openDB はテスト用のインメモリSQLiteを開く。
func openDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("データベース接続に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, query string) int {
	t.Helper()

	var n int
	if err := db.QueryRow(query).Scan(&n); err != nil {
		t.Fatalf("クエリに失敗: %s: %v", query, err)
	}
	return n
}

// TestRun はマイグレーションの適用を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/000002_add_index.up.sql":   {Data: []byte(`CREATE INDEX idx_kv_value ON kv (value);`)},
		"migrations/000001_create_kv.up.sql":   {Data: []byte(`CREATE TABLE kv (key TEXT PRIMARY KEY, value TEXT);`)},
		"migrations/000001_create_kv.down.sql": {Data: []byte(`DROP TABLE kv;`)},
		"migrations/README.md":                 {Data: []byte("ignored")},
		"migrations/notversioned_x.up.sql":     {Data: []byte(`THIS IS NOT SQL;`)},
	}

	t.Run("バージョン順に適用され、再実行ではスキップされること", func(t *testing.T) {
		t.Parallel()

		db := openDB(t)
		core, logs := observer.New(zapcore.InfoLevel)

		n, err := Run(context.Background(), db, fsys, "migrations", zap.New(core))
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if n != 2 {
			t.Errorf("適用件数 = %d, want 2", n)
		}
		if got := countRows(t, db, `SELECT COUNT(*) FROM schema_migrations`); got != 2 {
			t.Errorf("適用済みバージョン数 = %d, want 2", got)
		}
		if got := countRows(t, db, `SELECT COUNT(*) FROM sqlite_master WHERE name = 'idx_kv_value'`); got != 1 {
			t.Errorf("インデックスが作成されていない")
		}

		entries := logs.All()
		if len(entries) != 2 {
			t.Fatalf("ログ件数 = %d, want 2", len(entries))
		}
		if v := entries[0].ContextMap()["version"]; v != int64(1) {
			t.Errorf("最初に適用されたversion = %v, want 1", v)
		}

		n, err = Run(context.Background(), db, fsys, "migrations", zap.New(core))
		if err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}
		if n != 0 {
			t.Errorf("2回目の適用件数 = %d, want 0", n)
		}
		if logs.Len() != 2 {
			t.Errorf("再実行でマイグレーションが適用された: ログ件数 = %d", logs.Len())
		}
	})

	t.Run("SQLが不正な場合はロールバックされること", func(t *testing.T) {
		t.Parallel()

		db := openDB(t)
		broken := fstest.MapFS{
			"migrations/000001_broken.up.sql": {Data: []byte(`CREATE TABLE ok (id INTEGER); CREATE TABL oops;`)},
		}

		if _, err := Run(context.Background(), db, broken, "migrations", nil); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}
		if got := countRows(t, db, `SELECT COUNT(*) FROM schema_migrations`); got != 0 {
			t.Errorf("適用済みバージョン数 = %d, want 0", got)
		}
	})

	t.Run("ディレクトリが存在しない場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := Run(context.Background(), openDB(t), fstest.MapFS{}, "migrations", nil); err == nil {
			t.Error("Run()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("同じバージョンのファイルが複数ある場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		dup := fstest.MapFS{
			"migrations/000001_a.up.sql": {Data: []byte(`CREATE TABLE a (id INTEGER);`)},
			"migrations/000001_b.up.sql": {Data: []byte(`CREATE TABLE b (id INTEGER);`)},
		}
		db := openDB(t)
		if _, err := Run(context.Background(), db, dup, "migrations", nil); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}
		if got := countRows(t, db, `SELECT COUNT(*) FROM sqlite_master WHERE name IN ('a', 'b')`); got != 0 {
			t.Errorf("テーブルが作成された: %d", got)
		}
	})
}
