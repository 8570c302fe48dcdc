// エッジゲートウェイのエントリポイント。
// テンプレートの短縮URL、画像プロキシ、リリースアセットの転送を1つのHTTPサーバーで提供する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nao1215/shortgate/internal/gateway"
	"github.com/nao1215/shortgate/internal/ratelimit"
	"github.com/nao1215/shortgate/pkg/kvstore"
	"github.com/nao1215/shortgate/pkg/logger"
	"github.com/nao1215/shortgate/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// janitorInterval はSQLiteの期限切れ行を削除する間隔。
const janitorInterval = time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "shortgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env は任意。存在しない場合は環境変数のみを使う。
	_ = godotenv.Load()

	cfg, err := gateway.LoadConfig()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.StoreBackend == gateway.BackendRedis || cfg.RateLimitBackend == gateway.BackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("Redisへの接続に失敗: addr=%s: %w", cfg.RedisAddr, err)
		}
	}

	store, err := openStore(ctx, cfg, rdb, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("ストアのクローズに失敗", zap.Error(err))
		}
	}()

	var limiter ratelimit.Limiter
	if cfg.RateLimitBackend == gateway.BackendRedis {
		limiter = ratelimit.NewRedisFixedWindow(rdb, cfg.RateLimit, cfg.RateWindow, "shortgate:ratelimit")
		// ストアがRedisの場合はstore.Closeでクライアントも閉じられる。
		if cfg.StoreBackend != gateway.BackendRedis {
			defer func() { _ = rdb.Close() }()
		}
	}

	server, err := gateway.NewServer(cfg, gateway.Deps{
		Store:   store,
		Limiter: limiter,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("ゲートウェイの初期化に失敗: %w", err)
	}

	log.Info("設定を読み込みました",
		zap.String("port", cfg.Port),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("rate_limit_backend", cfg.RateLimitBackend),
		zap.Int("rate_limit", cfg.RateLimit),
		zap.Duration("rate_window", cfg.RateWindow),
		zap.Bool("admin_enabled", cfg.AdminJWTSecret != ""),
	)
	return server.Run(ctx)
}

// openStore は設定に応じたテンプレートの保存先を開く。
func openStore(ctx context.Context, cfg gateway.Config, rdb *redis.Client, log *zap.Logger) (kvstore.Store, error) {
	switch cfg.StoreBackend {
	case gateway.BackendRedis:
		return kvstore.NewRedisStore(rdb, kvstore.WithKeyPrefix("shortgate:tpl")), nil
	case gateway.BackendSQLite:
		s, err := kvstore.OpenSQLite(cfg.SQLitePath, kvstore.WithSQLiteLogger(log))
		if err != nil {
			return nil, fmt.Errorf("SQLiteストアのオープンに失敗: path=%s: %w", cfg.SQLitePath, err)
		}
		s.StartJanitor(ctx, janitorInterval)
		return s, nil
	default:
		log.Warn("インメモリストアを使用します。再起動でテンプレートは失われます")
		return kvstore.NewMemoryStore(), nil
	}
}
