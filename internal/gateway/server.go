package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/shortgate/internal/origin"
	"github.com/nao1215/shortgate/internal/proxy"
	"github.com/nao1215/shortgate/internal/ratelimit"
	"github.com/nao1215/shortgate/internal/shortcode"
	"github.com/nao1215/shortgate/internal/templates"
	"github.com/nao1215/shortgate/pkg/httpclient"
	"github.com/nao1215/shortgate/pkg/kvstore"
	"github.com/nao1215/shortgate/pkg/metrics"
	"github.com/nao1215/shortgate/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// shutdownTimeout はシャットダウン時に処理中のリクエストを待つ最大時間。
const shutdownTimeout = 10 * time.Second

// Deps はサーバーが利用する外部リソース。
type Deps struct {
	// Store はテンプレートレコードの保存先。必須。
	Store kvstore.Store
	// Limiter はレートリミッター。nilの場合はプロセス内の固定ウィンドウを使う。
	Limiter ratelimit.Limiter
	// HTTPClient は上流APIへの転送に使うクライアント。nilの場合は設定から生成する。
	HTTPClient *httpclient.Client
	// Logger はロガー。nilの場合は出力しない。
	Logger *zap.Logger
}

// Server はゲートウェイの HTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバーの設定。
	cfg Config
	// guard はオリジンの許可リスト。
	guard *origin.Guard
	// templates はテンプレートレコードの作成と取得を行う。
	templates *templates.Service
	// forwarder は上流APIへの転送を行う。
	forwarder *proxy.Forwarder
	// store はテンプレートレコードの保存先。
	store kvstore.Store
	// client は上流APIへの転送に使うクライアント。
	client *httpclient.Client
	// limiter はレートリミッター。
	limiter ratelimit.Limiter
	// stats はレート制限の判定結果の集計。
	stats *ratelimit.Stats
	// logger はロガー。
	logger *zap.Logger
}

// NewServer は新しいゲートウェイサーバーを生成する。
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("ストアが指定されていません")
	}
	guard := origin.NewGuard(cfg.AllowedOrigins)
	if guard == nil {
		return nil, errors.New("オリジンの許可リストが空です")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = proxy.DefaultMaxUploadBytes
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.NewFixedWindow(cfg.RateLimit, cfg.RateWindow)
	}
	client := deps.HTTPClient
	if client == nil {
		client = httpclient.New(
			httpclient.WithTimeout(cfg.UpstreamTimeout),
			httpclient.WithRateLimit(cfg.UpstreamRPS, cfg.UpstreamBurst),
			httpclient.WithUserAgent(cfg.UpstreamUserAgent),
		)
	}

	allocator := shortcode.New(deps.Store, shortcode.WithCollisionHook(metrics.CodeCollisionsTotal.Inc))

	s := &Server{
		router: gin.New(),
		cfg:    cfg,
		guard:  guard,
		templates: templates.NewService(deps.Store, allocator,
			templates.WithStoreTimeout(cfg.StoreTimeout),
		),
		forwarder: proxy.NewForwarder(client, proxy.Config{
			UploadBaseURL:  cfg.UploadBaseURL,
			APIBaseURL:     cfg.APIBaseURL,
			AllowedRepos:   cfg.AllowedRepos,
			MaxUploadBytes: cfg.MaxUploadBytes,
		}, logger),
		store:   deps.Store,
		client:  client,
		limiter: limiter,
		stats:   ratelimit.NewStats(),
		logger:  logger,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はサーバーの http.Handler を返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了するとシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve はlnでリクエストを受け付け、ctxが終了するとシャットダウンする。
// シャットダウン時は処理中のリクエストの完了を最大 shutdownTimeout 待つ。
// リクエストのコンテキストはctxのキャンセルを引き継がない。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.client.Timeout() + 10*time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ゲートウェイを起動します", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("ゲートウェイを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.Use(
		middleware.RequestID(),
		middleware.Recovery(s.logger),
		middleware.AccessLog(s.logger),
		middleware.Metrics(),
		middleware.CORS(s.guard),
	)
	s.router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not Found")
	})

	requireOrigin := middleware.RequireOrigin(s.guard)
	rateLimit := middleware.RateLimit(middleware.RateLimitConfig{
		Limiter:    s.limiter,
		KeyFunc:    ratelimit.HeaderKeyFunc(s.cfg.RateKeyHeader),
		RetryAfter: s.cfg.RateWindow,
		Recorder:   s.stats,
		Logger:     s.logger,
	})

	api := s.router.Group("/api")
	{
		// テンプレート
		api.POST("/short-url", requireOrigin, rateLimit, s.handleCreateShortURL())
		api.GET("/template/", s.handleMissingCodeJSON())
		api.GET("/template/:code", s.handleGetTemplate())

		// 上流APIへの転送
		api.GET("/proxy", requireOrigin, s.handleImageProxy())
		api.POST("/upload-release", requireOrigin, rateLimit, s.handleUploadRelease())
		api.DELETE("/delete-asset", requireOrigin, rateLimit, s.handleDeleteAsset())
	}

	// 短縮URLのリダイレクト
	s.router.GET("/s/", func(c *gin.Context) {
		c.String(http.StatusBadRequest, msgMissingCode)
	})
	s.router.GET("/s/:code", s.handleRedirect())

	s.router.GET("/", s.handleIndex())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "shortgate"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 管理用（ADMIN_JWT_SECRET が設定されている場合のみ）
	if s.cfg.AdminJWTSecret != "" {
		admin := s.router.Group("/admin")
		admin.Use(middleware.JWTAuth(s.cfg.AdminJWTSecret))
		admin.GET("/stats", s.handleAdminStats())
	}
}
