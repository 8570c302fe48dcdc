package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/shortgate/pkg/metrics"
	"go.uber.org/zap"
)

// ErrMsgTooManyRequests はレート制限を超えたリクエストに返すメッセージ。
const ErrMsgTooManyRequests = "Too many requests. Please try again later."

// RateLimiter はクライアント識別子ごとにリクエストを許可するかを判定する。
type RateLimiter interface {
	Allow(ctx context.Context, clientID string) (bool, error)
}

// DecisionRecorder はレート制限の判定結果を記録する。
type DecisionRecorder interface {
	Record(route string, allowed bool)
}

// RateLimitConfig は RateLimit ミドルウェアの設定。
type RateLimitConfig struct {
	// Limiter は判定に使うレートリミッター。
	Limiter RateLimiter
	// KeyFunc はリクエストからクライアント識別子を取り出す。
	KeyFunc func(r *http.Request) string
	// RetryAfter は429応答のRetry-Afterヘッダーに設定する待機時間。
	RetryAfter time.Duration
	// Recorder は判定結果の記録先。nilの場合は記録しない。
	Recorder DecisionRecorder
	// Logger はリミッターのエラーを記録する。
	Logger *zap.Logger
}

// RateLimit はクライアントごとのリクエスト数を制限するGinミドルウェアを返す。
// 制限を超えたリクエストは429で拒否する。リミッターがエラーを返した場合は
// 警告を記録してリクエストを許可する。
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retryAfter := strconv.Itoa(int(math.Ceil(cfg.RetryAfter.Seconds())))

	return func(c *gin.Context) {
		clientID := cfg.KeyFunc(c.Request)
		route := routeLabel(c)

		allowed, err := cfg.Limiter.Allow(c.Request.Context(), clientID)
		if err != nil {
			logger.Warn("レート制限の判定に失敗したためリクエストを許可します",
				zap.String("route", route),
				zap.Error(err),
			)
			allowed = true
		}
		if cfg.Recorder != nil {
			cfg.Recorder.Record(route, allowed)
		}

		if !allowed {
			metrics.RateLimitRejectionsTotal.WithLabelValues(route).Inc()
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": ErrMsgTooManyRequests})
			return
		}
		c.Next()
	}
}
