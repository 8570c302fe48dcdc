package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/shortgate/pkg/metrics"
)

// ErrMsgOriginNotAllowed は許可されていないオリジンに返すメッセージ。
const ErrMsgOriginNotAllowed = "Forbidden: Origin not allowed"

// RequireOrigin は許可されていないオリジンからのリクエストを403で拒否するGinミドルウェアを返す。
// Originヘッダーが無いリクエストも拒否する。
func RequireOrigin(policy OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !policy.IsAllowed(c.GetHeader("Origin")) {
			metrics.OriginRejectionsTotal.WithLabelValues(routeLabel(c)).Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrMsgOriginNotAllowed})
			return
		}
		c.Next()
	}
}

// routeLabel はメトリクスや集計に使うルート名を返す。
// ルートに一致しなかったリクエストはパスごとに系列が増えないよう "unmatched" にまとめる。
func routeLabel(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = "unmatched"
	}
	return c.Request.Method + " " + path
}
