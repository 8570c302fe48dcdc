package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// corsAllowMethods はプリフライトで許可するメソッド。
	corsAllowMethods = "GET, POST, DELETE, OPTIONS"
	// corsAllowHeaders はプリフライトで許可するヘッダー。
	corsAllowHeaders = "Content-Type"
	// corsMaxAge はプリフライト結果のキャッシュ秒数。
	corsMaxAge = "86400"
)

// OriginPolicy はオリジンの許可判定とCORSヘッダーに設定するオリジンの決定を行う。
type OriginPolicy interface {
	// IsAllowed はオリジンが許可されているかを返す。
	IsAllowed(origin string) bool
	// Resolve はAccess-Control-Allow-Originに設定する値を返す。
	Resolve(origin string) string
}

// CORS はすべてのレスポンスにAccess-Control-Allow-Originを設定するGinミドルウェアを返す。
// 許可されたオリジンはそのまま返し、それ以外はpolicyの正規オリジンを返す。
// OPTIONSリクエストはルーティングに関係なく204で応答し、後続のハンドラーは実行しない。
func CORS(policy OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", policy.Resolve(c.GetHeader("Origin")))
		c.Header("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", corsAllowMethods)
			c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			c.Header("Access-Control-Max-Age", corsMaxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
