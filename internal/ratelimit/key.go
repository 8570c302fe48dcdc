package ratelimit

import (
	"net/http"
	"strings"
)

// DefaultKeyHeader はクライアント識別子を取得する既定のヘッダー。
// 前段のエッジネットワークが付与する接続元IPを信頼する。
const DefaultKeyHeader = "CF-Connecting-IP"

// KeyFunc はリクエストからクライアント識別子を取り出す。
type KeyFunc func(r *http.Request) string

// HeaderKeyFunc は指定ヘッダーの値をクライアント識別子とする KeyFunc を返す。
// ヘッダーが無い場合は UnknownClient を返すため、該当クライアントは
// すべて1つのバケットを共有する。
func HeaderKeyFunc(header string) KeyFunc {
	if header == "" {
		header = DefaultKeyHeader
	}
	return func(r *http.Request) string {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
		return UnknownClient
	}
}
