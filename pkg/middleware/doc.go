// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// CORSとプリフライト応答、オリジンの許可判定、レート制限、パニックリカバリ、
// リクエストIDの付与などを含む。
package middleware
