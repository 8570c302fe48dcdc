// Package kvstore はTTL付きのキーバリューストアを提供する。
//
// テンプレートレコードの永続化先として使用する。インメモリ、Redis、SQLiteの
// 3つのバックエンドを持ち、いずれも同じ Store インターフェースを満たす。
// 有効期限切れのエントリはすべての操作から不可視となる。
package kvstore
