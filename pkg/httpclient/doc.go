// Package httpclient は外部APIへリクエストを転送するHTTPクライアントを提供する。
//
// 画像取得、リリースアセットのアップロード・削除など、ゲートウェイが
// ブラウザの代わりに行う外部呼び出しはすべてこのクライアントを経由する。
// 呼び出しごとのタイムアウトと、任意の送信レート制限（トークンバケット）を持つ。
package httpclient
