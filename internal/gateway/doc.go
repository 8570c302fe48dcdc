// Package gateway はエッジゲートウェイのHTTPサーバーを提供する。
//
// テンプレートの短縮URL作成・取得・リダイレクトと、画像取得および
// リリースアセットのアップロード・削除の上流APIへの転送を担当する。
// 書き込みを伴うエンドポイントはオリジンの許可リストとレート制限で保護する。
package gateway
