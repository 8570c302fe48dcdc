package templates

import (
	"bytes"
	"encoding/json"
	"time"
)

const (
	// RetentionTTL はテンプレートレコードの保存期間（1年）。
	RetentionTTL = 365 * 24 * time.Hour
	// CreatedAtLayout は createdAt の書式。UTC、ミリ秒は常に3桁。
	CreatedAtLayout = "2006-01-02T15:04:05.000Z"
)

// emptyObject は banks / defaults が省略された場合の既定値。
var emptyObject = json.RawMessage(`{}`)

// CreateRequest はテンプレート作成リクエストのボディ。
// 各フィールドは中身を解釈せずにそのまま保存する。
type CreateRequest struct {
	// Template はテンプレート本体。name と content を必須とする。
	Template json.RawMessage `json:"template"`
	// Banks は任意の語彙バンク。
	Banks json.RawMessage `json:"banks,omitempty"`
	// Defaults は任意の既定値。
	Defaults json.RawMessage `json:"defaults,omitempty"`
}

// Record はストアに保存されるテンプレートレコード。
// キーは短縮コードで、値はこの構造体のJSON表現。
type Record struct {
	// Code は短縮コード。ストアのキーであり、値には含めない。
	Code string `json:"-"`
	// Template はテンプレート本体。
	Template json.RawMessage `json:"template"`
	// Banks は語彙バンク。省略時は空オブジェクト。
	Banks json.RawMessage `json:"banks"`
	// Defaults は既定値。省略時は空オブジェクト。
	Defaults json.RawMessage `json:"defaults"`
	// CreatedAt は作成日時。CreatedAtLayout で整形した文字列で保存する。
	CreatedAt string `json:"createdAt"`
}

// truthy はJSON値が「空でない」かを判定する。
// null、false、0、空文字列、および値が無い場合を空とみなす。
// オブジェクトと配列は中身が空でも空とはみなさない。
func truthy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return false
	}
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

// orEmptyObject は空の値を空オブジェクトに置き換える。
func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if !truthy(raw) {
		return emptyObject
	}
	return raw
}
