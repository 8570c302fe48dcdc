package proxy

import (
	"errors"
	"fmt"
)

var (
	// ErrBadRequest はリクエストパラメータが不足している、または不正であることを表す。
	ErrBadRequest = errors.New("proxy: bad request")
	// ErrForbiddenRepo はリポジトリが許可リストに含まれていないことを表す。
	ErrForbiddenRepo = errors.New("proxy: repository not allowed")
	// ErrNetwork は上流APIとの通信に失敗したことを表す。
	ErrNetwork = errors.New("proxy: upstream network failure")
	// ErrPayloadTooLarge はアップロードするボディが上限を超えていることを表す。
	ErrPayloadTooLarge = errors.New("proxy: upload body too large")
)

// BadRequestError はクライアントに返すメッセージを持つ ErrBadRequest。
type BadRequestError struct {
	// Message はクライアントに返すメッセージ。
	Message string
}

// Error はエラーメッセージを返す。
func (e *BadRequestError) Error() string { return e.Message }

// Unwrap は ErrBadRequest を返す。
func (e *BadRequestError) Unwrap() error { return ErrBadRequest }

func badRequest(format string, args ...any) error {
	return &BadRequestError{Message: fmt.Sprintf(format, args...)}
}

// UpstreamError は上流APIが2xx以外のステータスを返したことを表す。
type UpstreamError struct {
	// Status は上流APIのステータスコード。
	Status int
	// Message はクライアントに返す短いメッセージ。
	Message string
}

// Error はエラーメッセージを返す。
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("proxy: upstream returned %d: %s", e.Status, e.Message)
}
