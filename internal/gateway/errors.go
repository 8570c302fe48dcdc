package gateway

import "errors"

// クライアントに返すエラーメッセージ。
const (
	msgMissingCode       = "Missing code"
	msgInvalidJSON       = "Invalid JSON body"
	msgMissingFields     = "Missing required fields: template.name, template.content"
	msgCodeExhausted     = "Failed to generate unique code"
	msgTemplateNotFound  = "Template not found or expired"
	msgShortURLNotFound  = "Short URL not found or expired"
	msgInvalidStoredData = "Invalid stored data"
	msgRepoNotAllowed    = "Forbidden: Repository not allowed"
	msgBadGateway        = "Bad gateway: upstream request failed"
	msgBodyTooLarge      = "Request body too large"
)

var (
	// errInvalidJSON はリクエストボディをJSONとして解釈できないことを表す。
	errInvalidJSON = errors.New("gateway: invalid JSON body")
	// errBodyTooLarge はリクエストボディが上限を超えていることを表す。
	errBodyTooLarge = errors.New("gateway: request body too large")
)
