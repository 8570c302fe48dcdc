package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// defaultTimeout は1回のリクエストに許容する最大時間の既定値。
const defaultTimeout = 30 * time.Second

// defaultUserAgent は外部APIへ送信するUser-Agentの既定値。
const defaultUserAgent = "shortgate/1.0"

// ErrThrottled は送信レート制限の待機中にコンテキストが終了したことを表す。
var ErrThrottled = errors.New("httpclient: outbound rate limit wait aborted")

// Client は外部APIへの転送に使うHTTPクライアント。
// タイムアウトと送信レート制限の設定を持つ。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// limiter は送信レート制限。nilの場合は制限しない。
	limiter *rate.Limiter
	// userAgent はリクエストに付与するUser-Agent。
	userAgent string
}

// Option は Client の設定を変更する。
type Option func(*Client)

// WithTimeout はリクエスト全体（レスポンスボディの読み取りを含む）のタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit は送信レート制限を設定する。rpsが0以下の場合は制限しない。
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithUserAgent はUser-Agentヘッダーを設定する。空文字列の場合は既定値のまま。
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// New は新しい外部API転送用HTTPクライアントを生成する。
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout は設定されているタイムアウトを返す。
// サーバーの書き込みタイムアウトはこれより長くする必要がある。
func (c *Client) Timeout() time.Duration {
	return c.httpClient.Timeout
}

// Do はリクエストを送信する。
// 送信レート制限が設定されている場合は、リクエストのコンテキストが終了するまで待機する。
// 呼び出し元はレスポンスボディを必ずCloseすること。
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrThrottled, err)
		}
	}

	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	return resp, nil
}
