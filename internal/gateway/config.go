package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/shortgate/internal/proxy"
	"github.com/nao1215/shortgate/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

// ストアのバックエンド。
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

const (
	defaultAllowedOrigin = "https://yazelin.github.io"
	defaultViewerURL     = "https://yazelin.github.io/PromptFill/"
	// DefaultMaxBodyBytes は短縮URL作成リクエストのボディの上限の既定値。
	DefaultMaxBodyBytes = 1 << 20
)

// Config はゲートウェイの設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// AllowedOrigins はオリジンの許可リスト（前方一致）。先頭が正規オリジン。
	AllowedOrigins []string
	// AllowedRepos はアセット操作を許可するリポジトリ（完全一致）。
	AllowedRepos []string
	// ViewerURL は短縮URLのリダイレクト先。
	ViewerURL string
	// PublicBaseURL はshortUrlの組み立てに使うベースURL。空の場合はリクエストから導出する。
	PublicBaseURL string

	// StoreBackend はテンプレートの保存先（memory / redis / sqlite）。
	StoreBackend string
	// SQLitePath はSQLiteのファイルパス。
	SQLitePath string
	// RedisAddr はRedisのアドレス。
	RedisAddr string
	// RedisPassword はRedisのパスワード。
	RedisPassword string
	// RedisDB はRedisのDB番号。
	RedisDB int

	// RateLimitBackend はレート制限の状態の保存先（memory / redis）。
	RateLimitBackend string
	// RateLimit はウィンドウあたりの上限。
	RateLimit int
	// RateWindow はウィンドウの長さ。
	RateWindow time.Duration
	// RateKeyHeader はクライアント識別子を取得するヘッダー。
	RateKeyHeader string

	// UpstreamTimeout は上流API呼び出しのタイムアウト。
	UpstreamTimeout time.Duration
	// StoreTimeout はストア呼び出しのタイムアウト。
	StoreTimeout time.Duration
	// UpstreamRPS は上流APIへの送信レート。0以下で無制限。
	UpstreamRPS float64
	// UpstreamBurst は上流APIへの送信バースト。
	UpstreamBurst int
	// UploadBaseURL はアセットアップロードAPIのベースURL。
	UploadBaseURL string
	// APIBaseURL はアセット削除APIのベースURL。
	APIBaseURL string
	// UpstreamUserAgent は上流APIへ送るUser-Agent。
	UpstreamUserAgent string
	// MaxBodyBytes は短縮URL作成リクエストのボディの上限。
	MaxBodyBytes int64
	// MaxUploadBytes はアセットアップロードのボディの上限。
	MaxUploadBytes int64

	// AdminJWTSecret は /admin/stats のJWT検証鍵。空の場合は管理用エンドポイントを公開しない。
	AdminJWTSecret string

	// LogLevel はログレベル。
	LogLevel string
	// LogFormat はログ形式（json / console）。
	LogFormat string
}

// fileConfig はCONFIG_FILEで指定するYAMLファイルの内容。
// 指定された項目のみ環境変数の値を上書きする。
type fileConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedRepos   []string `yaml:"allowed_repos"`
	ViewerURL      string   `yaml:"viewer_url"`
	PublicBaseURL  string   `yaml:"public_base_url"`
	UploadBaseURL  string   `yaml:"upload_base_url"`
	APIBaseURL     string   `yaml:"api_base_url"`
	RateLimit      *int     `yaml:"rate_limit"`
	RateWindow     string   `yaml:"rate_window"`
}

// LoadConfig は環境変数とCONFIG_FILEから設定を読み込む。
func LoadConfig() (Config, error) {
	var errs []error
	cfg := Config{
		Port:              getEnvOr("PORT", "8080"),
		AllowedOrigins:    getEnvList("ALLOWED_ORIGINS", []string{defaultAllowedOrigin}),
		AllowedRepos:      getEnvList("ALLOWED_REPOS", []string{proxy.DefaultRepo}),
		ViewerURL:         getEnvOr("VIEWER_URL", defaultViewerURL),
		PublicBaseURL:     os.Getenv("PUBLIC_BASE_URL"),
		StoreBackend:      getEnvOr("STORE_BACKEND", BackendSQLite),
		SQLitePath:        getEnvOr("SQLITE_PATH", "shortgate.db"),
		RedisAddr:         getEnvOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0, &errs),
		RateLimitBackend:  getEnvOr("RATE_LIMIT_BACKEND", BackendMemory),
		RateLimit:         getEnvInt("RATE_LIMIT", ratelimit.DefaultLimit, &errs),
		RateWindow:        getEnvDuration("RATE_WINDOW", ratelimit.DefaultWindow, &errs),
		RateKeyHeader:     getEnvOr("RATE_KEY_HEADER", ratelimit.DefaultKeyHeader),
		UpstreamTimeout:   getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second, &errs),
		StoreTimeout:      getEnvDuration("STORE_TIMEOUT", 5*time.Second, &errs),
		UpstreamRPS:       getEnvFloat("UPSTREAM_RPS", 0, &errs),
		UpstreamBurst:     getEnvInt("UPSTREAM_BURST", 10, &errs),
		UploadBaseURL:     getEnvOr("UPLOAD_BASE_URL", proxy.DefaultUploadBaseURL),
		APIBaseURL:        getEnvOr("API_BASE_URL", proxy.DefaultAPIBaseURL),
		UpstreamUserAgent: getEnvOr("UPSTREAM_USER_AGENT", "shortgate/1.0"),
		MaxBodyBytes:      int64(getEnvInt("MAX_BODY_BYTES", DefaultMaxBodyBytes, &errs)),
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", proxy.DefaultMaxUploadBytes, &errs)),
		AdminJWTSecret:    os.Getenv("ADMIN_JWT_SECRET"),
		LogLevel:          getEnvOr("LOG_LEVEL", "info"),
		LogFormat:         getEnvOr("LOG_FORMAT", "json"),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyFile はYAMLファイルの内容で設定を上書きする。
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("設定ファイルのパースに失敗: path=%s: %w", path, err)
	}

	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	if len(fc.AllowedRepos) > 0 {
		c.AllowedRepos = fc.AllowedRepos
	}
	overrideString(&c.ViewerURL, fc.ViewerURL)
	overrideString(&c.PublicBaseURL, fc.PublicBaseURL)
	overrideString(&c.UploadBaseURL, fc.UploadBaseURL)
	overrideString(&c.APIBaseURL, fc.APIBaseURL)
	if fc.RateLimit != nil {
		c.RateLimit = *fc.RateLimit
	}
	if fc.RateWindow != "" {
		d, err := time.ParseDuration(fc.RateWindow)
		if err != nil {
			return fmt.Errorf("rate_window が不正です: %q: %w", fc.RateWindow, err)
		}
		c.RateWindow = d
	}
	return nil
}

// Validate は設定値を検証する。
func (c Config) Validate() error {
	var errs []error
	if len(c.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("ALLOWED_ORIGINS は1つ以上必要です"))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT は正の整数である必要があります: %d", c.RateLimit))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES は正の整数である必要があります: %d", c.MaxBodyBytes))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES は正の整数である必要があります: %d", c.MaxUploadBytes))
	}
	if c.RateWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATE_WINDOW は正の時間である必要があります: %s", c.RateWindow))
	}
	switch c.StoreBackend {
	case BackendMemory, BackendRedis, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND が不正です: %q", c.StoreBackend))
	}
	switch c.RateLimitBackend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND が不正です: %q", c.RateLimitBackend))
	}
	for name, raw := range map[string]string{
		"VIEWER_URL":      c.ViewerURL,
		"UPLOAD_BASE_URL": c.UploadBaseURL,
		"API_BASE_URL":    c.APIBaseURL,
		"PUBLIC_BASE_URL": c.PublicBaseURL,
	} {
		if raw == "" && name == "PUBLIC_BASE_URL" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s が不正なURLです: %q", name, raw))
		}
	}
	return errors.Join(errs...)
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getEnvList はカンマ区切りの環境変数をスライスとして返す。空の要素は除く。
func getEnvList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s が整数ではありません: %q", key, v))
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s が数値ではありません: %q", key, v))
		return defaultValue
	}
	return f
}

// getEnvDuration は "60s" 形式、または秒数の整数を受け付ける。
func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s が時間ではありません: %q", key, v))
		return defaultValue
	}
	return d
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
