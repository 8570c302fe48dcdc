// Package proxy は画像取得とリリースアセットのアップロード・削除を上流APIへ転送する。
//
// 認証トークンは呼び出し元から受け取ったものをそのまま中継し、保存・記録・検証は行わない。
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nao1215/shortgate/pkg/httpclient"
	"github.com/nao1215/shortgate/pkg/metrics"
	"go.uber.org/zap"
)

const (
	// DefaultUploadBaseURL はアセットアップロード先の既定値。
	DefaultUploadBaseURL = "https://uploads.github.com"
	// DefaultAPIBaseURL はアセット削除先の既定値。
	DefaultAPIBaseURL = "https://api.github.com"
	// DefaultRepo は許可リストが空の場合に使うリポジトリ。
	DefaultRepo = "yazelin/PromptFill"

	// DefaultMaxUploadBytes はアップロードするボディの上限の既定値。
	DefaultMaxUploadBytes = 100 << 20

	// ImageCacheControl は画像レスポンスに付与するCache-Control。
	ImageCacheControl = "public, max-age=86400"

	// maxUpstreamJSON は上流APIのJSONレスポンスとして読み取る最大サイズ。
	maxUpstreamJSON = 10 << 20
)

// upstreamメトリクスのラベル。
const (
	kindImage  = "image"
	kindUpload = "upload"
	kindDelete = "delete"

	outcomeOK            = "ok"
	outcomeUpstreamError = "upstream_error"
	outcomeNetworkError  = "network_error"
)

// successBody はアセット削除成功時のレスポンス。
var successBody = []byte(`{"success":true}`)

// Config は Forwarder の設定。
type Config struct {
	// UploadBaseURL はアセットアップロードAPIのベースURL。
	UploadBaseURL string
	// APIBaseURL はアセット削除APIのベースURL。
	APIBaseURL string
	// AllowedRepos は操作を許可する "owner/name" 形式のリポジトリ。完全一致で判定する。
	AllowedRepos []string
	// MaxUploadBytes はアップロードするボディの上限。0以下の場合は DefaultMaxUploadBytes。
	MaxUploadBytes int64
}

// Forwarder はリクエストを上流APIへ転送する。
type Forwarder struct {
	client     *httpclient.Client
	uploadBase string
	apiBase    string
	repos      map[string]struct{}
	maxUpload  int64
	logger     *zap.Logger
}

// NewForwarder は新しい Forwarder を生成する。
func NewForwarder(client *httpclient.Client, cfg Config, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	uploadBase := strings.TrimRight(cfg.UploadBaseURL, "/")
	if uploadBase == "" {
		uploadBase = DefaultUploadBaseURL
	}
	apiBase := strings.TrimRight(cfg.APIBaseURL, "/")
	if apiBase == "" {
		apiBase = DefaultAPIBaseURL
	}

	repos := make(map[string]struct{}, len(cfg.AllowedRepos))
	for _, r := range cfg.AllowedRepos {
		if r = strings.TrimSpace(r); r != "" {
			repos[r] = struct{}{}
		}
	}
	if len(repos) == 0 {
		repos[DefaultRepo] = struct{}{}
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}

	return &Forwarder{
		client:     client,
		uploadBase: uploadBase,
		apiBase:    apiBase,
		repos:      repos,
		maxUpload:  maxUpload,
		logger:     logger,
	}
}

// RepoAllowed はリポジトリが許可リストに含まれるかを返す。
func (f *Forwarder) RepoAllowed(repo string) bool {
	_, ok := f.repos[repo]
	return ok
}

// Response は上流APIのレスポンスをクライアントへ返す形にしたもの。
type Response struct {
	// Status はクライアントに返すステータスコード。
	Status int
	// ContentType はクライアントに返すContent-Type。
	ContentType string
	// Body はクライアントに返すボディ。
	Body []byte
}

// Image は画像プロキシのレスポンス。Body は呼び出し元が必ずCloseすること。
type Image struct {
	// ContentType は上流APIが返したContent-Type。
	ContentType string
	// ContentLength は上流APIが返したContent-Length。不明な場合は-1。
	ContentLength int64
	// Body は画像データのストリーム。
	Body io.ReadCloser
}

// FetchImage は指定URLの画像を取得する。
// URLのスキームがhttp/httpsでない場合は通信を行わずに BadRequestError を返す。
func (f *Forwarder) FetchImage(ctx context.Context, rawURL string) (*Image, error) {
	if rawURL == "" {
		return nil, badRequest("Missing url parameter")
	}
	target, err := url.Parse(rawURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, badRequest("Invalid URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, badRequest("Invalid URL")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.observe(kindImage, outcomeNetworkError)
		f.logger.Warn("画像の取得に失敗しました", zap.String("host", target.Host), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxUpstreamJSON))
		resp.Body.Close()
		f.observe(kindImage, outcomeUpstreamError)
		return nil, &UpstreamError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("Failed to fetch image: %d", resp.StatusCode),
		}
	}

	f.observe(kindImage, outcomeOK)
	return &Image{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

// UploadParams はアセットアップロードのパラメータ。
type UploadParams struct {
	Repo      string
	ReleaseID string
	Filename  string
	Token     string
	// ContentType は上流APIに送るContent-Type。空の場合は application/octet-stream。
	ContentType string
	// ContentLength はボディの長さ。負の場合はボディを読み切って長さを確定する。
	ContentLength int64
	Body          io.Reader
}

// validate は必須パラメータと許可リストを検証する。
func (p UploadParams) validate(f *Forwarder) error {
	if p.Repo == "" || p.ReleaseID == "" || p.Filename == "" || p.Token == "" {
		return badRequest("Missing required parameters: repo, releaseId, filename, token")
	}
	if !f.RepoAllowed(p.Repo) {
		return ErrForbiddenRepo
	}
	return nil
}

// UploadAsset はリクエストボディを加工せずにリリースアセットとしてアップロードする。
// 上流APIのステータスとJSONボディはそのまま返す。
func (f *Forwarder) UploadAsset(ctx context.Context, p UploadParams) (*Response, error) {
	if err := p.validate(f); err != nil {
		return nil, err
	}

	body, length := p.Body, p.ContentLength
	if body == nil {
		body, length = http.NoBody, 0
	}
	if length > f.maxUpload {
		return nil, ErrPayloadTooLarge
	}
	if length < 0 {
		// 長さが不明なボディは上限+1バイトまで読み、超えた場合は拒否する。
		buf, err := io.ReadAll(io.LimitReader(body, f.maxUpload+1))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, ErrPayloadTooLarge
			}
			return nil, fmt.Errorf("リクエストボディの読み取りに失敗: %w", err)
		}
		if int64(len(buf)) > f.maxUpload {
			return nil, ErrPayloadTooLarge
		}
		body, length = bytes.NewReader(buf), int64(len(buf))
	}
	if length == 0 {
		body = http.NoBody
	}

	endpoint := fmt.Sprintf("%s/repos/%s/releases/%s/assets?name=%s",
		f.uploadBase, p.Repo, url.PathEscape(p.ReleaseID), url.QueryEscape(p.Filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, badRequest("Invalid upload parameters")
	}
	req.ContentLength = length
	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+p.Token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.observe(kindUpload, outcomeNetworkError)
		f.logger.Warn("アセットのアップロードに失敗しました", zap.String("repo", p.Repo), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamJSON))
	if err != nil {
		f.observe(kindUpload, outcomeNetworkError)
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	f.observeStatus(kindUpload, resp.StatusCode)

	return &Response{
		Status:      resp.StatusCode,
		ContentType: "application/json",
		Body:        data,
	}, nil
}

// DeleteParams はアセット削除のパラメータ。
type DeleteParams struct {
	Repo    string
	AssetID string
	Token   string
}

// DeleteAsset はリリースアセットを削除する。
// 上流APIの204は200 {"success":true} に変換し、それ以外はステータスとJSONボディをそのまま返す。
// ボディがJSONでない場合は {} を返す。
func (f *Forwarder) DeleteAsset(ctx context.Context, p DeleteParams) (*Response, error) {
	if p.Repo == "" || p.AssetID == "" || p.Token == "" {
		return nil, badRequest("Missing required parameters: repo, assetId, token")
	}
	if !f.RepoAllowed(p.Repo) {
		return nil, ErrForbiddenRepo
	}

	endpoint := fmt.Sprintf("%s/repos/%s/releases/assets/%s", f.apiBase, p.Repo, url.PathEscape(p.AssetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return nil, badRequest("Invalid delete parameters")
	}
	req.Header.Set("Authorization", "Bearer "+p.Token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.observe(kindDelete, outcomeNetworkError)
		f.logger.Warn("アセットの削除に失敗しました", zap.String("repo", p.Repo), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	f.observeStatus(kindDelete, resp.StatusCode)
	if resp.StatusCode == http.StatusNoContent {
		return &Response{Status: http.StatusOK, ContentType: "application/json", Body: successBody}, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamJSON))
	if err != nil || !json.Valid(data) {
		data = []byte(`{}`)
	}
	return &Response{Status: resp.StatusCode, ContentType: "application/json", Body: data}, nil
}

// observe は転送結果をメトリクスに記録する。
func (f *Forwarder) observe(kind, outcome string) {
	metrics.UpstreamRequestsTotal.WithLabelValues(kind, outcome).Inc()
}

func (f *Forwarder) observeStatus(kind string, status int) {
	if status >= 200 && status <= 299 {
		f.observe(kind, outcomeOK)
		return
	}
	f.observe(kind, outcomeUpstreamError)
}
