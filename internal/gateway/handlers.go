package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/shortgate/internal/proxy"
	"github.com/nao1215/shortgate/internal/shortcode"
	"github.com/nao1215/shortgate/internal/templates"
	"github.com/nao1215/shortgate/pkg/middleware"
	"go.uber.org/zap"
)

// serviceName はルートで返すサービス名。
const serviceName = "PromptFill ShortURL"

// createResponse は短縮URL作成のレスポンス。
type createResponse struct {
	ShortURL  string `json:"shortUrl"`
	Code      string `json:"code"`
	ExpiresIn string `json:"expiresIn"`
}

// handleCreateShortURL はテンプレートを保存して短縮URLを返すハンドラを返す。
func (s *Server) handleCreateShortURL() gin.HandlerFunc {
	return func(c *gin.Context) {
		body := http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)
		var req templates.CreateRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(c, errBodyTooLarge)
				return
			}
			s.writeError(c, errInvalidJSON)
			return
		}

		rec, err := s.templates.Create(c.Request.Context(), req)
		if err != nil {
			s.writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, createResponse{
			ShortURL:  s.publicBaseURL(c) + "/s/" + rec.Code,
			Code:      rec.Code,
			ExpiresIn: "1 year",
		})
	}
}

// handleGetTemplate はコードに対応する保存値をそのまま返すハンドラを返す。
func (s *Server) handleGetTemplate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := s.templates.Fetch(c.Request.Context(), c.Param("code"))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
	}
}

// handleMissingCodeJSON はコードが指定されていないリクエストに400を返すハンドラを返す。
func (s *Server) handleMissingCodeJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgMissingCode})
	}
}

// handleRedirect は短縮URLをビューアーへリダイレクトするハンドラを返す。
// レコードの中身は解釈せず、存在のみを確認する。
func (s *Server) handleRedirect() gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Param("code")
		ok, err := s.templates.Exists(c.Request.Context(), code)
		if err != nil {
			s.writeTextError(c, err)
			return
		}
		if !ok {
			c.String(http.StatusNotFound, msgShortURLNotFound)
			return
		}
		c.Redirect(http.StatusFound, s.cfg.ViewerURL+"?id="+code)
	}
}

// handleImageProxy は画像を上流から取得してそのまま返すハンドラを返す。
func (s *Server) handleImageProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		img, err := s.forwarder.FetchImage(c.Request.Context(), c.Query("url"))
		if err != nil {
			s.writeTextError(c, err)
			return
		}
		defer img.Body.Close()

		contentType := img.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.DataFromReader(http.StatusOK, img.ContentLength, contentType, img.Body, map[string]string{
			"Cache-Control": proxy.ImageCacheControl,
		})
	}
}

// handleUploadRelease はリクエストボディをリリースアセットとしてアップロードするハンドラを返す。
func (s *Server) handleUploadRelease() gin.HandlerFunc {
	return func(c *gin.Context) {
		body := http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
		resp, err := s.forwarder.UploadAsset(c.Request.Context(), proxy.UploadParams{
			Repo:          c.Query("repo"),
			ReleaseID:     c.Query("releaseId"),
			Filename:      c.Query("filename"),
			Token:         c.Query("token"),
			ContentType:   c.GetHeader("Content-Type"),
			ContentLength: c.Request.ContentLength,
			Body:          body,
		})
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.Data(resp.Status, resp.ContentType, resp.Body)
	}
}

// handleDeleteAsset はリリースアセットを削除するハンドラを返す。
func (s *Server) handleDeleteAsset() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := s.forwarder.DeleteAsset(c.Request.Context(), proxy.DeleteParams{
			Repo:    c.Query("repo"),
			AssetID: c.Query("assetId"),
			Token:   c.Query("token"),
		})
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.Data(resp.Status, resp.ContentType, resp.Body)
	}
}

// handleIndex はサービス名とエンドポイントの一覧を返すハンドラを返す。
func (s *Server) handleIndex() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": serviceName,
			"status":  "ok",
			"endpoints": gin.H{
				"create":      "POST /api/short-url",
				"getTemplate": "GET /api/template/:code",
				"redirect":    "GET /s/:code",
				"imageProxy":  "GET /api/proxy?url=",
				"uploadAsset": "POST /api/upload-release?repo=&releaseId=&filename=&token=",
				"deleteAsset": "DELETE /api/delete-asset?repo=&assetId=&token=",
			},
		})
	}
}

// sizer は保持している件数を報告できるストアやリミッター。
type sizer interface {
	Len() int
}

// handleAdminStats はレート制限の判定結果の集計と実行時の状態を返すハンドラを返す。
func (s *Server) handleAdminStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.logger.Info("管理用統計を参照しました", zap.String("subject", middleware.GetSubject(c)))

		rateLimit := gin.H{
			"backend":       s.cfg.RateLimitBackend,
			"limit":         s.cfg.RateLimit,
			"windowSeconds": int(s.cfg.RateWindow.Seconds()),
			"decisions":     s.stats.Snapshot(),
		}
		if l, ok := s.limiter.(sizer); ok {
			rateLimit["trackedClients"] = l.Len()
		}
		store := gin.H{"backend": s.cfg.StoreBackend}
		if st, ok := s.store.(sizer); ok {
			store["entries"] = st.Len()
		}

		c.JSON(http.StatusOK, gin.H{
			"rateLimit":      rateLimit,
			"store":          store,
			"allowedOrigins": s.guard.Allowed(),
		})
	}
}

// publicBaseURL はshortUrlの組み立てに使うベースURLを返す。
// PUBLIC_BASE_URL が設定されていない場合はリクエストのスキームとホストから導出する。
func (s *Server) publicBaseURL(c *gin.Context) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/")
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host
}

// writeError はエラーを {"error": message} 形式のJSONレスポンスに変換する。
func (s *Server) writeError(c *gin.Context, err error) {
	status, msg := s.classify(c, err)
	c.JSON(status, gin.H{"error": msg})
}

// writeTextError はエラーをテキストのレスポンスに変換する。
func (s *Server) writeTextError(c *gin.Context, err error) {
	status, msg := s.classify(c, err)
	c.String(status, msg)
}

// classify はエラーをステータスコードとクライアントに返すメッセージに変換する。
func (s *Server) classify(c *gin.Context, err error) (int, string) {
	var (
		badReq   *proxy.BadRequestError
		upstream *proxy.UpstreamError
	)
	switch {
	case errors.Is(err, errInvalidJSON):
		return http.StatusBadRequest, msgInvalidJSON
	case errors.Is(err, errBodyTooLarge), errors.Is(err, proxy.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, msgBodyTooLarge
	case errors.Is(err, templates.ErrValidation):
		return http.StatusBadRequest, msgMissingFields
	case errors.Is(err, templates.ErrNotFound):
		return http.StatusNotFound, msgTemplateNotFound
	case errors.As(err, &badReq):
		return http.StatusBadRequest, badReq.Message
	case errors.Is(err, proxy.ErrForbiddenRepo):
		return http.StatusForbidden, msgRepoNotAllowed
	case errors.As(err, &upstream):
		return upstream.Status, upstream.Message
	}

	_ = c.Error(err)
	switch {
	case errors.Is(err, templates.ErrCorruptData):
		s.logger.Error("保存データの解釈に失敗しました", zap.Error(err), zap.String("request_id", middleware.GetRequestID(c)))
		return http.StatusInternalServerError, msgInvalidStoredData
	case errors.Is(err, shortcode.ErrAllocationExhausted):
		s.logger.Error("短縮コードの割り当てに失敗しました", zap.Error(err), zap.String("request_id", middleware.GetRequestID(c)))
		return http.StatusInternalServerError, msgCodeExhausted
	case errors.Is(err, proxy.ErrNetwork):
		return http.StatusBadGateway, msgBadGateway
	default:
		s.logger.Error("リクエストの処理に失敗しました", zap.Error(err), zap.String("request_id", middleware.GetRequestID(c)))
		return http.StatusInternalServerError, middleware.ErrMsgInternal
	}
}
