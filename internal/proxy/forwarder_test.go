package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nao1215/shortgate/pkg/httpclient"
)

// newTestForwarder は上流APIをテストサーバーに向けた Forwarder を生成する。
func newTestForwarder(t *testing.T, handler http.HandlerFunc) (*Forwarder, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	f := NewForwarder(httpclient.New(), Config{
		UploadBaseURL: srv.URL,
		APIBaseURL:    srv.URL + "/",
		AllowedRepos:  []string{"yazelin/PromptFill"},
	}, nil)
	return f, &calls
}

// TestFetchImage は画像プロキシを検証する。
func TestFetchImage(t *testing.T) {
	t.Parallel()

	t.Run("http/https以外のスキームは通信せずにBadRequestを返すこと", func(t *testing.T) {
		t.Parallel()

		f, calls := newTestForwarder(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		for _, raw := range []string{"", "ftp://example.com/a.png", "file:///etc/passwd", "javascript:alert(1)", "http://", "://bad"} {
			_, err := f.FetchImage(context.Background(), raw)
			if !errors.Is(err, ErrBadRequest) {
				t.Errorf("FetchImage(%q) error = %v, want ErrBadRequest", raw, err)
			}
		}
		if calls.Load() != 0 {
			t.Errorf("上流への呼び出し回数 = %d, want 0", calls.Load())
		}
	})

	t.Run("成功時はContent-Typeとボディがそのまま返ること", func(t *testing.T) {
		t.Parallel()

		f, _ := newTestForwarder(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("\x89PNG-data"))
		})
		srvURL := f.uploadBase

		img, err := f.FetchImage(context.Background(), srvURL+"/a.png")
		if err != nil {
			t.Fatalf("FetchImage()でエラーが発生: %v", err)
		}
		defer img.Body.Close()

		if img.ContentType != "image/png" {
			t.Errorf("ContentType = %q, want %q", img.ContentType, "image/png")
		}
		data, _ := io.ReadAll(img.Body)
		if string(data) != "\x89PNG-data" {
			t.Errorf("Body = %q, want %q", data, "\x89PNG-data")
		}
	})

	t.Run("2xx以外は同じステータスのUpstreamErrorを返すこと", func(t *testing.T) {
		t.Parallel()

		f, _ := newTestForwarder(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "gone", http.StatusNotFound)
		})

		_, err := f.FetchImage(context.Background(), f.uploadBase+"/missing.png")
		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("FetchImage() error = %v, want *UpstreamError", err)
		}
		if upErr.Status != http.StatusNotFound {
			t.Errorf("Status = %d, want %d", upErr.Status, http.StatusNotFound)
		}
	})

	t.Run("通信失敗はErrNetworkを返すこと", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		f := NewForwarder(httpclient.New(), Config{}, nil)
		_, err := f.FetchImage(context.Background(), addr+"/a.png")
		if !errors.Is(err, ErrNetwork) {
			t.Errorf("FetchImage() error = %v, want ErrNetwork", err)
		}
	})
}

// TestUploadAsset はアセットアップロードの転送を検証する。
func TestUploadAsset(t *testing.T) {
	t.Parallel()

	t.Run("ボディとヘッダーが上流に転送されステータスとJSONがそのまま返ること", func(t *testing.T) {
		t.Parallel()

		var (
			gotPath, gotQuery, gotAuth, gotType string
			gotLength                           int64
			gotBody                             []byte
		)
		f, _ := newTestForwarder(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.Query().Get("name")
			gotAuth = r.Header.Get("Authorization")
			gotType = r.Header.Get("Content-Type")
			gotLength = r.ContentLength
			gotBody, _ = io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":42,"name":"a b.png"}`))
		})

		resp, err := f.UploadAsset(context.Background(), UploadParams{
			Repo:          "yazelin/PromptFill",
			ReleaseID:     "123",
			Filename:      "a b.png",
			Token:         "secret-token",
			ContentType:   "image/png",
			ContentLength: 5,
			Body:          strings.NewReader("hello"),
		})
		if err != nil {
			t.Fatalf("UploadAsset()でエラーが発生: %v", err)
		}

		if gotPath != "/repos/yazelin/PromptFill/releases/123/assets" {
			t.Errorf("path = %q", gotPath)
		}
		if gotQuery != "a b.png" {
			t.Errorf("name = %q, want %q", gotQuery, "a b.png")
		}
		if gotAuth != "Bearer secret-token" {
			t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret-token")
		}
		if gotType != "image/png" {
			t.Errorf("Content-Type = %q, want %q", gotType, "image/png")
		}
		if gotLength != 5 {
			t.Errorf("Content-Length = %d, want 5", gotLength)
		}
		if string(gotBody) != "hello" {
			t.Errorf("body = %q, want %q", gotBody, "hello")
		}
		if resp.Status != http.StatusCreated {
			t.Errorf("Status = %d, want %d", resp.Status, http.StatusCreated)
		}
		if string(resp.Body) != `{"id":42,"name":"a b.png"}` {
			t.Errorf("Body = %s", resp.Body)
		}
	})

	t.Run("長さが不明なボディは読み切ってContent-Lengthを設定すること", func(t *testing.T) {
		t.Parallel()

		var gotLength int64
		f, _ := newTestForwarder(t, func(w http.ResponseWriter, r *http.Request) {
			gotLength = r.ContentLength
			w.WriteHeader(http.StatusCreated)
		})

		_, err := f.UploadAsset(context.Background(), UploadParams{
			Repo: "yazelin/PromptFill", ReleaseID: "1", Filename: "f", Token: "t",
			ContentLength: -1,
			Body:          io.NopCloser(strings.NewReader("0123456789")),
		})
		if err != nil {
			t.Fatalf("UploadAsset()でエラーが発生: %v", err)
		}
		if gotLength != 10 {
			t.Errorf("Content-Length = %d, want 10", gotLength)
		}
	})

	t.Run("上限を超えるボディは転送せずにErrPayloadTooLargeを返すこと", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusCreated)
		}))
		t.Cleanup(srv.Close)
		f := NewForwarder(httpclient.New(), Config{UploadBaseURL: srv.URL, MaxUploadBytes: 8}, nil)

		tests := []struct {
			name   string
			length int64
			body   string
		}{
			{name: "長さが既知", length: 10, body: "0123456789"},
			{name: "長さが不明", length: -1, body: "0123456789"},
		}
		for _, tt := range tests {
			_, err := f.UploadAsset(context.Background(), UploadParams{
				Repo: DefaultRepo, ReleaseID: "1", Filename: "f", Token: "t",
				ContentLength: tt.length,
				Body:          io.NopCloser(strings.NewReader(tt.body)),
			})
			if !errors.Is(err, ErrPayloadTooLarge) {
				t.Errorf("%s: UploadAsset() error = %v, want ErrPayloadTooLarge", tt.name, err)
			}
		}
		if calls.Load() != 0 {
			t.Errorf("上流への呼び出し回数 = %d, want 0", calls.Load())
		}

		if _, err := f.UploadAsset(context.Background(), UploadParams{
			Repo: DefaultRepo, ReleaseID: "1", Filename: "f", Token: "t",
			ContentLength: -1,
			Body:          io.NopCloser(strings.NewReader("01234567")),
		}); err != nil {
			t.Errorf("上限ちょうどのUploadAsset()でエラーが発生: %v", err)
		}
	})

	t.Run("上流のエラーステータスもそのまま返ること", func(t *testing.T) {
		t.Parallel()

		f, _ := newTestForwarder(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"Validation Failed"}`))
		})

		resp, err := f.UploadAsset(context.Background(), UploadParams{
			Repo: "yazelin/PromptFill", ReleaseID: "1", Filename: "f", Token: "t",
			ContentLength: 1, Body: strings.NewReader("x"),
		})
		if err != nil {
			t.Fatalf("UploadAsset()でエラーが発生: %v", err)
		}
		if resp.Status != http.StatusUnprocessableEntity {
			t.Errorf("Status = %d, want %d", resp.Status, http.StatusUnprocessableEntity)
		}
		if string(resp.Body) != `{"message":"Validation Failed"}` {
			t.Errorf("Body = %s", resp.Body)
		}
	})

	t.Run("パラメータ不足と許可外リポジトリは通信しないこと", func(t *testing.T) {
		t.Parallel()

		f, calls := newTestForwarder(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})

		tests := []struct {
			name    string
			params  UploadParams
			wantErr error
		}{
			{name: "repoが無い", params: UploadParams{ReleaseID: "1", Filename: "f", Token: "t"}, wantErr: ErrBadRequest},
			{name: "releaseIdが無い", params: UploadParams{Repo: "yazelin/PromptFill", Filename: "f", Token: "t"}, wantErr: ErrBadRequest},
			{name: "filenameが無い", params: UploadParams{Repo: "yazelin/PromptFill", ReleaseID: "1", Token: "t"}, wantErr: ErrBadRequest},
			{name: "tokenが無い", params: UploadParams{Repo: "yazelin/PromptFill", ReleaseID: "1", Filename: "f"}, wantErr: ErrBadRequest},
			{name: "許可外のリポジトリ", params: UploadParams{Repo: "evil/repo", ReleaseID: "1", Filename: "f", Token: "t"}, wantErr: ErrForbiddenRepo},
			{name: "大文字小文字が異なるリポジトリ", params: UploadParams{Repo: "Yazelin/PromptFill", ReleaseID: "1", Filename: "f", Token: "t"}, wantErr: ErrForbiddenRepo},
		}
		for _, tt := range tests {
			_, err := f.UploadAsset(context.Background(), tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("%s: UploadAsset() error = %v, want %v", tt.name, err, tt.wantErr)
			}
		}
		if calls.Load() != 0 {
			t.Errorf("上流への呼び出し回数 = %d, want 0", calls.Load())
		}
	})
}

// TestDeleteAsset はアセット削除の転送を検証する。
func TestDeleteAsset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		upstreamCode int
		upstreamBody string
		wantStatus   int
		wantBody     string
	}{
		{name: "204は200のsuccessに変換されること", upstreamCode: http.StatusNoContent, wantStatus: http.StatusOK, wantBody: `{"success":true}`},
		{name: "JSONのエラーはそのまま返ること", upstreamCode: http.StatusNotFound, upstreamBody: `{"message":"Not Found"}`, wantStatus: http.StatusNotFound, wantBody: `{"message":"Not Found"}`},
		{name: "JSONでないボディは空オブジェクトになること", upstreamCode: http.StatusBadGateway, upstreamBody: `<html>oops</html>`, wantStatus: http.StatusBadGateway, wantBody: `{}`},
		{name: "空のボディは空オブジェクトになること", upstreamCode: http.StatusUnauthorized, wantStatus: http.StatusUnauthorized, wantBody: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotMethod, gotPath, gotAuth string
			f, _ := newTestForwarder(t, func(w http.ResponseWriter, r *http.Request) {
				gotMethod, gotPath, gotAuth = r.Method, r.URL.Path, r.Header.Get("Authorization")
				w.WriteHeader(tt.upstreamCode)
				if tt.upstreamBody != "" {
					_, _ = w.Write([]byte(tt.upstreamBody))
				}
			})

			resp, err := f.DeleteAsset(context.Background(), DeleteParams{Repo: "yazelin/PromptFill", AssetID: "99", Token: "tk"})
			if err != nil {
				t.Fatalf("DeleteAsset()でエラーが発生: %v", err)
			}
			if gotMethod != http.MethodDelete {
				t.Errorf("method = %q, want DELETE", gotMethod)
			}
			if gotPath != "/repos/yazelin/PromptFill/releases/assets/99" {
				t.Errorf("path = %q", gotPath)
			}
			if gotAuth != "Bearer tk" {
				t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tk")
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", resp.Status, tt.wantStatus)
			}
			if string(resp.Body) != tt.wantBody {
				t.Errorf("Body = %s, want %s", resp.Body, tt.wantBody)
			}
		})
	}

	t.Run("許可外のリポジトリはErrForbiddenRepoを返すこと", func(t *testing.T) {
		t.Parallel()

		f, calls := newTestForwarder(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		_, err := f.DeleteAsset(context.Background(), DeleteParams{Repo: "other/repo", AssetID: "1", Token: "t"})
		if !errors.Is(err, ErrForbiddenRepo) {
			t.Errorf("DeleteAsset() error = %v, want ErrForbiddenRepo", err)
		}
		if calls.Load() != 0 {
			t.Errorf("上流への呼び出し回数 = %d, want 0", calls.Load())
		}
	})
}

// TestRepoAllowed は許可リストの既定値を検証する。
func TestRepoAllowed(t *testing.T) {
	t.Parallel()

	f := NewForwarder(httpclient.New(), Config{AllowedRepos: []string{" ", ""}}, nil)
	if !f.RepoAllowed(DefaultRepo) {
		t.Errorf("RepoAllowed(%q) = false, want true", DefaultRepo)
	}
	if f.RepoAllowed("yazelin/promptfill") {
		t.Error("大文字小文字が異なるリポジトリが許可された")
	}
}
