// Package metrics はゲートウェイのPrometheusメトリクスを定義する。
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPRequestsTotal はルート・ステータス・メソッドごとのリクエスト数。
var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shortgate_http_requests_total",
		Help: "Total number of HTTP requests received",
	},
	[]string{"route", "status", "method"},
)

// HTTPRequestDuration はルート・メソッドごとの処理時間。
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "shortgate_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route", "method"},
)

// RateLimitRejectionsTotal はレート制限で拒否したリクエスト数。
var RateLimitRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shortgate_rate_limit_rejections_total",
		Help: "Total number of requests rejected due to rate limiting",
	},
	[]string{"route"},
)

// OriginRejectionsTotal は許可されていないオリジンで拒否したリクエスト数。
var OriginRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shortgate_origin_rejections_total",
		Help: "Total number of requests rejected by the origin allow-list",
	},
	[]string{"route"},
)

// CodeCollisionsTotal は短縮コード生成時の衝突回数。
var CodeCollisionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "shortgate_code_collisions_total",
		Help: "Total number of short code collisions during allocation",
	},
)

// UpstreamRequestsTotal は外部APIへの転送結果。
// outcomeは "ok" / "upstream_error" / "network_error"。
var UpstreamRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shortgate_upstream_requests_total",
		Help: "Total number of requests forwarded to upstream APIs",
	},
	[]string{"kind", "outcome"},
)

var registerOnce sync.Once

// Register はすべてのコレクタをデフォルトレジストリに登録する。
// 複数回呼び出しても登録は1度だけ行われる。
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			RateLimitRejectionsTotal,
			OriginRejectionsTotal,
			CodeCollisionsTotal,
			UpstreamRequestsTotal,
		)
	})
}
