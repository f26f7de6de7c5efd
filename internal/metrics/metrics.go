// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/forgehub/internal/oauth"
	"github.com/hitoshi/forgehub/internal/openid"
	"github.com/hitoshi/forgehub/internal/token"
)

// Collector はPrometheusメトリクスを収集する実装。
// トークン認証・外部プロバイダー通信・ログインの各計測点から利用する。
type Collector struct {
	tokenAuthSuccess prometheus.Counter
	tokenAuthFailure prometheus.Counter
	tokensPurged     prometheus.Counter
	logins           *prometheus.CounterVec
	outboundLatency  *prometheus.HistogramVec
}

// コンパイル時のインターフェース実装チェック
var (
	_ token.Metrics  = (*Collector)(nil)
	_ openid.Metrics = (*Collector)(nil)
	_ oauth.Metrics  = (*Collector)(nil)
)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokenAuthSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forgehub_token_auth_success_total",
			Help: "アクセストークン認証成功の合計数",
		}),
		tokenAuthFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forgehub_token_auth_failure_total",
			Help: "アクセストークン認証失敗の合計数",
		}),
		tokensPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forgehub_tokens_purged_total",
			Help: "遅延GCで削除された期限切れトークンの合計数",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgehub_logins_total",
			Help: "ログインフロー別の完了数",
		}, []string{"flow"}),
		outboundLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forgehub_outbound_latency_seconds",
			Help:    "外部プロバイダーへのHTTP呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.tokenAuthSuccess,
		c.tokenAuthFailure,
		c.tokensPurged,
		c.logins,
		c.outboundLatency,
	)

	return c
}

// RecordTokenAuthSuccess はトークン認証成功を記録する。
func (c *Collector) RecordTokenAuthSuccess() {
	c.tokenAuthSuccess.Inc()
}

// RecordTokenAuthFailure はトークン認証失敗を記録する。
func (c *Collector) RecordTokenAuthFailure() {
	c.tokenAuthFailure.Inc()
}

// RecordTokensPurged は遅延GCで削除されたトークン数を記録する。
func (c *Collector) RecordTokensPurged(count int) {
	c.tokensPurged.Add(float64(count))
}

// RecordLogin はログインフロー（openid, oauth）の完了を記録する。
func (c *Collector) RecordLogin(flow string) {
	c.logins.WithLabelValues(flow).Inc()
}

// ObserveOutbound は外部プロバイダー呼び出し（discovery, association, userinfo）の
// レイテンシを記録する。
func (c *Collector) ObserveOutbound(operation string, d time.Duration) {
	c.outboundLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
