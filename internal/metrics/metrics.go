// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス記録のインターフェース。
// サービス層とミドルウェアから利用する。
type Recorder interface {
	RecordLoginSuccess()
	RecordLoginFailure(reason string)
	RecordLockout()
	RecordSignup()
	RecordCSRFRejection()
	RecordMessagePosted()
	RecordConversationStarted()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess         prometheus.Counter
	loginFailure         *prometheus.CounterVec
	lockouts             prometheus.Counter
	signups              prometheus.Counter
	csrfRejections       prometheus.Counter
	messagesPosted       prometheus.Counter
	conversationsStarted prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stagehub_login_success_total",
			Help: "ログイン成功の合計数",
		}),
		loginFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagehub_login_failure_total",
			Help: "理由別のログイン失敗数",
		}, []string{"reason"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stagehub_lockouts_total",
			Help: "ロックアウトにより拒否された認証試行の合計数",
		}),
		signups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stagehub_signups_total",
			Help: "ユーザー登録成功の合計数",
		}),
		csrfRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stagehub_csrf_rejections_total",
			Help: "CSRF検証で拒否されたリクエストの合計数",
		}),
		messagesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stagehub_messages_posted_total",
			Help: "投稿されたメッセージの合計数",
		}),
		conversationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stagehub_conversations_started_total",
			Help: "新規作成された会話の合計数",
		}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFailure,
		c.lockouts,
		c.signups,
		c.csrfRejections,
		c.messagesPosted,
		c.conversationsStarted,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure はログイン失敗を理由付きで記録する。
// 理由はメトリクスにのみ残り、レスポンスには反映されない。
func (c *Collector) RecordLoginFailure(reason string) {
	c.loginFailure.WithLabelValues(reason).Inc()
}

// RecordLockout はロックアウトによる拒否を記録する。
func (c *Collector) RecordLockout() {
	c.lockouts.Inc()
}

// RecordSignup はユーザー登録成功を記録する。
func (c *Collector) RecordSignup() {
	c.signups.Inc()
}

// RecordCSRFRejection はCSRF検証による拒否を記録する。
func (c *Collector) RecordCSRFRejection() {
	c.csrfRejections.Inc()
}

// RecordMessagePosted はメッセージ投稿を記録する。
func (c *Collector) RecordMessagePosted() {
	c.messagesPosted.Inc()
}

// RecordConversationStarted は会話の新規作成を記録する。
func (c *Collector) RecordConversationStarted() {
	c.conversationsStarted.Inc()
}

// compile-time interface check
var _ Recorder = (*Collector)(nil)

// NopRecorder は何も記録しないRecorder実装。テスト用。
type NopRecorder struct{}

func (NopRecorder) RecordLoginSuccess()              {}
func (NopRecorder) RecordLoginFailure(reason string) {}
func (NopRecorder) RecordLockout()                   {}
func (NopRecorder) RecordSignup()                    {}
func (NopRecorder) RecordCSRFRejection()             {}
func (NopRecorder) RecordMessagePosted()             {}
func (NopRecorder) RecordConversationStarted()       {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
