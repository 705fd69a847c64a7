package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics, labelled by account
type Metrics struct {
	PollCount          *prometheus.CounterVec
	FetchFailures      *prometheus.CounterVec
	MessagesProcessed  *prometheus.CounterVec
	MessageFailures    *prometheus.CounterVec
	AttachmentsStored  *prometheus.CounterVec
	AttachmentsDeduped *prometheus.CounterVec
	AttachmentFailures *prometheus.CounterVec
	Uploads            *prometheus.CounterVec
	Posts              *prometheus.CounterVec
	AckFailures        *prometheus.CounterVec
	CycleDuration      *prometheus.HistogramVec
	WorkerUp           *prometheus.GaugeVec
}

// NewMetrics registers the bridge metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	account := []string{"account"}
	withStatus := []string{"account", "status"}

	return &Metrics{
		PollCount: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_chat_bridge_poll_count",
			Help: "Total number of unread-message fetches",
		}, account),
		FetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_chat_bridge_fetch_failures",
			Help: "Total number of failed unread-message fetches",
		}, account),
		MessagesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_chat_bridge_messages_processed",
			Help: "Total number of mail messages processed",
		}, account),
		MessageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_chat_bridge_message_failures",
			Help: "Total number of mail messages with at least one failed step",
		}, account),
		AttachmentsStored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_chat_bridge_attachments_stored",
			Help: "Total number of attachments written to the content store",
		}, account),
		AttachmentsDeduped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_chat_bridge_attachments_deduplicated",
			Help: "Total number of attachments already present in the content store",
		}, account),
		AttachmentFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_chat_bridge_attachment_failures",
			Help: "Total number of attachments that could not be extracted",
		}, account),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_chat_bridge_uploads",
			Help: "Total number of file uploads by outcome",
		}, withStatus),
		Posts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_chat_bridge_posts",
			Help: "Total number of chat posts by outcome",
		}, withStatus),
		AckFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_chat_bridge_ack_failures",
			Help: "Total number of messages that could not be marked seen",
		}, account),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mail_chat_bridge_cycle_duration_seconds",
			Help:    "Time spent in one poll cycle",
			Buckets: prometheus.DefBuckets,
		}, account),
		WorkerUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mail_chat_bridge_worker_up",
			Help: "1 while the account worker is running",
		}, account),
	}
}
