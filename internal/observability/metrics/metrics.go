package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics exposes counters/histograms for the WhatsApp relay flows.
type RelayMetrics struct {
	webhookEvents    *prometheus.CounterVec
	webhookLatency   *prometheus.HistogramVec
	messagesStored   *prometheus.CounterVec
	outboundTotal    *prometheus.CounterVec
	assistantRuns    *prometheus.CounterVec
	assistantLatency *prometheus.HistogramVec
	lockContention   prometheus.Counter
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound WhatsApp webhook events by type and outcome",
		}, []string{"event_type", "outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook ingestion",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		messagesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "store",
			Name:      "messages_total",
			Help:      "Messages persisted by direction and kind",
		}, []string{"direction", "kind"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "whatsapp",
			Name:      "outbound_total",
			Help:      "Outbound WhatsApp sends by kind and outcome",
		}, []string{"kind", "outcome"}),
		assistantRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "assistant",
			Name:      "runs_total",
			Help:      "Assistant runs by final status",
		}, []string{"status"}),
		assistantLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "assistant",
			Name:      "run_seconds",
			Help:      "Wall time from run creation to terminal status",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"status"}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "assistant",
			Name:      "lock_conflicts_total",
			Help:      "processWithAI calls rejected because the conversation was busy",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookEvents, m.webhookLatency, m.messagesStored, m.outboundTotal,
		m.assistantRuns, m.assistantLatency, m.lockContention)
	return m
}

func (m *RelayMetrics) ObserveWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *RelayMetrics) ObserveWebhookLatency(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *RelayMetrics) ObserveMessageStored(direction, kind string) {
	if m == nil {
		return
	}
	m.messagesStored.WithLabelValues(direction, kind).Inc()
}

func (m *RelayMetrics) ObserveOutbound(kind, outcome string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *RelayMetrics) ObserveAssistantRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.assistantRuns.WithLabelValues(status).Inc()
	m.assistantLatency.WithLabelValues(status).Observe(d.Seconds())
}

func (m *RelayMetrics) ObserveLockConflict() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}
