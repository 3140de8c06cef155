package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quizroom"

// Answer results.
const (
	AnswerCorrect = "correct"
	AnswerWrong   = "wrong"
	AnswerIgnored = "ignored"
)

// Metrics holds the server's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	connections      prometheus.Gauge
	sessionsStarted  prometheus.Counter
	sessionsFinished prometheus.Counter
	answers          *prometheus.CounterVec
	decodeErrors     prometheus.Counter
	droppedMessages  prometheus.Counter
	sendFailures     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open WebSocket connections.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Number of quiz sessions started.",
		}),
		sessionsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Number of quiz sessions finished.",
		}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Answers received, by result.",
		}, []string{"result"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound messages that could not be decoded.",
		}),
		droppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Inbound messages dropped by the rate limiter.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Outbound messages that could not be queued to a connection.",
		}),
	}

	reg.MustRegister(
		m.connections,
		m.sessionsStarted,
		m.sessionsFinished,
		m.answers,
		m.decodeErrors,
		m.droppedMessages,
		m.sendFailures,
	)

	return m
}

// RegisterRooms exposes the number of tracked rooms, read from fn at scrape time.
func RegisterRooms(reg prometheus.Registerer, fn func() float64) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Number of rooms waiting for players or playing.",
	}, fn))
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}

func (m *Metrics) SessionFinished() {
	if m != nil {
		m.sessionsFinished.Inc()
	}
}

func (m *Metrics) Answer(result string) {
	if m != nil {
		m.answers.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) DecodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) MessageDropped() {
	if m != nil {
		m.droppedMessages.Inc()
	}
}

func (m *Metrics) SendFailed(n int) {
	if m != nil && n > 0 {
		m.sendFailures.Add(float64(n))
	}
}
