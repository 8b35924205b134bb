package network

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/cubestack/internal/protocol"
)

// Metrics - Prometheus-метрики сетевого сервера.
// Методы безопасны для nil-получателя.
type Metrics struct {
	active           prometheus.Gauge
	connections      prometheus.Counter
	handshakeFailure prometheus.Counter
	sentTotal        prometheus.Counter
	droppedTotal     prometheus.Counter
	receivedTotal    *prometheus.CounterVec
}

// NewMetrics создаёт метрики и регистрирует их в reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "network",
			Name:      "connections_active",
			Help:      "Текущее число участников с завершённым рукопожатием.",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "network",
			Name:      "connections_total",
			Help:      "Общее число успешных подключений.",
		}),
		handshakeFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "network",
			Name:      "handshake_failures_total",
			Help:      "Рукопожатия, завершившиеся ошибкой.",
		}),
		sentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "network",
			Name:      "events_sent_total",
			Help:      "События, поставленные в очередь отправки.",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "network",
			Name:      "events_dropped_total",
			Help:      "События, отброшенные из-за переполненной очереди.",
		}),
		receivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "network",
			Name:      "messages_received_total",
			Help:      "Полученные сообщения по типу.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.active, m.connections, m.handshakeFailure, m.sentTotal, m.droppedTotal, m.receivedTotal)
	return m
}

func (m *Metrics) connected() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.active.Inc()
}

func (m *Metrics) disconnected() {
	if m != nil {
		m.active.Dec()
	}
}

func (m *Metrics) handshakeFailed() {
	if m != nil {
		m.handshakeFailure.Inc()
	}
}

func (m *Metrics) sent() {
	if m != nil {
		m.sentTotal.Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.droppedTotal.Inc()
	}
}

func (m *Metrics) received(t protocol.MsgType) {
	if m != nil {
		m.receivedTotal.WithLabelValues(strconv.Itoa(int(t))).Inc()
	}
}
