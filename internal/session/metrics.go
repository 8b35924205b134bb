package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/cubestack/internal/match"
	"github.com/annel0/cubestack/internal/protocol"
)

// Metrics - Prometheus-метрики матча. Реализует replication.Sink;
// методы безопасны для nil-получателя.
type Metrics struct {
	tickDuration   prometheus.Histogram
	score          prometheus.Gauge
	best           prometheus.Gauge
	state          *prometheus.GaugeVec
	dropInterval   prometheus.Gauge
	events         *prometheus.CounterVec
	layersCleared  prometheus.Counter
	piecesFrozen   prometheus.Counter
	intents        *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	intentsDropped prometheus.Counter
}

var trackedStates = []match.State{match.Waiting, match.Playing, match.Paused, match.GameOver, match.Victory}

// NewMetrics создаёт метрики и регистрирует их в reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "match",
			Name:      "tick_duration_seconds",
			Help:      "Длительность одного тика хоста.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		score: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "match",
			Name:      "score",
			Help:      "Текущий счёт.",
		}),
		best: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "match",
			Name:      "best_score",
			Help:      "Рекорд.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "match",
			Name:      "state",
			Help:      "1 для текущего состояния матча.",
		}, []string{"state"}),
		dropInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "match",
			Name:      "drop_interval_seconds",
			Help:      "Текущий интервал падения фигуры.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "match",
			Name:      "events_total",
			Help:      "События репликации по типу.",
		}, []string{"kind"}),
		layersCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "match",
			Name:      "layers_cleared_total",
			Help:      "Очищенные слои.",
		}),
		piecesFrozen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "match",
			Name:      "pieces_frozen_total",
			Help:      "Замороженные фигуры.",
		}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "match",
			Name:      "intents_total",
			Help:      "Полученные намерения по типу.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "match",
			Name:      "intents_rejected_total",
			Help:      "Отклонённые намерения вне фигуры.",
		}, []string{"kind"}),
		intentsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "match",
			Name:      "intents_dropped_total",
			Help:      "Намерения, отброшенные из-за переполненной очереди.",
		}),
	}
	reg.MustRegister(m.tickDuration, m.score, m.best, m.state, m.dropInterval,
		m.events, m.layersCleared, m.piecesFrozen, m.intents, m.rejected, m.intentsDropped)
	return m
}

// Observe реализует replication.Sink
func (m *Metrics) Observe(ev *protocol.Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(ev.Kind.String()).Inc()
	switch ev.Kind {
	case protocol.KindPieceFrozen:
		m.piecesFrozen.Inc()
	case protocol.KindLayersCleared:
		m.layersCleared.Add(float64(len(ev.LayersCleared.Steps)))
	}
}

func (m *Metrics) observeTick(mt *match.Match, d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
	m.score.Set(float64(mt.Score()))
	m.best.Set(float64(mt.Best()))
	m.dropInterval.Set(mt.DropInterval())
	current := mt.State()
	for _, st := range trackedStates {
		v := 0.0
		if st == current {
			v = 1
		}
		m.state.WithLabelValues(st.String()).Set(v)
	}
}

func (m *Metrics) intent(kind protocol.IntentKind) {
	if m != nil {
		m.intents.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) intentRejected(kind protocol.IntentKind) {
	if m != nil {
		m.rejected.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) intentDropped() {
	if m != nil {
		m.intentsDropped.Inc()
	}
}
