package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for OperationsTotal.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Memory holds Prometheus instruments for the teaching memory facade.
//
// Metrics:
//   - tutormem_memory_operations_total{op,outcome}
//   - tutormem_memory_operation_duration_seconds{op}
//   - tutormem_memory_topic_deviation_total
//   - tutormem_memory_topic_switches_total
type Memory struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	DeviationsTotal   prometheus.Counter
	TopicSwitchTotal  prometheus.Counter
}

// NewMemory creates the instruments and registers them with reg. A nil reg
// leaves them unregistered, which is what tests and one-shot CLI runs want.
func NewMemory(reg prometheus.Registerer) (*Memory, error) {
	m := &Memory{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tutormem",
				Subsystem: "memory",
				Name:      "operations_total",
				Help:      "Total number of teaching memory operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tutormem",
				Subsystem: "memory",
				Name:      "operation_duration_seconds",
				Help:      "Duration of teaching memory operations in seconds",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"op"},
		),
		DeviationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutormem",
			Subsystem: "memory",
			Name:      "topic_deviation_total",
			Help:      "Number of deviation checks that reported the learner off topic",
		}),
		TopicSwitchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutormem",
			Subsystem: "memory",
			Name:      "topic_switches_total",
			Help:      "Number of topic segments closed by a topic change",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.OperationsTotal, m.OperationDuration, m.DeviationsTotal, m.TopicSwitchTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe records one finished operation.
func (m *Memory) Observe(op, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op, outcome).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Memory) Deviation() {
	if m == nil {
		return
	}
	m.DeviationsTotal.Inc()
}

func (m *Memory) TopicSwitch() {
	if m == nil {
		return
	}
	m.TopicSwitchTotal.Inc()
}
