package antipark

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the control loop's operational counters to
// Prometheus. All updates happen on the engine goroutine; the
// collectors themselves are safe to scrape concurrently.
type Metrics struct {
	// Cycles counts head load/unload events the loop caused or
	// allowed, the wear metric the daemon exists to keep low.
	Cycles prometheus.Counter

	// Touches counts anti-park touch writes.
	Touches prometheus.Counter

	// Flushes counts forced system-wide write-back flushes.
	Flushes prometheus.Counter

	// IdleSeconds accumulates time spent in PARKED or IDLE.
	IdleSeconds prometheus.Counter

	// TickSeconds observes the wall time consumed by each tick body.
	TickSeconds prometheus.Histogram

	state *prometheus.GaugeVec
}

// NewMetrics builds the collector set, registering it with reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "antiparkd",
			Name:      "parking_cycles_total",
			Help:      "Head load/unload cycles caused or allowed by the daemon.",
		}),
		Touches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "antiparkd",
			Name:      "touch_writes_total",
			Help:      "Anti-park touch writes performed.",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "antiparkd",
			Name:      "flushes_total",
			Help:      "Forced system-wide write-back flushes.",
		}),
		IdleSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "antiparkd",
			Name:      "idle_seconds_total",
			Help:      "Time spent in the PARKED or IDLE states.",
		}),
		TickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "antiparkd",
			Name:      "tick_duration_seconds",
			Help:      "Wall time consumed by each control-loop tick body.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 10, 6),
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "antiparkd",
			Name:      "state",
			Help:      "Control-loop state; 1 on the active state's label.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(m.Cycles, m.Touches, m.Flushes, m.IdleSeconds, m.TickSeconds, m.state)
	}
	return m
}

// setState marks s as the single active state.
func (m *Metrics) setState(s State) {
	for _, st := range []State{StateAntiPark, StateParked, StateIdle} {
		var v float64
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(st.String()).Set(v)
	}
}

func (m *Metrics) observeTick(d time.Duration) {
	m.TickSeconds.Observe(d.Seconds())
}
