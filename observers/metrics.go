package observers

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	fluo "github.com/anggasct/fluo-asyncguards"
)

// MetricsObserver collects prometheus metrics about state machine execution
type MetricsObserver struct {
	fluo.BaseObserver

	transitions *prometheus.CounterVec
	entries     *prometheus.CounterVec
	timeInState *prometheus.HistogramVec
	rejected    *prometheus.CounterVec
	errors      prometheus.Counter

	mutex          sync.Mutex
	lastStateEntry map[string]time.Time
}

// NewMetricsObserver creates a new metrics observer and registers it with reg when not nil
func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	o := &MetricsObserver{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluo",
			Name:      "transitions_total",
			Help:      "Transitions taken, by source and target state.",
		}, []string{"from", "to"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluo",
			Name:      "state_entries_total",
			Help:      "State entries, by state.",
		}, []string{"state"}),
		timeInState: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fluo",
			Name:      "state_duration_seconds",
			Help:      "Time spent in a state between entry and exit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluo",
			Name:      "events_rejected_total",
			Help:      "Events without an enabled transition, by event name.",
		}, []string{"event"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fluo",
			Name:      "errors_total",
			Help:      "Errors reported by the state machine.",
		}),
		lastStateEntry: make(map[string]time.Time),
	}
	if reg != nil {
		reg.MustRegister(o.Collectors()...)
	}
	return o
}

// Collectors returns the observer's prometheus collectors
func (o *MetricsObserver) Collectors() []prometheus.Collector {
	return []prometheus.Collector{o.transitions, o.entries, o.timeInState, o.rejected, o.errors}
}

// OnStateEnter records state entry metrics
func (o *MetricsObserver) OnStateEnter(state string, ctx fluo.Context) {
	o.entries.WithLabelValues(state).Inc()

	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.lastStateEntry[state] = time.Now()
}

// OnStateExit records the time spent in the state
func (o *MetricsObserver) OnStateExit(state string, ctx fluo.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if entryTime, ok := o.lastStateEntry[state]; ok {
		o.timeInState.WithLabelValues(state).Observe(time.Since(entryTime).Seconds())
		delete(o.lastStateEntry, state)
	}
}

// OnTransition records transition metrics
func (o *MetricsObserver) OnTransition(from string, to string, event fluo.Event, ctx fluo.Context) {
	o.transitions.WithLabelValues(from, to).Inc()
}

// OnEventRejected records rejected events
func (o *MetricsObserver) OnEventRejected(event fluo.Event, reason string, ctx fluo.Context) {
	name := ""
	if event != nil {
		name = event.GetName()
	}
	o.rejected.WithLabelValues(name).Inc()
}

// OnError records error metrics
func (o *MetricsObserver) OnError(err error, ctx fluo.Context) {
	o.errors.Inc()
}
