// Package telemetry is the engine's observational surface: prometheus
// counters/histograms updated from Engine/ObjEngine callbacks; the
// PhaseDuration histogram is registered but nothing observes it. Nothing in
// here feeds back into synchronization logic — per spec.md's design note
// that no engine semantic depends on trace/metrics state.
package telemetry

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Registry bundles every metric the engine reports. A nil *Registry is a
// valid no-op (every method handles nil receivers), so components never
// need a separate "metrics enabled" flag.
type Registry struct {
	reg *prometheus.Registry

	SyncRunsTotal    *prometheus.CounterVec
	ConflictsTotal   *prometheus.CounterVec
	PhaseDuration    *prometheus.HistogramVec
	SinkErrorsTotal  *prometheus.CounterVec
}

// NewRegistry builds and registers a fresh metric set.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		SyncRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncengine",
			Name:      "runs_total",
			Help:      "Completed synchronization runs by outcome.",
		}, []string{"outcome"}),
		ConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncengine",
			Name:      "conflicts_total",
			Help:      "Mapping conflicts by resolution applied.",
		}, []string{"resolution"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "syncengine",
			Name:      "phase_duration_seconds",
			Help:      "Wall time spent in each ObjEngine phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"objtype", "phase"}),
		SinkErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncengine",
			Name:      "sink_errors_total",
			Help:      "PeerProxy call errors by object type and member.",
		}, []string{"objtype", "member"}),
	}

	reg.MustRegister(r.SyncRunsTotal, r.ConflictsTotal, r.PhaseDuration, r.SinkErrorsTotal)
	return r
}

// DumpText renders the current metric snapshot in the legacy Prometheus
// text exposition format, using prometheus/common/expfmt the way the
// teacher's own core/transport.go already imports prometheus/common.
func (r *Registry) DumpText() (string, error) {
	if r == nil {
		return "", nil
	}
	families, err := r.reg.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func (r *Registry) ObserveRun(outcome string) {
	if r == nil {
		return
	}
	r.SyncRunsTotal.WithLabelValues(outcome).Inc()
}

func (r *Registry) ObserveConflict(resolution string) {
	if r == nil {
		return
	}
	r.ConflictsTotal.WithLabelValues(resolution).Inc()
}

func (r *Registry) ObservePhase(objtype, phase string, seconds float64) {
	if r == nil {
		return
	}
	r.PhaseDuration.WithLabelValues(objtype, phase).Observe(seconds)
}

func (r *Registry) ObserveSinkError(objtype, member string) {
	if r == nil {
		return
	}
	r.SinkErrorsTotal.WithLabelValues(objtype, member).Inc()
}
