// Package metrics exposes Prometheus instrumentation for the notification
// feed. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetdash"

// Recorder owns a private registry so tests and multiple sessions in one
// process don't collide on the default registerer.
type Recorder struct {
	registry *prometheus.Registry

	eventsApplied   *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	reconnects      prometheus.Counter
	resyncs         *prometheus.CounterVec
	acks            *prometheus.CounterVec
	connectionState prometheus.Gauge
	feedSize        *prometheus.GaugeVec
}

// New registers all feed collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		eventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Push events applied to the store, by kind.",
		}, []string{"kind"}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Push frames or items dropped during decoding, by reason.",
		}, []string{"reason"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Push channel reconnect attempts.",
		}),
		resyncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resyncs_total",
			Help:      "Full resyncs, by result.",
		}, []string{"result"}),
		acks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_acks_total",
			Help:      "Backend acknowledgements of optimistic mutations, by operation and result.",
		}, []string{"op", "result"}),
		connectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "0=disconnected 1=connecting 2=connected 3=reconnecting.",
		}),
		feedSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications",
			Help:      "Notifications currently held in the store.",
		}, []string{"state"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) EventApplied(kind string) {
	if r == nil {
		return
	}
	r.eventsApplied.WithLabelValues(kind).Inc()
}

func (r *Recorder) EventDropped(reason string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.eventsDropped.WithLabelValues(reason).Add(float64(n))
}

func (r *Recorder) Reconnect() {
	if r == nil {
		return
	}
	r.reconnects.Inc()
}

func (r *Recorder) Resync(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.resyncs.WithLabelValues(result).Inc()
}

func (r *Recorder) Ack(op string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.acks.WithLabelValues(op, result).Inc()
}

// ConnectionState records the numeric channel state.
func (r *Recorder) ConnectionState(state int) {
	if r == nil {
		return
	}
	r.connectionState.Set(float64(state))
}

// FeedSize records the total and unread counts.
func (r *Recorder) FeedSize(total, unread int) {
	if r == nil {
		return
	}
	r.feedSize.WithLabelValues("total").Set(float64(total))
	r.feedSize.WithLabelValues("unread").Set(float64(unread))
}
