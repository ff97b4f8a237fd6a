package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "paymentservice"

// Handshake outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the Prometheus collectors for the bridge. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	mu sync.Mutex

	invocationsTotal *prometheus.CounterVec
	abortedTotal     *prometheus.CounterVec
	publishedTotal   prometheus.Counter
	failedTotal      *prometheus.CounterVec
	handshakesTotal  *prometheus.CounterVec
	releasesTotal    prometheus.Counter
	publishDuration  prometheus.Histogram

	registerer prometheus.Registerer
	registered bool
}

// New creates the collectors. Call Register to expose them.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer: registerer,
		invocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Invocations handled, by reported status code",
		}, []string{"status"}),
		abortedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_aborted_total",
			Help:      "Invocations that reported 500, by error kind",
		}, []string{"kind"}),
		publishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_published_total",
			Help:      "Payment confirmations published to the response queue",
		}),
		failedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_failed_total",
			Help:      "Inbound messages that did not produce a confirmation, by error kind",
		}, []string{"kind"}),
		handshakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "handshakes_total",
			Help:      "Broker connection establishment attempts",
		}, []string{"outcome"}),
		releasesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "releases_total",
			Help:      "Cached broker connections released",
		}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent publishing one confirmation",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.invocationsTotal,
		m.abortedTotal,
		m.publishedTotal,
		m.failedTotal,
		m.handshakesTotal,
		m.releasesTotal,
		m.publishDuration,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			// Check if it's already registered (not an error)
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) ObserveInvocation(statusCode int) {
	if m == nil {
		return
	}
	m.invocationsTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (m *Metrics) ObserveAborted(kind string) {
	if m == nil {
		return
	}
	m.abortedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObservePublished(d time.Duration) {
	if m == nil {
		return
	}
	m.publishedTotal.Inc()
	m.publishDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveFailure(kind string) {
	if m == nil {
		return
	}
	m.failedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveHandshake(err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.handshakesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRelease() {
	if m == nil {
		return
	}
	m.releasesTotal.Inc()
}
