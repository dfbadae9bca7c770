package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agora.org/internal/governance"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Init registers the HTTP metrics in the default registry.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight, count and latency for every request. Paths are
// canonicalised so identifiers do not explode label cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// collections whose next path segment is an identifier.
var collections = map[string]bool{
	"groups":        true,
	"join-requests": true,
	"proposals":     true,
}

// CanonicalPath replaces identifier segments of API paths with ":id".
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	segs := strings.Split(strings.Trim(p, "/"), "/")
	if len(segs) < 3 || segs[0] != "v1" {
		return p
	}
	for i := 1; i < len(segs)-1; i++ {
		if collections[segs[i]] && !collections[segs[i+1]] && segs[i+1] != "history" {
			segs[i+1] = ":id"
			i++
		}
	}
	return "/" + strings.Join(segs, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// GovernanceMetrics implements governance.Metrics on Prometheus collectors.
type GovernanceMetrics struct {
	proposalsCreated    *prometheus.CounterVec
	resolutions         *prometheus.CounterVec
	votes               *prometheus.CounterVec
	notificationsFailed prometheus.Counter
	sweepResolved       prometheus.Counter
}

var _ governance.Metrics = (*GovernanceMetrics)(nil)

// NewGovernanceMetrics creates the collectors and registers them with reg.
func NewGovernanceMetrics(reg prometheus.Registerer) (*GovernanceMetrics, error) {
	m := &GovernanceMetrics{
		proposalsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_proposals_created_total",
			Help: "Proposals opened, by category and action.",
		}, []string{"category", "action"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_resolutions_total",
			Help: "Join requests and proposals resolved, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_votes_total",
			Help: "Ballots cast, by kind.",
		}, []string{"kind"}),
		notificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governance_notifications_failed_total",
			Help: "Notifications the notifier failed to accept.",
		}),
		sweepResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governance_sweep_resolved_total",
			Help: "Proposals resolved by the expiry sweep.",
		}),
	}
	for _, c := range []prometheus.Collector{m.proposalsCreated, m.resolutions, m.votes, m.notificationsFailed, m.sweepResolved} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *GovernanceMetrics) ProposalCreated(category governance.Category, action governance.ActionType) {
	m.proposalsCreated.WithLabelValues(string(category), string(action)).Inc()
}

func (m *GovernanceMetrics) Resolved(kind, outcome string) {
	m.resolutions.WithLabelValues(kind, outcome).Inc()
}

func (m *GovernanceMetrics) VoteCast(kind string) { m.votes.WithLabelValues(kind).Inc() }

func (m *GovernanceMetrics) NotificationFailed() { m.notificationsFailed.Inc() }

func (m *GovernanceMetrics) SweepResolved(n int) { m.sweepResolved.Add(float64(n)) }
