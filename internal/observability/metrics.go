package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inapp_messaging"

// SDK metrics.
var (
	EventsLogged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_logged_total",
			Help:      "Events logged by the host app, by event type.",
		}, []string{"type"},
	)
	CampaignsMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "campaigns_matched_total",
		Help:      "Campaigns queued for display by a matching pass.",
	})
	Pings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pings_total",
			Help:      "Catalog pings by result.",
		}, []string{"result"},
	)
	NextPingDelay = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "next_ping_delay_seconds",
		Help:      "Delay until the next scheduled ping.",
	})
	PermissionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "display_permission_checks_total",
			Help:      "Display permission checks by outcome.",
		}, []string{"outcome"},
	)
	Displays = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "campaigns_displayed_total",
		Help:      "Campaigns handed to the display surface.",
	})
	Impressions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "impression_reports_total",
			Help:      "Impression reports by delivery result.",
		}, []string{"result"},
	)
	WorkSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_submitted_total",
			Help:      "Jobs accepted by the work queue, by key.",
		}, []string{"key"},
	)
	WorkFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_failed_total",
			Help:      "Jobs that exhausted retries or failed irrecoverably, by key.",
		}, []string{"key"},
	)
)

// Backend HTTP metrics.
var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total backend requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_request_duration_seconds",
		Help:      "Request latency seconds",
		Buckets:   prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backend_in_flight",
		Help:      "In-flight HTTP requests",
	})
)

func init() {
	prometheus.MustRegister(
		EventsLogged, CampaignsMatched, Pings, NextPingDelay, PermissionChecks, Displays,
		Impressions, WorkSubmitted, WorkFailed,
		RequestsTotal, Latency, InFlight,
	)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
