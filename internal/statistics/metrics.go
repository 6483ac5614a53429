package statistics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sunbk201/clickrelay/internal/relay"
)

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	Resolves         *prometheus.CounterVec
	ExchangeDuration prometheus.Histogram
	ExchangeErrors   *prometheus.CounterVec
	LandingRequests  *prometheus.CounterVec
	RateLimited      prometheus.Counter
	SessionsActive   prometheus.GaugeFunc
}

// NewMetrics registers the collectors with reg. sessions, when non-nil,
// reports the live session count.
func NewMetrics(reg prometheus.Registerer, sessions func() int) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		Resolves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clickrelay_resolves_total",
				Help: "Verdict resolutions by source",
			},
			[]string{"source"},
		),
		ExchangeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clickrelay_exchange_duration_seconds",
				Help:    "Tracker exchange duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		ExchangeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clickrelay_exchange_errors_total",
				Help: "Failed tracker exchanges by error kind",
			},
			[]string{"kind"},
		),
		LandingRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clickrelay_landing_requests_total",
				Help: "Landing requests by outcome",
			},
			[]string{"outcome"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "clickrelay_rate_limited_total",
				Help: "Landing requests rejected by the rate limiter",
			},
		),
	}
	if sessions != nil {
		m.SessionsActive = factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "clickrelay_sessions_active",
				Help: "Visitor sessions held in memory",
			},
			func() float64 { return float64(sessions()) },
		)
	}
	return m
}

func sourceLabel(source relay.Source) string {
	if source == relay.SourceNone {
		return "none"
	}
	return string(source)
}

func errorKind(err error) string {
	var te *relay.TransportError
	if errors.As(err, &te) {
		return string(te.Kind)
	}
	return string(relay.KindUnknown)
}

func (m *Metrics) observeResolve(source relay.Source) {
	m.Resolves.WithLabelValues(sourceLabel(source)).Inc()
}

func (m *Metrics) observeExchange(elapsed time.Duration, err error) {
	m.ExchangeDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.ExchangeErrors.WithLabelValues(errorKind(err)).Inc()
	}
}
