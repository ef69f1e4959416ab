package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChallengesIssued prometheus.Counter
	LoginAttempts    *prometheus.CounterVec
	LoginDuration    prometheus.Histogram
}

// NewMetrics registers the gateway metrics with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		ChallengesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "signon_challenges_issued_total",
			Help: "Login challenges issued",
		}),
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signon_login_attempts_total",
			Help: "Login verifications by outcome",
		}, []string{"outcome"}),
		LoginDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "signon_login_duration_seconds",
			Help:    "Time spent verifying a login",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
