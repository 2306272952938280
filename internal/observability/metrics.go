package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tma_auth"

// Result labels
const (
	ResultSuccess  = "success"
	ResultExisting = "existing"
	ResultCreated  = "created"
	ResultFailed   = "failed"
)

// Metrics holds the exchange collectors. A nil *Metrics records nothing.
type Metrics struct {
	verifications *prometheus.CounterVec
	provisioning  *prometheus.CounterVec
	issuance      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Init data verifications by result (success or error kind).",
		}, []string{"result"}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_total",
			Help:      "Account provisioning outcomes.",
		}, []string{"result"}),
		issuance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issuance_total",
			Help:      "Token issuance outcomes.",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Duration of init data exchanges.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.verifications, m.provisioning, m.issuance, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordVerification counts a verification outcome. result is ResultSuccess
// or an error kind.
func (m *Metrics) RecordVerification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

// RecordProvisioning counts a provisioning outcome.
func (m *Metrics) RecordProvisioning(result string) {
	if m == nil {
		return
	}
	m.provisioning.WithLabelValues(result).Inc()
}

// RecordIssuance counts a token issuance outcome.
func (m *Metrics) RecordIssuance(result string) {
	if m == nil {
		return
	}
	m.issuance.WithLabelValues(result).Inc()
}

// ObserveExchange records how long an exchange took.
func (m *Metrics) ObserveExchange(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(result).Observe(d.Seconds())
}
