// Package metrics records service metrics in Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the service's collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	dispatches     *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	swapFailures   *prometheus.CounterVec
	providerCalls  *prometheus.HistogramVec
	dispatchTime   prometheus.Histogram
	unitsInFlight  prometheus.Gauge
	lastPrice      *prometheus.GaugeVec
	intakeMessages *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultsignal_dispatches_total",
			Help: "Signals dispatched, by direction and result",
		}, []string{"direction", "result"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultsignal_outcomes_total",
			Help: "Per-account outcomes settled, by status",
		}, []string{"status"}),
		swapFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultsignal_swap_failures_total",
			Help: "Failed swap executions, by reason",
		}, []string{"reason"}),
		providerCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vaultsignal_provider_request_duration_seconds",
			Help:    "External provider call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "result"}),
		dispatchTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultsignal_dispatch_duration_seconds",
			Help:    "Time from signal intake until every account unit settled",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		unitsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultsignal_account_units_in_flight",
			Help: "Account units currently running",
		}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultsignal_last_price",
			Help: "Last resolved price per symbol",
		}, []string{"symbol"}),
		intakeMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultsignal_intake_messages_total",
			Help: "Stream intake messages, by result",
		}, []string{"result"}),
	}
}

// RecordDispatch records one dispatch call.
func (r *Recorder) RecordDispatch(direction, result string, took time.Duration) {
	if r == nil {
		return
	}
	r.dispatches.WithLabelValues(direction, result).Inc()
	if result == "ok" {
		r.dispatchTime.Observe(took.Seconds())
	}
}

// RecordOutcome records one settled account outcome.
func (r *Recorder) RecordOutcome(status string) {
	if r == nil {
		return
	}
	r.outcomes.WithLabelValues(status).Inc()
}

// RecordSwapFailure records a failed swap.
func (r *Recorder) RecordSwapFailure(reason string) {
	if r == nil {
		return
	}
	r.swapFailures.WithLabelValues(reason).Inc()
}

// RecordProviderCall records an external provider round trip.
func (r *Recorder) RecordProviderCall(provider string, err error, took time.Duration) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.providerCalls.WithLabelValues(provider, result).Observe(took.Seconds())
}

// UnitStarted and UnitDone track in-flight account units.
func (r *Recorder) UnitStarted() {
	if r == nil {
		return
	}
	r.unitsInFlight.Inc()
}

func (r *Recorder) UnitDone() {
	if r == nil {
		return
	}
	r.unitsInFlight.Dec()
}

// RecordPrice records the latest price for symbol.
func (r *Recorder) RecordPrice(symbol string, price float64) {
	if r == nil {
		return
	}
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordIntake records a stream intake message.
func (r *Recorder) RecordIntake(result string) {
	if r == nil {
		return
	}
	r.intakeMessages.WithLabelValues(result).Inc()
}
