package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	IncomingMessages *prometheus.CounterVec
	OutgoingMessages *prometheus.CounterVec
	BitnobRequests   *prometheus.CounterVec
	BitnobLatency    *prometheus.HistogramVec
	TwilioRequests   *prometheus.CounterVec
	OTPIssued        *prometheus.CounterVec
	OTPVerified      *prometheus.CounterVec
	Transactions     *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			IncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "incoming_messages_total",
				Help:      "Total inbound chat messages processed by intent.",
			}, []string{"intent"}),
			OutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outgoing_messages_total",
				Help:      "Total outbound messages sent by channel.",
			}, []string{"channel"}),
			BitnobRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bitnob_requests_total",
				Help:      "Total Bitnob API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			BitnobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bitnob_request_duration_seconds",
				Help:      "Latency distribution for Bitnob API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			TwilioRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "twilio_requests_total",
				Help:      "Total Twilio API requests by channel and outcome.",
			}, []string{"channel", "status"}),
			OTPIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "otp_issued_total",
				Help:      "Total OTPs issued by purpose.",
			}, []string{"purpose"}),
			OTPVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "otp_verified_total",
				Help:      "Total OTP verification attempts by outcome.",
			}, []string{"outcome"}),
			Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total transaction state transitions by resulting status.",
			}, []string{"status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.IncomingMessages,
			metricsInstance.OutgoingMessages,
			metricsInstance.BitnobRequests,
			metricsInstance.BitnobLatency,
			metricsInstance.TwilioRequests,
			metricsInstance.OTPIssued,
			metricsInstance.OTPVerified,
			metricsInstance.Transactions,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
