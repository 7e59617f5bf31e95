// Package metrics collects and exposes Prometheus metrics for the identity
// flows.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the interface services record against.
type Collector interface {
	RecordOTPIssued(purpose string)
	RecordOTPVerification(outcome string)
	RecordOAuthExchange(outcome string)
	RecordTokenRefresh(outcome string)
	RecordCleanupDeleted(count int)
}

// PromCollector implements Collector on a Prometheus registry.
type PromCollector struct {
	otpIssued      *prometheus.CounterVec
	otpVerified    *prometheus.CounterVec
	oauthExchanges *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	cleanupDeleted prometheus.Counter
}

// NewCollector creates a PromCollector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *PromCollector {
	c := &PromCollector{
		otpIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_otp_issued_total",
			Help: "OTP codes issued, by purpose.",
		}, []string{"purpose"}),
		otpVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_otp_verifications_total",
			Help: "OTP verification attempts, by outcome.",
		}, []string{"outcome"}),
		oauthExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_oauth_exchanges_total",
			Help: "Instagram OAuth handshakes, by outcome.",
		}, []string{"outcome"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_token_refreshes_total",
			Help: "Instagram token refreshes, by outcome.",
		}, []string{"outcome"}),
		cleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_otp_cleanup_deleted_total",
			Help: "OTP records removed by the cleanup sweep.",
		}),
	}

	reg.MustRegister(
		c.otpIssued,
		c.otpVerified,
		c.oauthExchanges,
		c.tokenRefreshes,
		c.cleanupDeleted,
	)

	return c
}

func (c *PromCollector) RecordOTPIssued(purpose string) {
	c.otpIssued.WithLabelValues(purpose).Inc()
}

func (c *PromCollector) RecordOTPVerification(outcome string) {
	c.otpVerified.WithLabelValues(outcome).Inc()
}

func (c *PromCollector) RecordOAuthExchange(outcome string) {
	c.oauthExchanges.WithLabelValues(outcome).Inc()
}

func (c *PromCollector) RecordTokenRefresh(outcome string) {
	c.tokenRefreshes.WithLabelValues(outcome).Inc()
}

func (c *PromCollector) RecordCleanupDeleted(count int) {
	c.cleanupDeleted.Add(float64(count))
}

// Handler returns the /metrics HTTP handler for the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Nop is a Collector that discards everything; used in tests and when
// metrics are disabled.
type Nop struct{}

func (Nop) RecordOTPIssued(string)       {}
func (Nop) RecordOTPVerification(string) {}
func (Nop) RecordOAuthExchange(string)   {}
func (Nop) RecordTokenRefresh(string)    {}
func (Nop) RecordCleanupDeleted(int)     {}
