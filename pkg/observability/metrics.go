// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring inbound authentication and outbound host calls.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// HostBuckets defines histogram buckets for calls to the host product,
// ranging from 10ms to 30s.
var HostBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

var (
	// RequestsTotal counts inbound HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connectauth_http_requests_total",
			Help: "Total inbound requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records inbound HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connectauth_http_request_duration_seconds",
			Help:    "Inbound request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// AuthAttemptsTotal counts inbound authentication decisions by scheme
	// (jwt, oauth1, session, bypass) and outcome (success, rejected, error).
	AuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connectauth_auth_attempts_total",
			Help: "Inbound authentication attempts",
		},
		[]string{"scheme", "outcome"},
	)

	// NonceLedgerEntries tracks the number of nonces held by in-memory ledgers.
	NonceLedgerEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "connectauth_nonce_ledger_entries",
			Help: "Nonces currently held in the replay window",
		},
	)

	// HostRequestsTotal counts outbound calls to the host by method, status
	// class and authorization kind (jwt, bearer).
	HostRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connectauth_host_requests_total",
			Help: "Outbound host requests",
		},
		[]string{"method", "status", "auth"},
	)

	// HostRequestDuration records outbound host call latency in seconds.
	HostRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connectauth_host_request_duration_seconds",
			Help:    "Outbound host request latency",
			Buckets: HostBuckets,
		},
		[]string{"method"},
	)

	// TokenExchangesTotal counts impersonation token exchanges by outcome.
	TokenExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connectauth_token_exchanges_total",
			Help: "Impersonation token exchanges",
		},
		[]string{"status"},
	)

	// ImpersonationCacheTotal counts impersonation cache lookups by result (hit, miss).
	ImpersonationCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connectauth_impersonation_cache_total",
			Help: "Impersonation token cache lookups",
		},
		[]string{"result"},
	)

	// RateLimitRejectedTotal counts requests rejected by the per-tenant rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connectauth_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tenant"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AuthAttemptsTotal,
		NonceLedgerEntries,
		HostRequestsTotal,
		HostRequestDuration,
		TokenExchangesTotal,
		ImpersonationCacheTotal,
		RateLimitRejectedTotal,
	)
}

// StatusClass renders an HTTP status code as "2xx", "4xx" and so on.
// Zero (no response) renders as "error".
func StatusClass(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
