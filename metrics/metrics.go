// Package metrics exposes the server counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Protocol labels
const (
	ProtocolFTP  = "ftp"
	ProtocolFTPS = "ftps"
	ProtocolSFTP = "sftp"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpserver_connections_total",
			Help: "Total number of connections established",
		},
		[]string{"protocol"},
	)

	ConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ftpserver_connections_current",
			Help: "Current number of active connections",
		},
		[]string{"protocol"},
	)

	ConnectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ftpserver_connection_duration_seconds",
			Help:    "Duration of connections in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)

	AuthenticationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpserver_authentication_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"protocol", "result"},
	)
)

// Command and transfer metrics
var (
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpserver_commands_total",
			Help: "Total number of commands processed, by verb and reply class",
		},
		[]string{"command", "class"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ftpserver_command_duration_seconds",
			Help:    "Duration of command handling in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"command"},
	)

	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpserver_transfers_total",
			Help: "Total number of data transfers",
		},
		[]string{"command", "result"},
	)

	BytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpserver_bytes_transferred_total",
			Help: "Total number of bytes transferred on data connections",
		},
		[]string{"direction"},
	)
)

// ConnectionOpened counts a new connection and returns the func to call when it closes.
func ConnectionOpened(protocol string) func() {
	start := time.Now()
	ConnectionsTotal.WithLabelValues(protocol).Inc()
	ConnectionsCurrent.WithLabelValues(protocol).Inc()
	return func() {
		ConnectionsCurrent.WithLabelValues(protocol).Dec()
		ConnectionDuration.WithLabelValues(protocol).Observe(time.Since(start).Seconds())
	}
}

// Authentication records one login attempt.
func Authentication(protocol string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	AuthenticationAttempts.WithLabelValues(protocol, result).Inc()
}

// Command records a handled command with the class of its reply, for example "2xx".
func Command(command, class string, elapsed time.Duration) {
	CommandsTotal.WithLabelValues(command, class).Inc()
	CommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// Transfer records a finished data transfer, direction is "upload" or "download".
func Transfer(command, direction string, n int64, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	TransfersTotal.WithLabelValues(command, result).Inc()
	if n > 0 {
		BytesTransferred.WithLabelValues(direction).Add(float64(n))
	}
}
