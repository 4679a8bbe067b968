package metrics

import "time"

// MetricsInterface defines the interface that metrics implementations must satisfy
type MetricsInterface interface {
	// Connection tracking
	IncrementConnections()
	DecrementConnections()
	RecordConnectionError()
	RecordConnectionDuration(duration time.Duration)
	GetActiveConnections() int64

	// Message tracking
	IncrementMessagesReceived()
	IncrementMessagesSent()
	RecordMessageSize(size int)
	IncrementDuplicates()
	UpdateMessagesPerSecond(rate float64)

	// Latency tracking
	RecordMessageLatency(duration time.Duration)
	RecordNATSLatency(duration time.Duration)

	// Error tracking
	RecordError(errorType string)

	// System metrics
	UpdateGoroutinesCount(count int)
	UpdateMemoryUsage(bytes uint64)
	UpdateCPUUsage(percent float64)

	// NATS metrics
	SetNATSConnected(connected bool)
	IncrementNATSReconnects()
	IncrementNATSMessages()

	// Getters
	GetUptime() time.Duration
}

// Ensure Metrics implements MetricsInterface directly; there is no
// fallback non-Prometheus implementation to abstract over.
var _ MetricsInterface = (*Metrics)(nil)