package goRegistry

import "github.com/MrEthical07/goRegistry/internal/metrics"

// MetricID identifies a registry counter or histogram.
type MetricID = metrics.ID

// MetricsSnapshot is a point-in-time copy of the registry metrics.
type MetricsSnapshot = metrics.Snapshot

// Metric identifiers, in export order.
const (
	MetricConnectAttempt       = metrics.ConnectAttempt
	MetricConnectFailure       = metrics.ConnectFailure
	MetricConnectSuccess       = metrics.ConnectSuccess
	MetricIndexVerified        = metrics.IndexVerified
	MetricIndexRebuilt         = metrics.IndexRebuilt
	MetricIndexFailure         = metrics.IndexFailure
	MetricTicketAdded          = metrics.TicketAdded
	MetricTicketAddConflict    = metrics.TicketAddConflict
	MetricTicketUpdated        = metrics.TicketUpdated
	MetricTicketUpdateMissing  = metrics.TicketUpdateMissing
	MetricTicketDeleted        = metrics.TicketDeleted
	MetricTicketHit            = metrics.TicketHit
	MetricTicketMiss           = metrics.TicketMiss
	MetricTicketOutcomeUnknown = metrics.TicketOutcomeUnknown
	MetricTicketTransportError = metrics.TicketTransportError
	MetricServiceSaved         = metrics.ServiceSaved
	MetricServiceDeleted       = metrics.ServiceDeleted
	MetricServiceLoadFailure   = metrics.ServiceLoadFailure
	MetricSeedCompleted        = metrics.SeedCompleted
	MetricSeedFailure          = metrics.SeedFailure
	MetricStoreLatency         = metrics.StoreLatency
	MetricConnectLatency       = metrics.ConnectLatency
)

// MetricCount is the number of defined metric identifiers.
const MetricCount = metrics.Count

// MetricHistogramBuckets is the number of buckets in every latency histogram.
const MetricHistogramBuckets = metrics.BucketCount

// IsLatencyMetric reports whether id names a histogram rather than a counter.
func IsLatencyMetric(id MetricID) bool {
	return metrics.IsHistogram(id)
}
