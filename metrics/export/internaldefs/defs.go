package internaldefs

import (
	goRegistry "github.com/MrEthical07/goRegistry"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   goRegistry.MetricID
	Name string
	Help string
}

// HistogramDef names one exported latency histogram.
type HistogramDef struct {
	ID   goRegistry.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goRegistry.MetricConnectAttempt, Name: "goregistry_connect_attempt_total", Help: "Store connection attempts."},
	{ID: goRegistry.MetricConnectFailure, Name: "goregistry_connect_failure_total", Help: "Failed store connection attempts."},
	{ID: goRegistry.MetricConnectSuccess, Name: "goregistry_connect_success_total", Help: "Successful store connections."},
	{ID: goRegistry.MetricIndexVerified, Name: "goregistry_index_verified_total", Help: "Index documents found up to date."},
	{ID: goRegistry.MetricIndexRebuilt, Name: "goregistry_index_rebuilt_total", Help: "Index documents created or rebuilt."},
	{ID: goRegistry.MetricIndexFailure, Name: "goregistry_index_failure_total", Help: "Index documents the store refused."},
	{ID: goRegistry.MetricTicketAdded, Name: "goregistry_ticket_added_total", Help: "Tickets added."},
	{ID: goRegistry.MetricTicketAddConflict, Name: "goregistry_ticket_add_conflict_total", Help: "Ticket adds rejected because the id existed."},
	{ID: goRegistry.MetricTicketUpdated, Name: "goregistry_ticket_updated_total", Help: "Tickets updated."},
	{ID: goRegistry.MetricTicketUpdateMissing, Name: "goregistry_ticket_update_missing_total", Help: "Ticket updates whose target did not exist."},
	{ID: goRegistry.MetricTicketDeleted, Name: "goregistry_ticket_deleted_total", Help: "Tickets deleted."},
	{ID: goRegistry.MetricTicketHit, Name: "goregistry_ticket_hit_total", Help: "Ticket lookups that found the ticket."},
	{ID: goRegistry.MetricTicketMiss, Name: "goregistry_ticket_miss_total", Help: "Ticket lookups that found nothing."},
	{ID: goRegistry.MetricTicketOutcomeUnknown, Name: "goregistry_ticket_outcome_unknown_total", Help: "Ticket writes interrupted before an answer."},
	{ID: goRegistry.MetricTicketTransportError, Name: "goregistry_ticket_transport_error_total", Help: "Ticket operations that failed in transport."},
	{ID: goRegistry.MetricServiceSaved, Name: "goregistry_service_saved_total", Help: "Service registrations saved."},
	{ID: goRegistry.MetricServiceDeleted, Name: "goregistry_service_deleted_total", Help: "Service registrations deleted."},
	{ID: goRegistry.MetricServiceLoadFailure, Name: "goregistry_service_load_failure_total", Help: "Failed service listing queries."},
	{ID: goRegistry.MetricSeedCompleted, Name: "goregistry_seed_completed_total", Help: "Completed static service seeding runs."},
	{ID: goRegistry.MetricSeedFailure, Name: "goregistry_seed_failure_total", Help: "Failed static service seeding attempts."},
}

// HistogramDefs lists every exported histogram in render order.
var HistogramDefs = []HistogramDef{
	{ID: goRegistry.MetricStoreLatency, Name: "goregistry_store_latency_seconds", Help: "Store round trip latency."},
	{ID: goRegistry.MetricConnectLatency, Name: "goregistry_connect_latency_seconds", Help: "Store connection attempt latency."},
}

// HistogramBounds are the upper bounds of the histogram buckets, in the
// Prometheus le label format.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable inside instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [goRegistry.MetricHistogramBuckets]uint64 {
	var out [goRegistry.MetricHistogramBuckets]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [goRegistry.MetricHistogramBuckets]uint64) [goRegistry.MetricHistogramBuckets]uint64 {
	var out [goRegistry.MetricHistogramBuckets]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
