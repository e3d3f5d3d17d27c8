package metrics

import (
	"sync/atomic"
	"time"
)

// ID identifies a counter or histogram.
type ID uint16

const (
	ConnectAttempt ID = iota
	ConnectFailure
	ConnectSuccess
	IndexVerified
	IndexRebuilt
	IndexFailure
	TicketAdded
	TicketAddConflict
	TicketUpdated
	TicketUpdateMissing
	TicketDeleted
	TicketHit
	TicketMiss
	TicketOutcomeUnknown
	TicketTransportError
	ServiceSaved
	ServiceDeleted
	ServiceLoadFailure
	SeedCompleted
	SeedFailure
	// StoreLatency records the duration of every store round trip issued by
	// the ticket and service registries.
	StoreLatency
	// ConnectLatency records the duration of each connection attempt.
	ConnectLatency
	idCount
)

// Count is the number of defined metric IDs.
const Count = int(idCount)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// BucketCount is the number of latency buckets per histogram.
const BucketCount = histBucketCount

type histogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Config toggles collection.
type Config struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Metrics holds lock-free counters and fixed-bucket latency histograms.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [idCount]paddedCounter
	histograms    [idCount]histogram
}

// Snapshot is a point-in-time copy of every counter and enabled histogram.
type Snapshot struct {
	Counters   map[ID]uint64
	Histograms map[ID][]uint64
}

// New creates a Metrics instance.
func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// IsHistogram reports whether id is recorded with Observe rather than Inc.
func IsHistogram(id ID) bool {
	return id == StoreLatency || id == ConnectLatency
}

// Enabled reports whether counters are collected.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether histograms are collected.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increments a counter.
func (m *Metrics) Inc(id ID) {
	if m == nil || !m.enabled || id >= idCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram for id.
func (m *Metrics) Observe(id ID, d time.Duration) {
	if m == nil || !m.enableLatency || id >= idCount || !IsHistogram(id) {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Since observes the time elapsed from start.
func (m *Metrics) Since(id ID, start time.Time) {
	if !m.LatencyEnabled() {
		return
	}
	m.Observe(id, time.Since(start))
}

// Value returns the current counter value.
func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, every histogram.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{
			Counters:   map[ID]uint64{},
			Histograms: map[ID][]uint64{},
		}
	}

	s := Snapshot{
		Counters:   make(map[ID]uint64, Count),
		Histograms: make(map[ID][]uint64, 2),
	}
	for id := ID(0); id < idCount; id++ {
		if IsHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for id := ID(0); id < idCount; id++ {
			if !IsHistogram(id) {
				continue
			}
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}
	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
