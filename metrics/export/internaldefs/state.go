package internaldefs

import (
	"sort"

	goRegistry "github.com/MrEthical07/goRegistry"
	"github.com/MrEthical07/goRegistry/connection"
)

// Gauge is one registry state value sampled at collection time.
type Gauge struct {
	Name  string
	Help  string
	Value int64
}

const (
	ConnectionStateName = "goregistry_connection_state"
	ConnectionStateHelp = "1 for the current store connection state, 0 for the others."

	AuditDroppedName   = "goregistry_audit_dropped_total"
	AuditDroppedHelp   = "Audit events that never reached the sink."
	AuditDeliveredName = "goregistry_audit_delivered_total"
	AuditDeliveredHelp = "Audit events handed to the sink."

	// EventTypeLabel keys the audit counters.
	EventTypeLabel = "event_type"
	StateLabel     = "state"
)

// ConnectionStates lists every connection state name in lifecycle order.
var ConnectionStates = func() []string {
	out := make([]string, 0, 4)
	for s := connection.StateUninitialized; s <= connection.StateShuttingDown; s++ {
		out = append(out, s.String())
	}
	return out
}()

// HealthGauges converts h into the exported registry state gauges. The
// connection state is exported separately, labelled by ConnectionStates.
func HealthGauges(h goRegistry.Health) []Gauge {
	return []Gauge{
		{Name: "goregistry_ready", Help: "1 when store operations can currently succeed.", Value: flag(h.Ready)},
		{Name: "goregistry_index_error", Help: "1 when the latest index verification failed.", Value: flag(h.IndexError != "")},
		{Name: "goregistry_services_seeded", Help: "Static services written to the store.", Value: int64(h.Seeded)},
		{Name: "goregistry_services_static", Help: "Statically configured services.", Value: int64(h.Static)},
	}
}

// StatsGauges converts s into the live ticket count gauges.
func StatsGauges(s goRegistry.Stats) []Gauge {
	return []Gauge{
		{Name: "goregistry_sessions", Help: "Live ticket granting tickets.", Value: int64(s.Sessions)},
		{Name: "goregistry_service_tickets", Help: "Live service tickets.", Value: int64(s.ServiceTickets)},
	}
}

// StateValue is 1 when state is the current one.
func StateValue(state string, h goRegistry.Health) int64 {
	return flag(state == h.State)
}

// EventTypes returns the keys of counts in lexical order.
func EventTypes(counts map[string]uint64) []string {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func flag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
