package goRegistry

import (
	"io"

	"github.com/MrEthical07/goRegistry/internal/audit"
)

// AuditEvent is one registry mutation reported to an AuditSink.
type AuditEvent = audit.Event

// AuditSink receives audit events. Emit is called from the dispatcher
// goroutine when auditing is enabled, so it may block without stalling
// registry operations unless Audit.DropIfFull is false and the buffer fills.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditTicketGrantingCreated   = audit.EventTicketGrantingCreated
	AuditTicketGrantingDestroyed = audit.EventTicketGrantingDestroyed
	AuditServiceSaved            = audit.EventServiceSaved
	AuditServiceDeleted          = audit.EventServiceDeleted
	AuditServicesSeeded          = audit.EventServicesSeeded
)

// NoOpSink discards every event.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers events on a buffered channel.
type ChannelSink = audit.ChannelSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
