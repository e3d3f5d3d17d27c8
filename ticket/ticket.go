package ticket

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type distinguishes granting tickets from service tickets.
type Type uint8

const (
	// GrantingTicket represents a completed login session.
	GrantingTicket Type = 1
	// ServiceTicket authorizes a single service access.
	ServiceTicket Type = 2
)

// EndToken is appended to a type prefix to build the inclusive upper bound of
// an index range covering every id of that type.
const EndToken = "ʭ"

// Prefix returns the id prefix for t, without the separator.
func (t Type) Prefix() string {
	switch t {
	case GrantingTicket:
		return "TGT"
	case ServiceTicket:
		return "ST"
	default:
		return ""
	}
}

func (t Type) String() string {
	switch t {
	case GrantingTicket:
		return "granting"
	case ServiceTicket:
		return "service"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Valid reports whether t is a known ticket type.
func (t Type) Valid() bool {
	return t == GrantingTicket || t == ServiceTicket
}

// TypeOf derives the ticket type from an id prefix.
func TypeOf(id string) (Type, bool) {
	for _, t := range []Type{GrantingTicket, ServiceTicket} {
		if strings.HasPrefix(id, t.Prefix()+"-") {
			return t, true
		}
	}
	return 0, false
}

// NewTicketID returns a fresh id of the form "<prefix>-<uuid>".
func NewTicketID(t Type) string {
	return t.Prefix() + "-" + uuid.NewString()
}

// ExpiryPolicy is carried with the ticket for callers that evaluate it. The
// stored record itself expires by the store TTL configured per type.
type ExpiryPolicy struct {
	Name       string
	TimeToLive time.Duration
}

// Ticket is a stored authentication ticket.
type Ticket struct {
	// ID starts with the prefix of Type, for example "TGT-".
	ID        string
	Type      Type
	CreatedAt time.Time
	Expiry    ExpiryPolicy
	// GrantingTicketID links a service ticket to the session that issued it.
	GrantingTicketID string
	// Service is the service URL a service ticket was issued for.
	Service string
	Payload []byte
}

// New builds a ticket of type t with a fresh id.
func New(t Type, payload []byte) *Ticket {
	return &Ticket{
		ID:        NewTicketID(t),
		Type:      t,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
}

// Equal reports whether two tickets hold the same data.
func (t *Ticket) Equal(o *Ticket) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.ID == o.ID &&
		t.Type == o.Type &&
		t.CreatedAt.Equal(o.CreatedAt) &&
		t.Expiry == o.Expiry &&
		t.GrantingTicketID == o.GrantingTicketID &&
		t.Service == o.Service &&
		bytes.Equal(t.Payload, o.Payload)
}
