package ticket

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &Ticket{
		ID:               "ST-42",
		Type:             ServiceTicket,
		CreatedAt:        time.UnixMilli(1_700_000_000_456).UTC(),
		Expiry:           ExpiryPolicy{Name: "multi-use", TimeToLive: 10 * time.Second},
		GrantingTicketID: "TGT-abc",
		Service:          "https://app.example.org/login",
		Payload:          []byte{0x00, 0x01, 0xff},
	}

	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, in.Equal(out), "got %+v", out)
}

func TestEncodeRejectsInvalidTickets(t *testing.T) {
	_, err := Encode(nil)
	assert.ErrorIs(t, err, ErrInvalidTicket)

	_, err = Encode(&Ticket{Type: GrantingTicket})
	assert.ErrorIs(t, err, ErrInvalidTicket)

	_, err = Encode(&Ticket{ID: "X-1", Type: Type(9)})
	assert.ErrorIs(t, err, ErrInvalidTicket)

	_, err = Encode(&Ticket{ID: "TGT-" + strings.Repeat("a", 70000), Type: GrantingTicket})
	assert.Error(t, err)
}

func TestEncodeRejectsMismatchedPrefix(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   *Ticket
	}{
		{name: "service prefix on granting ticket", in: &Ticket{ID: "ST-1", Type: GrantingTicket}},
		{name: "granting prefix on service ticket", in: &Ticket{ID: "TGT-1", Type: ServiceTicket}},
		{name: "no prefix", in: &Ticket{ID: "abc", Type: GrantingTicket}},
		{name: "prefix without separator", in: &Ticket{ID: "TGTabc", Type: GrantingTicket}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(tc.in)
			assert.ErrorIs(t, err, ErrInvalidTicket)
		})
	}
}

func TestCreatedAtKeepsNanoseconds(t *testing.T) {
	in := New(GrantingTicket, nil)
	in.CreatedAt = time.Unix(1_700_000_000, 123_456_789).UTC()

	data, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt), "got %s", out.CreatedAt)
	assert.True(t, in.Equal(out))
}

func TestDecodeReadsMillisecondFormat(t *testing.T) {
	in := New(ServiceTicket, []byte("p"))
	data, err := Encode(in)
	require.NoError(t, err)

	// Rewrite the record in the first format: version byte 1, created in millis.
	legacy := append([]byte(nil), data...)
	legacy[0] = ticketFormatVersionMillis
	created := time.UnixMilli(1_700_000_000_456)
	offset := 2 + 2 + len(in.ID)
	binary.BigEndian.PutUint64(legacy[offset:offset+8], uint64(created.UnixMilli()))

	out, err := Decode(legacy)
	require.NoError(t, err)
	assert.True(t, created.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)
}

func TestDecodeRejectsCorruptData(t *testing.T) {
	data, err := Encode(New(GrantingTicket, []byte("payload")))
	require.NoError(t, err)

	for i := 0; i < len(data); i++ {
		_, err := Decode(data[:i])
		assert.Error(t, err, "truncated at %d", i)
	}

	bad := append([]byte(nil), data...)
	bad[0] = 99
	_, err = Decode(bad)
	assert.Error(t, err)
}

func TestTicketIDs(t *testing.T) {
	id := NewTicketID(GrantingTicket)
	assert.True(t, strings.HasPrefix(id, "TGT-"))

	typ, ok := TypeOf(id)
	require.True(t, ok)
	assert.Equal(t, GrantingTicket, typ)

	typ, ok = TypeOf(NewTicketID(ServiceTicket))
	require.True(t, ok)
	assert.Equal(t, ServiceTicket, typ)

	_, ok = TypeOf("LAST_ID")
	assert.False(t, ok)
	assert.NotEqual(t, NewTicketID(ServiceTicket), NewTicketID(ServiceTicket))
}
