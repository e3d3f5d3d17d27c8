package ticket

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	// ticketFormatVersionMillis stored CreatedAt in unix milliseconds.
	ticketFormatVersionMillis  = 1
	ticketFormatVersionCurrent = 2
)

var (
	errTicketVersion = errors.New("invalid ticket version")
	errFieldTooLong  = errors.New("ticket field too long")
)

// Encode serializes t in the versioned binary format stored as the record value.
// The id must carry the prefix of t.Type.
func Encode(t *Ticket) ([]byte, error) {
	if err := validate(t); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(ticketFormatVersionCurrent)
	buf.WriteByte(byte(t.Type))

	if err := writeShortString(&buf, t.ID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, t.CreatedAt.UnixNano()); err != nil {
		return nil, err
	}
	if err := writeShortString(&buf, t.Expiry.Name); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, int64(t.Expiry.TimeToLive)); err != nil {
		return nil, err
	}
	if err := writeShortString(&buf, t.GrantingTicketID); err != nil {
		return nil, err
	}
	if err := writeShortString(&buf, t.Service); err != nil {
		return nil, err
	}

	if uint64(len(t.Payload)) > math.MaxUint32 {
		return nil, errFieldTooLong
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(t.Payload))); err != nil {
		return nil, err
	}
	buf.Write(t.Payload)

	return buf.Bytes(), nil
}

// Decode parses a value written by Encode.
func Decode(data []byte) (*Ticket, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != ticketFormatVersionCurrent && version != ticketFormatVersionMillis {
		return nil, errTicketVersion
	}

	typ, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	t := &Ticket{Type: Type(typ)}
	if !t.Type.Valid() {
		return nil, ErrInvalidTicket
	}

	if t.ID, err = readShortString(reader); err != nil {
		return nil, err
	}

	var created int64
	if err := binary.Read(reader, binary.BigEndian, &created); err != nil {
		return nil, err
	}
	if version == ticketFormatVersionMillis {
		t.CreatedAt = time.UnixMilli(created).UTC()
	} else {
		t.CreatedAt = time.Unix(0, created).UTC()
	}

	if t.Expiry.Name, err = readShortString(reader); err != nil {
		return nil, err
	}
	var ttl int64
	if err := binary.Read(reader, binary.BigEndian, &ttl); err != nil {
		return nil, err
	}
	t.Expiry.TimeToLive = time.Duration(ttl)

	if t.GrantingTicketID, err = readShortString(reader); err != nil {
		return nil, err
	}
	if t.Service, err = readShortString(reader); err != nil {
		return nil, err
	}

	var payloadLen uint32
	if err := binary.Read(reader, binary.BigEndian, &payloadLen); err != nil {
		return nil, err
	}
	if int64(payloadLen) > int64(reader.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	if payloadLen > 0 {
		t.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(reader, t.Payload); err != nil {
			return nil, err
		}
	}

	if err := validate(t); err != nil {
		return nil, err
	}
	return t, nil
}

func validate(t *Ticket) error {
	if t == nil || t.ID == "" || !t.Type.Valid() {
		return ErrInvalidTicket
	}
	if typ, ok := TypeOf(t.ID); !ok || typ != t.Type {
		return fmt.Errorf("%w: id %q does not carry the %s prefix", ErrInvalidTicket, t.ID, t.Type.Prefix())
	}
	return nil
}

func writeShortString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return errFieldTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readShortString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > reader.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
