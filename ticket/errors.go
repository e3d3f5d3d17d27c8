package ticket

import "errors"

var (
	// ErrAddConflict is returned by Add when a ticket with the same id already exists.
	ErrAddConflict = errors.New("ticket already exists")
	// ErrUnsupportedOperation is returned by ListAll.
	ErrUnsupportedOperation = errors.New("operation not supported by ticket store")
	// ErrInvalidTicket is returned for tickets without an id or with an unknown type.
	ErrInvalidTicket = errors.New("invalid ticket")
)
