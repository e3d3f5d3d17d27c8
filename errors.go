package goRegistry

import (
	"github.com/MrEthical07/goRegistry/connection"
	"github.com/MrEthical07/goRegistry/store"
	"github.com/MrEthical07/goRegistry/ticket"
)

// Errors returned by the registry. They are the same values the owning
// packages return, so errors.Is matches either name.
var (
	// ErrConfig reports invalid or missing store settings.
	ErrConfig = connection.ErrConfig
	// ErrNotReady is returned by store operations issued before the connection is up.
	ErrNotReady = connection.ErrNotReady
	// ErrIndexCreation reports that the store refused a required index document.
	ErrIndexCreation = connection.ErrIndexCreation
	// ErrShutdown is returned when starting a registry that has been closed.
	ErrShutdown = connection.ErrShutdown
	// ErrTransport wraps network and server-side failures of the store.
	ErrTransport = store.ErrTransport
	// ErrAddConflict is returned when adding a ticket whose id already exists.
	ErrAddConflict = ticket.ErrAddConflict
	// ErrUnsupportedOperation is returned by ticket enumeration.
	ErrUnsupportedOperation = ticket.ErrUnsupportedOperation
)
