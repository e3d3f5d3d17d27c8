package connection

import "errors"

var (
	// ErrConfig is returned by Configure and Initialize for unusable settings.
	ErrConfig = errors.New("invalid store configuration")
	// ErrNotReady is returned by Client while no connection has been established.
	ErrNotReady = errors.New("store connection not ready")
	// ErrIndexCreation is returned when a required index document could not be pushed.
	ErrIndexCreation = errors.New("index creation failed")
	// ErrShutdown is returned once the connection has been shut down.
	ErrShutdown = errors.New("store connection shut down")

	// errIndexMissing signals that a required index is absent or has drifted
	// and the document must be rebuilt. It never leaves this package.
	errIndexMissing = errors.New("index missing")
)
