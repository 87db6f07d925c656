package pkg

import "errors"

var (
	// ErrUnspecifiedHandle is returned when an operation needs a concrete node handle
	ErrUnspecifiedHandle = errors.New("unspecified node handle")

	// ErrLookupFailed is returned when a lookup exhausts all paths without an owner
	ErrLookupFailed = errors.New("lookup failed")

	// ErrTransportClosed is returned when sending on a closed transport
	ErrTransportClosed = errors.New("transport closed")

	// ErrRequestTimeout is returned when a peer does not answer within the per-hop timeout
	ErrRequestTimeout = errors.New("request timed out")
)
