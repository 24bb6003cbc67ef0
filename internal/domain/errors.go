package domain

import "errors"

var (
	ErrNotInitialized   = errors.New("store not initialized")
	ErrInvalidState     = errors.New("node id is not set")
	ErrUnknownKind      = errors.New("unknown node kind")
	ErrCorruptStore     = errors.New("corrupt store")
	ErrConnectionFailed = errors.New("connection failed")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNodeNotFound     = errors.New("node not found")
	ErrTypeMismatch     = errors.New("node type mismatch")
	ErrNotImplemented   = errors.New("not implemented")

	// ErrRequestFailed is returned when the relay or the host rejects a request.
	ErrRequestFailed = errors.New("request failed")
	// ErrStaleChannel marks an acknowledgement that arrived after its channel
	// was swapped out. The result is discarded.
	ErrStaleChannel = errors.New("stale update channel")
)
