package p2perrors

import (
	"errors"
)

var (
	// ErrDeserialization represents any sort of error deserializing a frame, sketch or transaction
	ErrDeserialization = errors.New("error during deserialization")

	// ErrSerialization represents any sort of error serializing a frame, sketch or transaction
	ErrSerialization = errors.New("error during serialization")

	// ErrFrameTooLarge represents a frame whose declared length exceeds the maximum frame size
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrTransport represents a read or write failure on a peer stream
	ErrTransport = errors.New("peer transport error")

	// ErrSketchMismatch represents an attempt to merge sketches built with different parameters
	ErrSketchMismatch = errors.New("sketch parameters do not match")

	// ErrInvalidCapacity represents a minisketch capacity outside of the supported range
	ErrInvalidCapacity = errors.New("invalid sketch capacity")

	// ErrCapacityExceeded represents a minisketch that could not be decoded because the
	// difference it encodes is larger than its capacity
	ErrCapacityExceeded = errors.New("sketch capacity exceeded")

	// ErrBroadcast represents a failure resubmitting a transaction upstream
	ErrBroadcast = errors.New("transaction broadcast failed")

	// ErrBroadcastTimeout represents an upstream resubmission that did not complete in time
	ErrBroadcastTimeout = errors.New("transaction broadcast timed out")

	// ErrPeerBlacklisted represents a peer whose error score is above the connection threshold
	ErrPeerBlacklisted = errors.New("peer error score above threshold")

	// ErrSessionClosed represents a peer session that was ended locally
	ErrSessionClosed = errors.New("peer session closed")
)
