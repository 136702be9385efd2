package options

import "time"

const (
	heartbeatIntervalDefault          = time.Millisecond * 1000
	minisketchCapacityMarginDefault   = 5
	minisketchDecodeBufferSizeDefault = 512
	outboundQueueSizeDefault          = 16
	writeTimeoutDefault               = time.Second * 10
)

// PeerSessionOptions are options for PeerSession
type PeerSessionOptions struct {
	// Interval between odd sketches sent to the peer
	HeartbeatInterval time.Duration

	// Added to the estimated difference when sizing a minisketch
	MinisketchCapacityMargin int

	// Largest difference a session will build or decode a minisketch for
	MinisketchDecodeBufferSize int

	// Capacity of the outbound message channel shared by replies and heartbeats
	OutboundQueueSize int

	// Time allowed to write a single frame
	WriteTimeout time.Duration
}

// NewPeerSessionOptions returns default initialized PeerSessionOptions
func NewPeerSessionOptions() *PeerSessionOptions {
	return &PeerSessionOptions{
		HeartbeatInterval:          heartbeatIntervalDefault,
		MinisketchCapacityMargin:   minisketchCapacityMarginDefault,
		MinisketchDecodeBufferSize: minisketchDecodeBufferSizeDefault,
		OutboundQueueSize:          outboundQueueSizeDefault,
		WriteTimeout:               writeTimeoutDefault,
	}
}
