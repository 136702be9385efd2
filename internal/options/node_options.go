package options

import "time"

const (
	peerRetryIntervalDefault = time.Second * 5
	dialTimeoutDefault       = time.Second * 30
)

// NodeOptions is options that affect the whole node
type NodeOptions struct {
	// Peers to initially connect
	InitialPeers []string

	// Time to wait before redialing a configured peer whose session ended
	PeerRetryInterval time.Duration

	// Time allowed to connect to a peer and open a reconciliation stream
	DialTimeout time.Duration
}

// NewNodeOptions creates a NodeOptions object which controls how the node connects to peers
func NewNodeOptions() *NodeOptions {
	return &NodeOptions{
		InitialPeers:      make([]string, 0),
		PeerRetryInterval: peerRetryIntervalDefault,
		DialTimeout:       dialTimeoutDefault,
	}
}
