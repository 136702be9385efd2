package options

import "time"

const (
	upstreamHostDefault           = "127.0.0.1:8332"
	broadcastTimeoutDefault       = time.Second * 6
	broadcastCacheDurationDefault = time.Minute * 10
)

// UpstreamOptions are options for resubmitting transactions to the upstream node
type UpstreamOptions struct {
	Host       string
	User       string
	Pass       string
	DisableTLS bool

	// Time allowed for a single sendrawtransaction call
	BroadcastTimeout time.Duration

	// Window during which a resubmitted transaction is not resubmitted again
	BroadcastCacheDuration time.Duration
}

// NewUpstreamOptions returns default initialized UpstreamOptions
func NewUpstreamOptions() *UpstreamOptions {
	return &UpstreamOptions{
		Host:                   upstreamHostDefault,
		DisableTLS:             true,
		BroadcastTimeout:       broadcastTimeoutDefault,
		BroadcastCacheDuration: broadcastCacheDurationDefault,
	}
}
