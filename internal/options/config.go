package options

// Config is the entire configuration file
type Config struct {
	NodeOptions             NodeOptions
	PeerSessionOptions      PeerSessionOptions
	PeerErrorHandlerOptions PeerErrorHandlerOptions
	MempoolOptions          MempoolOptions
	FeedOptions             FeedOptions
	UpstreamOptions         UpstreamOptions
}

// NewConfig creates a new Config
func NewConfig() *Config {
	config := Config{
		NodeOptions:             *NewNodeOptions(),
		PeerSessionOptions:      *NewPeerSessionOptions(),
		PeerErrorHandlerOptions: *NewPeerErrorHandlerOptions(),
		MempoolOptions:          *NewMempoolOptions(),
		FeedOptions:             *NewFeedOptions(),
		UpstreamOptions:         *NewUpstreamOptions(),
	}
	return &config
}
