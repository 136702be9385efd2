package options

const (
	transactionTopicDefault = "bitcoin.rawtx"
	blockTopicDefault       = "bitcoin.hashblock"
)

// FeedOptions are options for the ingestion feed
type FeedOptions struct {
	// Broadcast topic delivering raw serialized transactions
	TransactionTopic string

	// Broadcast topic delivering new block hashes
	BlockTopic string
}

// NewFeedOptions returns default initialized FeedOptions
func NewFeedOptions() *FeedOptions {
	return &FeedOptions{
		TransactionTopic: transactionTopicDefault,
		BlockTopic:       blockTopicDefault,
	}
}
