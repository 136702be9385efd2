package ingest

import (
	"github.com/btcsuite/btcd/btcutil"
	log "github.com/koinos/koinos-log-golang"
	koinosmq "github.com/koinos/koinos-mq-golang"
	"github.com/reconnode/mempool-recon/internal/mempool"
	"github.com/reconnode/mempool-recon/internal/metrics"
	"github.com/reconnode/mempool-recon/internal/options"
	"github.com/reconnode/mempool-recon/internal/util"
)

// Feed results, used as metric labels
const (
	resultInserted  = "inserted"
	resultDuplicate = "duplicate"
	resultMalformed = "malformed"
	resultReset     = "reset"
	resultIgnored   = "ignored"
)

// Feed applies the upstream node's transaction and block notifications to the store.
// New transactions are inserted; a new block empties the store.
type Feed struct {
	store *mempool.TransactionStore
	opts  options.FeedOptions
}

// NewFeed creates a feed writing to store
func NewFeed(store *mempool.TransactionStore, opts options.FeedOptions) *Feed {
	return &Feed{store: store, opts: opts}
}

// Register subscribes the feed to its topics on the request handler
func (f *Feed) Register(requestHandler *koinosmq.RequestHandler) {
	requestHandler.SetBroadcastHandler(f.opts.TransactionTopic, f.HandleBroadcast)
	requestHandler.SetBroadcastHandler(f.opts.BlockTopic, f.HandleBroadcast)
}

// HandleBroadcast handles a single notification. Malformed payloads are dropped.
func (f *Feed) HandleBroadcast(topic string, data []byte) {
	switch topic {
	case f.opts.TransactionTopic:
		tx, err := btcutil.NewTxFromBytes(data)
		if err != nil {
			metrics.FeedEvents.WithLabelValues(topic, resultMalformed).Inc()
			log.Warnf("Dropping malformed transaction of %d bytes: %s", len(data), err)
			return
		}

		if f.store.Insert(tx.MsgTx()) {
			metrics.FeedEvents.WithLabelValues(topic, resultInserted).Inc()
			log.Debugf("Received transaction from feed - %s", util.TransactionValueString(tx.MsgTx()))
		} else {
			metrics.FeedEvents.WithLabelValues(topic, resultDuplicate).Inc()
		}

	case f.opts.BlockTopic:
		metrics.FeedEvents.WithLabelValues(topic, resultReset).Inc()
		log.Infof("Received new block %x, resetting mempool", data)
		f.store.Reset()

	default:
		metrics.FeedEvents.WithLabelValues(topic, resultIgnored).Inc()
		log.Debugf("Ignoring broadcast on unexpected topic %s", topic)
	}
}
