package ingest

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/reconnode/mempool-recon/internal/mempool"
	"github.com/reconnode/mempool-recon/internal/oddsketch"
	"github.com/reconnode/mempool-recon/internal/options"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serializedTx(t *testing.T, n uint32) ([]byte, *wire.MsgTx) {
	tx := wire.NewMsgTx(wire.TxVersion)
	prev := chainhash.DoubleHashH([]byte{byte(n), byte(n >> 8)})
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, n), []byte{0x01}, nil))
	tx.AddTxOut(wire.NewTxOut(int64(n)+1000, []byte{0x51}))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return buf.Bytes(), tx
}

func newTestFeed() (*Feed, *mempool.TransactionStore, *options.FeedOptions) {
	store := mempool.NewTransactionStore(oddsketch.DefaultParams())
	opts := options.NewFeedOptions()
	return NewFeed(store, *opts), store, opts
}

func TestFeedInsertsTransactions(t *testing.T) {
	feed, store, opts := newTestFeed()

	data, tx := serializedTx(t, 1)
	feed.HandleBroadcast(opts.TransactionTopic, data)
	feed.HandleBroadcast(opts.TransactionTopic, data)

	assert.Equal(t, 1, store.Len())
	got, ok := store.Get(mempool.ShortIDFromTx(tx))
	require.True(t, ok)
	assert.Equal(t, tx.TxHash(), got.TxHash())
}

func TestFeedDropsMalformedTransactions(t *testing.T) {
	feed, store, opts := newTestFeed()

	data, _ := serializedTx(t, 2)
	assert.NotPanics(t, func() {
		feed.HandleBroadcast(opts.TransactionTopic, nil)
		feed.HandleBroadcast(opts.TransactionTopic, []byte{0xff, 0xff, 0xff})
		feed.HandleBroadcast(opts.TransactionTopic, data[:len(data)/2])
	})
	assert.Equal(t, 0, store.Len())
}

func TestFeedResetsOnBlock(t *testing.T) {
	feed, store, opts := newTestFeed()

	for i := uint32(0); i < 5; i++ {
		data, _ := serializedTx(t, i)
		feed.HandleBroadcast(opts.TransactionTopic, data)
	}
	require.Equal(t, 5, store.Len())

	feed.HandleBroadcast(opts.BlockTopic, make([]byte, chainhash.HashSize))
	assert.Equal(t, 0, store.Len())
	assert.True(t, store.OddSketchSnapshot().IsZero())
}

func TestFeedIgnoresOtherTopics(t *testing.T) {
	feed, store, _ := newTestFeed()

	data, _ := serializedTx(t, 3)
	feed.HandleBroadcast("bitcoin.rawblock", data)
	assert.Equal(t, 0, store.Len())
}
