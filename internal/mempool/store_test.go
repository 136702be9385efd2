package mempool

import (
	"sort"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/reconnode/mempool-recon/internal/oddsketch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTestTx(n uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	prev := chainhash.DoubleHashH([]byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)})
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, n), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(n)+1000, []byte{0x51}))
	return tx
}

func makeTestTxs(start, count uint32) []*wire.MsgTx {
	txs := make([]*wire.MsgTx, count)
	for i := range txs {
		txs[i] = makeTestTx(start + uint32(i))
	}
	return txs
}

func sortIDs(ids []ShortID) []ShortID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestShortID(t *testing.T) {
	tx := makeTestTx(1)
	hash := tx.TxHash()
	id := ShortIDFromTx(tx)
	assert.Equal(t, ShortIDFromHash(&hash), id)
	assert.NotEqual(t, ShortID(0), id)

	var zero chainhash.Hash
	assert.Equal(t, ShortID(1), ShortIDFromHash(&zero))

	assert.Equal(t, []ShortID{3, 5}, FromUint64s([]uint64{0, 3, 0, 5}))
	assert.Equal(t, []uint64{3, 5}, ToUint64s([]ShortID{3, 5}))
}

func TestInsertIdempotent(t *testing.T) {
	once := NewTransactionStore(oddsketch.DefaultParams())
	twice := NewTransactionStore(oddsketch.DefaultParams())

	tx := makeTestTx(7)
	assert.True(t, once.Insert(tx))

	assert.True(t, twice.Insert(tx))
	assert.False(t, twice.Insert(tx))

	assert.Equal(t, once.Len(), twice.Len())
	assert.True(t, once.OddSketchSnapshot().Equal(twice.OddSketchSnapshot()))
	assert.False(t, twice.OddSketchSnapshot().IsZero())
}

func TestInsertBatchAndGet(t *testing.T) {
	store := NewTransactionStore(oddsketch.DefaultParams())
	txs := makeTestTxs(0, 10)

	assert.Equal(t, 10, store.InsertBatch(txs))
	assert.Equal(t, 0, store.InsertBatch(txs[:5]))
	assert.Equal(t, 2, store.InsertBatch(makeTestTxs(9, 3)))
	assert.Equal(t, 12, store.Len())

	got, ok := store.Get(ShortIDFromTx(txs[3]))
	require.True(t, ok)
	assert.Equal(t, txs[3].TxHash(), got.TxHash())

	_, ok = store.Get(ShortIDFromTx(makeTestTx(500)))
	assert.False(t, ok)

	found := store.GetMany([]ShortID{ShortIDFromTx(txs[0]), ShortIDFromTx(makeTestTx(500)), ShortIDFromTx(txs[1])})
	assert.Len(t, found, 2)
}

func TestSnapshots(t *testing.T) {
	store := NewTransactionStore(oddsketch.DefaultParams())
	txs := makeTestTxs(100, 8)
	store.InsertBatch(txs)

	ids := make([]uint64, len(txs))
	for i, tx := range txs {
		ids[i] = uint64(ShortIDFromTx(tx))
	}

	snapshot := store.OddSketchSnapshot()
	assert.True(t, snapshot.Equal(oddsketch.Build(oddsketch.DefaultParams(), ids)))

	// A snapshot is a copy, not a live view
	store.Insert(makeTestTx(200))
	assert.False(t, snapshot.Equal(store.OddSketchSnapshot()))

	sketch, err := store.MinisketchSnapshot(16)
	require.NoError(t, err)
	decoded, err := sketch.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, sortIDs(store.IDs()), FromUint64s(decoded))

	_, err = store.MinisketchSnapshot(0)
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	store := NewTransactionStore(oddsketch.DefaultParams())
	store.InsertBatch(makeTestTxs(0, 50))
	require.Equal(t, 50, store.Len())

	store.Reset()
	assert.Equal(t, 0, store.Len())
	assert.True(t, store.OddSketchSnapshot().IsZero())

	// The store is usable after a reset
	assert.True(t, store.Insert(makeTestTx(3)))
	assert.Equal(t, 1, store.Len())
}

func TestConcurrentInsert(t *testing.T) {
	const n = 200
	store := NewTransactionStore(oddsketch.DefaultParams())
	txs := makeTestTxs(1000, n)

	var wg sync.WaitGroup
	for _, tx := range txs {
		wg.Add(1)
		go func(tx *wire.MsgTx) {
			defer wg.Done()
			store.Insert(tx)
			store.OddSketchSnapshot()
		}(tx)
	}
	wg.Wait()

	assert.Equal(t, n, store.Len())

	expected := NewTransactionStore(oddsketch.DefaultParams())
	expected.InsertBatch(txs)
	assert.True(t, expected.OddSketchSnapshot().Equal(store.OddSketchSnapshot()))
}

func TestStoreDifferenceEstimate(t *testing.T) {
	shared := makeTestTxs(0, 5000)
	a := NewTransactionStore(oddsketch.DefaultParams())
	b := NewTransactionStore(oddsketch.DefaultParams())
	a.InsertBatch(shared)
	b.InsertBatch(shared)
	a.InsertBatch(makeTestTxs(100000, 33))
	b.InsertBatch(makeTestTxs(200000, 3))

	merged, err := oddsketch.Merge(a.OddSketchSnapshot(), b.OddSketchSnapshot())
	require.NoError(t, err)
	assert.InDelta(t, 36.0, float64(merged.Size()), 8.0)
}

func TestShortIDCollisionLastWins(t *testing.T) {
	store := NewTransactionStore(oddsketch.DefaultParams())
	first, second := makeTestTx(1), makeTestTx(2)
	id := ShortIDFromTx(first)

	store.mu.Lock()
	assert.True(t, store.insert(id, first))
	before := store.sketch.Clone()
	assert.False(t, store.insert(id, second))
	store.mu.Unlock()

	got, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, second.TxHash(), got.TxHash())
	assert.Equal(t, 1, store.Len())
	assert.True(t, before.Equal(store.OddSketchSnapshot()))
}

func TestMinisketchToEstimate(t *testing.T) {
	store := NewTransactionStore(oddsketch.DefaultParams())
	store.InsertBatch(makeTestTxs(0, 30))

	sketch, err := store.MinisketchToEstimate(36, 5, 512)
	require.NoError(t, err)
	assert.Equal(t, 41, sketch.Capacity())

	decoded, err := sketch.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, sortIDs(store.IDs()), FromUint64s(decoded))

	sketch, err = store.MinisketchToEstimate(5000, 5, 64)
	require.NoError(t, err)
	assert.Equal(t, 64, sketch.Capacity())

	sketch, err = store.MinisketchToEstimate(0, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, 1, sketch.Capacity())
}
