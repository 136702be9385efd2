package mempool

import (
	"sync"

	"github.com/btcsuite/btcd/wire"
	log "github.com/koinos/koinos-log-golang"
	"github.com/reconnode/mempool-recon/internal/metrics"
	"github.com/reconnode/mempool-recon/internal/minisketch"
	"github.com/reconnode/mempool-recon/internal/oddsketch"
)

// TransactionStore is the local mempool: a map of short id to transaction
// and the running odd sketch of every resident id.
//
// Every method holds the lock only for map and sketch operations, never
// across I/O. There is no removal path; Reset empties the whole store.
type TransactionStore struct {
	transactions map[ShortID]*wire.MsgTx
	sketch       *oddsketch.OddSketch
	params       oddsketch.Params
	mu           sync.Mutex
}

// NewTransactionStore creates an empty store whose odd sketch uses params
func NewTransactionStore(params oddsketch.Params) *TransactionStore {
	sketch := oddsketch.New(params)
	return &TransactionStore{
		transactions: make(map[ShortID]*wire.MsgTx),
		sketch:       sketch,
		params:       sketch.Params(),
	}
}

// OddSketchParams returns the parameters of the store's odd sketch
func (s *TransactionStore) OddSketchParams() oddsketch.Params {
	return s.params
}

// Insert adds tx, returning true if its short id was not yet resident.
// Inserting a resident id replaces the stored transaction, so on a short id
// collision the last insert wins. The odd sketch is only toggled for new ids.
func (s *TransactionStore) Insert(tx *wire.MsgTx) bool {
	id := ShortIDFromTx(tx)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insert(id, tx)
}

// Assumes the store is locked by the invoker
func (s *TransactionStore) insert(id ShortID, tx *wire.MsgTx) bool {
	if _, ok := s.transactions[id]; ok {
		s.transactions[id] = tx
		return false
	}

	s.transactions[id] = tx
	s.sketch.Toggle(uint64(id))
	metrics.StoreSize.Set(float64(len(s.transactions)))
	return true
}

// InsertBatch inserts every transaction, returning how many were new.
// Each insert is atomic on its own; the batch as a whole is not.
func (s *TransactionStore) InsertBatch(txs []*wire.MsgTx) int {
	added := 0
	for _, tx := range txs {
		if s.Insert(tx) {
			added++
		}
	}
	return added
}

// Get returns the transaction with the given short id
func (s *TransactionStore) Get(id ShortID) (*wire.MsgTx, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	return tx, ok
}

// GetMany returns the transactions of every resolvable id, skipping the others
func (s *TransactionStore) GetMany(ids []ShortID) []*wire.MsgTx {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := make([]*wire.MsgTx, 0, len(ids))
	for _, id := range ids {
		if tx, ok := s.transactions[id]; ok {
			found = append(found, tx)
		}
	}
	return found
}

// Len returns the number of resident transactions
func (s *TransactionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.transactions)
}

// IDs returns the short ids of every resident transaction
func (s *TransactionStore) IDs() []ShortID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ids()
}

// Assumes the store is locked by the invoker
func (s *TransactionStore) ids() []ShortID {
	ids := make([]ShortID, 0, len(s.transactions))
	for id := range s.transactions {
		ids = append(ids, id)
	}
	return ids
}

// OddSketchSnapshot returns a point in time copy of the odd sketch
func (s *TransactionStore) OddSketchSnapshot() *oddsketch.OddSketch {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sketch.Clone()
}

// MinisketchSnapshot builds a minisketch of the given capacity over the ids
// resident at the time of the call. The sketch is built outside of the lock.
func (s *TransactionStore) MinisketchSnapshot(capacity int) (*minisketch.Sketch, error) {
	return minisketch.FromIDs(ToUint64s(s.IDs()), capacity)
}

// MinisketchToEstimate builds a minisketch sized to answer a peer whose
// difference from this store was estimated at estimate: the capacity is
// estimate plus margin, clamped to [1, max].
func (s *TransactionStore) MinisketchToEstimate(estimate uint64, margin, max int) (*minisketch.Sketch, error) {
	return minisketch.BuildToCapacity(ToUint64s(s.IDs()), estimate, margin, max)
}

// Reset empties the map and the sketch. Transactions still unconfirmed after
// the block are not repopulated.
func (s *TransactionStore) Reset() {
	s.mu.Lock()
	count := len(s.transactions)
	s.transactions = make(map[ShortID]*wire.MsgTx)
	s.sketch = oddsketch.New(s.params)
	metrics.StoreSize.Set(0)
	s.mu.Unlock()

	metrics.StoreResets.Inc()

	log.Debugf("TransactionStore.Reset: dropped %d transactions", count)
}
