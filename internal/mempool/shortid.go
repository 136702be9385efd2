package mempool

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ShortID is the compact identifier of a transaction used as sketch element
type ShortID uint64

// ShortIDFromHash takes the first eight bytes of a txid. Zero cannot be held
// by a minisketch and is mapped to one.
func ShortIDFromHash(hash *chainhash.Hash) ShortID {
	id := binary.LittleEndian.Uint64(hash[:8])
	if id == 0 {
		id = 1
	}
	return ShortID(id)
}

// ShortIDFromTx returns the short id of tx
func ShortIDFromTx(tx *wire.MsgTx) ShortID {
	hash := tx.TxHash()
	return ShortIDFromHash(&hash)
}

func (id ShortID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// ToUint64s converts short ids to raw sketch elements
func ToUint64s(ids []ShortID) []uint64 {
	raw := make([]uint64, len(ids))
	for i, id := range ids {
		raw[i] = uint64(id)
	}
	return raw
}

// FromUint64s converts raw sketch elements to short ids, dropping zero padding
func FromUint64s(raw []uint64) []ShortID {
	ids := make([]ShortID, 0, len(raw))
	for _, v := range raw {
		if v != 0 {
			ids = append(ids, ShortID(v))
		}
	}
	return ids
}
