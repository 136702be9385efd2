package util

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// TransactionString returns a string containing the given transaction's ID and size
func TransactionString(transaction *wire.MsgTx) string {
	return fmt.Sprintf("ID: %s, Size: %d", transaction.TxHash(), transaction.SerializeSize())
}

// TransactionValueString returns a string containing the given transaction's ID and total output value
func TransactionValueString(transaction *wire.MsgTx) string {
	var total int64
	for _, out := range transaction.TxOut {
		total += out.Value
	}
	return fmt.Sprintf("ID: %s, Value: %s", transaction.TxHash(), btcutil.Amount(total))
}

// ShortIDsString returns a compact string of a list of short ids, eliding long lists
func ShortIDsString(ids []uint64, max int) string {
	parts := make([]string, 0, max+1)
	for i, id := range ids {
		if i == max {
			parts = append(parts, fmt.Sprintf("... (%d more)", len(ids)-max))
			break
		}
		parts = append(parts, fmt.Sprintf("%016x", id))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
