package protocol

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/reconnode/mempool-recon/internal/mempool"
)

// Kind tags the variant of a reconciliation message on the wire
type Kind byte

// Message kinds
const (
	KindOddSketch  Kind = 1
	KindMinisketch Kind = 2
	KindGetTxs     Kind = 3
	KindTxs        Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindOddSketch:
		return "oddsketch"
	case KindMinisketch:
		return "minisketch"
	case KindGetTxs:
		return "gettxs"
	case KindTxs:
		return "txs"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// Message is one of OddSketchMsg, MinisketchMsg, GetTxsMsg or TxsMsg
type Message interface {
	Kind() Kind
}

// OddSketchMsg carries the sender's odd sketch and starts a reconciliation round
type OddSketchMsg struct {
	Sketch []byte
}

// MinisketchMsg carries a minisketch sized to the estimated difference
type MinisketchMsg struct {
	Sketch []byte
}

// GetTxsMsg requests the transactions of the recovered short ids
type GetTxsMsg struct {
	IDs []mempool.ShortID
}

// TxsMsg answers GetTxsMsg with the transactions the sender could resolve
type TxsMsg struct {
	Txs []*wire.MsgTx
}

// Kind implements Message
func (*OddSketchMsg) Kind() Kind { return KindOddSketch }

// Kind implements Message
func (*MinisketchMsg) Kind() Kind { return KindMinisketch }

// Kind implements Message
func (*GetTxsMsg) Kind() Kind { return KindGetTxs }

// Kind implements Message
func (*TxsMsg) Kind() Kind { return KindTxs }
