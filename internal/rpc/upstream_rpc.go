package rpc

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// UpstreamRPC interface for the upstream node RPC methods required for resubmission
type UpstreamRPC interface {
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
}
