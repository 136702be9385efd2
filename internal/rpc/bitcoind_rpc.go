package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/reconnode/mempool-recon/internal/options"
	"github.com/reconnode/mempool-recon/internal/p2perrors"
)

// BitcoindRPC implements UpstreamRPC by communicating with a bitcoind compatible node over JSON-RPC
type BitcoindRPC struct {
	client *rpcclient.Client
}

// NewBitcoindRPC factory. The client uses HTTP POST mode and does not connect until the first call.
func NewBitcoindRPC(opts options.UpstreamOptions) (*BitcoindRPC, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         opts.Host,
		User:         opts.User,
		Pass:         opts.Pass,
		HTTPPostMode: true,
		DisableTLS:   opts.DisableTLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w NewBitcoindRPC, %s", p2perrors.ErrBroadcast, err)
	}

	return &BitcoindRPC{client: client}, nil
}

// SendRawTransaction rpc call
func (b *BitcoindRPC) SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	type result struct {
		hash *chainhash.Hash
		err  error
	}

	// Receive blocks on the HTTP round trip, which has no context of its own
	resultChan := make(chan result, 1)
	future := b.client.SendRawTransactionAsync(tx, false)
	go func() {
		hash, err := future.Receive()
		resultChan <- result{hash: hash, err: err}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			return nil, fmt.Errorf("%w SendRawTransaction, %s", p2perrors.ErrBroadcast, res.err)
		}
		return res.hash, nil

	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w SendRawTransaction, %s", p2perrors.ErrBroadcastTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("%w SendRawTransaction, %s", p2perrors.ErrBroadcast, ctx.Err())
	}
}

// Close shuts the client down
func (b *BitcoindRPC) Close() {
	b.client.Shutdown()
}
