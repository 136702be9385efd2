package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/wire"
	log "github.com/koinos/koinos-log-golang"
	"github.com/reconnode/mempool-recon/internal/metrics"
	"github.com/reconnode/mempool-recon/internal/options"
	"github.com/reconnode/mempool-recon/internal/p2perrors"
	"github.com/reconnode/mempool-recon/internal/util"
)

// Broadcast results, used as metric labels
const (
	BroadcastAccepted = "accepted"
	BroadcastRejected = "rejected"
	BroadcastTimeout  = "timeout"
	BroadcastSkipped  = "skipped"
)

// UpstreamBroadcaster resubmits transactions recovered from peers to the upstream node.
// Every submission is attempted once; the outcome is logged and never retried.
type UpstreamBroadcaster struct {
	rpc     UpstreamRPC
	cache   *BroadcastCache
	timeout time.Duration
}

// NewUpstreamBroadcaster creates a broadcaster submitting through rpc
func NewUpstreamBroadcaster(rpc UpstreamRPC, opts options.UpstreamOptions) *UpstreamBroadcaster {
	return &UpstreamBroadcaster{
		rpc:     rpc,
		cache:   NewBroadcastCache(opts.BroadcastCacheDuration),
		timeout: opts.BroadcastTimeout,
	}
}

// Broadcast submits tx upstream and waits at most the configured timeout.
// A transaction already submitted within the cache window is skipped.
func (u *UpstreamBroadcaster) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	if u.cache.CheckAndAdd(tx.TxHash()) {
		metrics.Broadcasts.WithLabelValues(BroadcastSkipped).Inc()
		return nil
	}

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	hash, err := u.rpc.SendRawTransaction(ctx, tx)
	switch {
	case err == nil:
		metrics.Broadcasts.WithLabelValues(BroadcastAccepted).Inc()
		log.Debugf("Resubmitted transaction %s upstream", hash)
		return nil

	case errors.Is(err, p2perrors.ErrBroadcastTimeout):
		metrics.Broadcasts.WithLabelValues(BroadcastTimeout).Inc()

	default:
		metrics.Broadcasts.WithLabelValues(BroadcastRejected).Inc()
	}

	log.Infof("Upstream rejected transaction %s: %s", util.TransactionString(tx), err)
	return err
}
