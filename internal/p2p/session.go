package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/wire"
	log "github.com/koinos/koinos-log-golang"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/reconnode/mempool-recon/internal/mempool"
	"github.com/reconnode/mempool-recon/internal/metrics"
	"github.com/reconnode/mempool-recon/internal/minisketch"
	"github.com/reconnode/mempool-recon/internal/oddsketch"
	"github.com/reconnode/mempool-recon/internal/options"
	"github.com/reconnode/mempool-recon/internal/p2perrors"
	"github.com/reconnode/mempool-recon/internal/protocol"
	"github.com/reconnode/mempool-recon/internal/util"
	"golang.org/x/sync/errgroup"
)

// Broadcaster resubmits transactions recovered from peers upstream
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *wire.MsgTx) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// PeerSession drives reconciliation with a single peer over one stream.
//
// The session keeps no state between messages. Replies to inbound messages
// and heartbeat odd sketches share one outbound queue drained by a single
// writer, in whatever order they become ready.
type PeerSession struct {
	id          peer.ID
	store       *mempool.TransactionStore
	codec       *protocol.Codec
	broadcaster Broadcaster
	opts        options.PeerSessionOptions

	peerErrorChan chan<- PeerError
	outbound      chan protocol.Message
	sketches      chan *protocol.MinisketchMsg
}

// NewPeerSession creates a session with peer id against the shared store
func NewPeerSession(
	id peer.ID,
	store *mempool.TransactionStore,
	codec *protocol.Codec,
	broadcaster Broadcaster,
	peerErrorChan chan<- PeerError,
	opts options.PeerSessionOptions) *PeerSession {

	queueSize := opts.OutboundQueueSize
	if queueSize < 1 {
		queueSize = 1
	}

	return &PeerSession{
		id:            id,
		store:         store,
		codec:         codec,
		broadcaster:   broadcaster,
		opts:          opts,
		peerErrorChan: peerErrorChan,
		outbound:      make(chan protocol.Message, queueSize),
		sketches:      make(chan *protocol.MinisketchMsg, 1),
	}
}

// ID returns the remote peer of the session
func (s *PeerSession) ID() peer.ID {
	return s.id
}

// Handle reacts to one inbound message and returns the reply to send, if any.
// An error is fatal to the session.
func (s *PeerSession) Handle(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	switch m := msg.(type) {
	case *protocol.OddSketchMsg:
		return s.handleOddSketch(m)
	case *protocol.MinisketchMsg:
		return s.handleMinisketch(m)
	case *protocol.GetTxsMsg:
		return s.handleGetTxs(m), nil
	case *protocol.TxsMsg:
		s.handleTxs(ctx, m)
		return nil, nil
	default:
		return nil, fmt.Errorf("%w, unexpected message %T", p2perrors.ErrDeserialization, msg)
	}
}

func (s *PeerSession) handleOddSketch(msg *protocol.OddSketchMsg) (protocol.Message, error) {
	remote, err := oddsketch.FromBytes(s.store.OddSketchParams(), msg.Sketch)
	if err != nil {
		return nil, err
	}
	if err := remote.Xor(s.store.OddSketchSnapshot()); err != nil {
		return nil, err
	}

	estimate := remote.Size()
	metrics.DifferenceEstimate.Observe(float64(estimate))

	local, err := s.store.MinisketchToEstimate(estimate, s.opts.MinisketchCapacityMargin, s.maxCapacity())
	if err != nil {
		return nil, err
	}

	log.Debugf("Peer %s estimated difference %d, sending minisketch of capacity %d", s.id, estimate, local.Capacity())
	return &protocol.MinisketchMsg{Sketch: local.Bytes()}, nil
}

func (s *PeerSession) handleMinisketch(msg *protocol.MinisketchMsg) (protocol.Message, error) {
	remote, err := minisketch.FromBytes(msg.Sketch)
	if err != nil {
		return nil, err
	}
	if remote.Capacity() > s.maxCapacity() {
		return nil, fmt.Errorf("%w, peer sent capacity %d, limit is %d", p2perrors.ErrInvalidCapacity, remote.Capacity(), s.maxCapacity())
	}

	local, err := s.store.MinisketchSnapshot(remote.Capacity())
	if err != nil {
		return nil, err
	}
	if err := remote.Merge(local); err != nil {
		return nil, err
	}

	decoded, err := remote.Decode(s.opts.MinisketchDecodeBufferSize)
	if errors.Is(err, p2perrors.ErrCapacityExceeded) {
		metrics.DecodeFailures.Inc()
		log.Infof("Could not reconcile with peer %s: %s", s.id, err)
		return &protocol.GetTxsMsg{IDs: []mempool.ShortID{}}, nil
	}
	if err != nil {
		return nil, err
	}

	ids := mempool.FromUint64s(decoded)
	metrics.RecoveredIDs.Add(float64(len(ids)))
	if len(ids) > 0 {
		log.Debugf("Recovered %d short ids from peer %s: %s", len(ids), s.id, util.ShortIDsString(decoded, 8))
	}
	return &protocol.GetTxsMsg{IDs: ids}, nil
}

func (s *PeerSession) handleGetTxs(msg *protocol.GetTxsMsg) protocol.Message {
	found := s.store.GetMany(msg.IDs)
	txs := found[:0]
	for _, tx := range found {
		if protocol.CanEncodeTx(tx) {
			txs = append(txs, tx)
		}
	}
	return &protocol.TxsMsg{Txs: txs}
}

func (s *PeerSession) handleTxs(ctx context.Context, msg *protocol.TxsMsg) {
	for _, tx := range msg.Txs {
		if s.store.Insert(tx) {
			log.Debugf("Received transaction from peer %s - %s", s.id, util.TransactionString(tx))
		}

		if s.broadcaster == nil {
			continue
		}
		go func(tx *wire.MsgTx) {
			if err := s.broadcaster.Broadcast(ctx, tx); err != nil {
				log.Debugf("Resubmission of transaction from peer %s failed: %s", s.id, err)
			}
		}(tx)
	}
}

func (s *PeerSession) maxCapacity() int {
	if s.opts.MinisketchDecodeBufferSize < 1 || s.opts.MinisketchDecodeBufferSize > minisketch.MaxCapacity {
		return minisketch.MaxCapacity
	}
	return s.opts.MinisketchDecodeBufferSize
}

func (s *PeerSession) enqueue(ctx context.Context, msg protocol.Message) error {
	select {
	case s.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PeerSession) readLoop(ctx context.Context, r *protocol.Reader) error {
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			return err
		}
		metrics.MessagesReceived.WithLabelValues(msg.Kind().String()).Inc()

		if m, ok := msg.(*protocol.MinisketchMsg); ok {
			s.offerSketch(m)
			continue
		}

		reply, err := s.Handle(ctx, msg)
		if err != nil {
			return err
		}
		if reply == nil {
			continue
		}
		if err := s.enqueue(ctx, reply); err != nil {
			return err
		}
	}
}

// offerSketch hands a minisketch to the decode loop. Only the newest pending
// sketch is kept: the rounds are stateless, so an older one is stale.
func (s *PeerSession) offerSketch(msg *protocol.MinisketchMsg) {
	for {
		select {
		case s.sketches <- msg:
			return
		default:
		}

		select {
		case <-s.sketches:
			metrics.StaleSketches.Inc()
			log.Debugf("Dropping stale minisketch from peer %s", s.id)
		default:
		}
	}
}

// decodeLoop decodes minisketches one at a time, so a slow decode neither
// stalls the reader nor runs concurrently with another for the same peer
func (s *PeerSession) decodeLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-s.sketches:
			reply, err := s.handleMinisketch(msg)
			if err != nil {
				return err
			}
			if err := s.enqueue(ctx, reply); err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *PeerSession) writeLoop(ctx context.Context, stream io.Writer) error {
	w := s.codec.NewWriter(stream)
	deadliner, hasDeadline := stream.(writeDeadliner)

	for {
		select {
		case msg := <-s.outbound:
			if hasDeadline && s.opts.WriteTimeout > 0 {
				if err := deadliner.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
					return fmt.Errorf("%w, set write deadline, %s", p2perrors.ErrTransport, err)
				}
			}
			if err := w.WriteMessage(msg); err != nil {
				return err
			}
			metrics.MessagesSent.WithLabelValues(msg.Kind().String()).Inc()

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *PeerSession) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			msg := &protocol.OddSketchMsg{Sketch: s.store.OddSketchSnapshot().Bytes()}

			// A full queue means replies are pending, skip this beat
			select {
			case s.outbound <- msg:
			default:
				log.Debugf("Outbound queue to peer %s is full, skipping heartbeat", s.id)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run serves the session over stream until a read, decode or write fails or
// ctx is cancelled. The stream is closed on return and a failure is reported
// to the peer error handler.
func (s *PeerSession) Run(ctx context.Context, stream io.ReadWriteCloser) error {
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	log.Infof("Starting session with peer %s", s.id)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx, s.codec.NewReader(stream)) })
	g.Go(func() error { return s.writeLoop(gctx, stream) })
	g.Go(func() error { return s.decodeLoop(gctx) })
	if s.opts.HeartbeatInterval > 0 {
		g.Go(func() error { return s.heartbeatLoop(gctx) })
	}

	// Unblocks the reader once any loop has failed
	g.Go(func() error {
		<-gctx.Done()
		stream.Close()
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil {
		log.Infof("Closed session with peer %s", s.id)
		return fmt.Errorf("%w, %s", p2perrors.ErrSessionClosed, ctx.Err())
	}

	log.Infof("Session with peer %s ended: %s", s.id, err)
	if s.peerErrorChan != nil {
		go func() {
			s.peerErrorChan <- PeerError{id: s.id, err: err}
		}()
	}
	return err
}
