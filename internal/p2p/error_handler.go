package p2p

import (
	"context"
	"errors"
	"math"
	"time"

	log "github.com/koinos/koinos-log-golang"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/reconnode/mempool-recon/internal/options"
	"github.com/reconnode/mempool-recon/internal/p2perrors"
)

// PeerError represents an error originating from a peer session
type PeerError struct {
	id  peer.ID
	err error
}

// NewPeerError pairs err with the peer it originated from
func NewPeerError(id peer.ID, err error) PeerError {
	return PeerError{id: id, err: err}
}

type errorScoreRecord struct {
	lastUpdate time.Time
	score      uint64
}

type canConnectRequest struct {
	id         peer.ID
	resultChan chan bool
}

// PeerErrorHandler handles PeerErrors and tracks errors over time
// to determine if a peer should be disconnected from
type PeerErrorHandler struct {
	errorScores        map[peer.ID]*errorScoreRecord
	disconnectPeerChan chan<- peer.ID
	peerErrorChan      <-chan PeerError
	canConnectChan     chan canConnectRequest

	opts options.PeerErrorHandlerOptions
}

// CanConnect to peer if the peer's error score is below the error score threshold
func (p *PeerErrorHandler) CanConnect(ctx context.Context, id peer.ID) bool {
	resultChan := make(chan bool, 1)
	select {
	case p.canConnectChan <- canConnectRequest{id: id, resultChan: resultChan}:
	case <-ctx.Done():
		return false
	}

	select {
	case res := <-resultChan:
		return res
	case <-ctx.Done():
		return false
	}
}

func (p *PeerErrorHandler) handleCanConnect(id peer.ID) bool {
	if record, ok := p.errorScores[id]; ok {
		p.decayErrorScore(record)
		return record.score < p.opts.ErrorScoreThreshold
	}

	return true
}

func (p *PeerErrorHandler) handleError(ctx context.Context, peerErr PeerError) {
	log.Infof("Encountered peer error: %s, %s", peerErr.id, peerErr.err.Error())

	if record, ok := p.errorScores[peerErr.id]; ok {
		p.decayErrorScore(record)
		record.score += p.getScoreForError(peerErr.err)
	} else {
		p.errorScores[peerErr.id] = &errorScoreRecord{
			lastUpdate: time.Now(),
			score:      p.getScoreForError(peerErr.err),
		}
	}

	if p.errorScores[peerErr.id].score >= p.opts.ErrorScoreThreshold {
		go func() {
			select {
			case p.disconnectPeerChan <- peerErr.id:
			case <-ctx.Done():
			}
		}()
	}
}

func (p *PeerErrorHandler) getScoreForError(err error) uint64 {
	// These should be ordered from most common error to least
	switch {

	// Peer misbehavior or potential attack vectors
	case errors.Is(err, p2perrors.ErrTransport):
		return p.opts.TransportErrorScore
	case errors.Is(err, p2perrors.ErrDeserialization):
		return p.opts.DeserializationErrorScore
	case errors.Is(err, p2perrors.ErrSketchMismatch):
		return p.opts.SketchMismatchErrorScore
	case errors.Is(err, p2perrors.ErrInvalidCapacity):
		return p.opts.InvalidCapacityErrorScore
	case errors.Is(err, p2perrors.ErrFrameTooLarge):
		return p.opts.FrameTooLargeErrorScore

	// Expected when a session is torn down or refused
	case errors.Is(err, p2perrors.ErrSessionClosed):
		return p.opts.SessionClosedErrorScore
	case errors.Is(err, p2perrors.ErrPeerBlacklisted):
		return p.opts.PeerBlacklistedErrorScore

	// Errors that should only originate from the local process
	case errors.Is(err, p2perrors.ErrSerialization):
		return p.opts.SerializationErrorScore

	default:
		return p.opts.UnknownErrorScore
	}
}

func (p *PeerErrorHandler) decayErrorScore(record *errorScoreRecord) {
	decayConstant := math.Log(2) / float64(p.opts.ErrorScoreDecayHalflife)
	now := time.Now()
	record.score = uint64(float64(record.score) * math.Exp(-1*decayConstant*float64(now.Sub(record.lastUpdate))))
	record.lastUpdate = now
}

// Start processing peer errors
func (p *PeerErrorHandler) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case perr := <-p.peerErrorChan:
				p.handleError(ctx, perr)
			case req := <-p.canConnectChan:
				req.resultChan <- p.handleCanConnect(req.id)

			case <-ctx.Done():
				return
			}
		}
	}()
}

// NewPeerErrorHandler creates a new PeerErrorHandler
func NewPeerErrorHandler(disconnectPeerChan chan<- peer.ID, peerErrorChan <-chan PeerError, opts options.PeerErrorHandlerOptions) *PeerErrorHandler {
	return &PeerErrorHandler{
		errorScores:        make(map[peer.ID]*errorScoreRecord),
		disconnectPeerChan: disconnectPeerChan,
		peerErrorChan:      peerErrorChan,
		canConnectChan:     make(chan canConnectRequest),
		opts:               opts,
	}
}
