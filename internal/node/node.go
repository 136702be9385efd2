package node

import (
	"context"
	"crypto/elliptic"
	crand "crypto/rand"
	"crypto/sha256"
	"fmt"
	"time"

	"filippo.io/keygen"
	log "github.com/koinos/koinos-log-golang"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/reconnode/mempool-recon/internal/mempool"
	"github.com/reconnode/mempool-recon/internal/options"
	"github.com/reconnode/mempool-recon/internal/p2p"
	"github.com/reconnode/mempool-recon/internal/p2perrors"
	"github.com/reconnode/mempool-recon/internal/protocol"
)

// ProtocolID is the libp2p stream protocol carrying reconciliation messages
const ProtocolID = "/mempool-recon/1.0.0"

const canConnectTimeout = time.Second

// MempoolReconNode is the core object representing a reconciliation node
type MempoolReconNode struct {
	Host             host.Host
	Store            *mempool.TransactionStore
	Codec            *protocol.Codec
	Broadcaster      p2p.Broadcaster
	PeerErrorHandler *p2p.PeerErrorHandler

	initialPeers       []peer.AddrInfo
	peerErrorChan      chan p2p.PeerError
	disconnectPeerChan chan peer.ID

	options options.Config
}

// NewMempoolReconNode creates a libp2p node object listening on the given multiaddress.
// listenAddr is a multiaddress string on which to listen.
// seed is the string from which the node identity is derived. An empty seed generates a random identity.
func NewMempoolReconNode(listenAddr string, store *mempool.TransactionStore, broadcaster p2p.Broadcaster, seed string, config *options.Config) (*MempoolReconNode, error) {
	privateKey, err := generatePrivateKey(seed)
	if err != nil {
		return nil, err
	}

	host, err := libp2p.New(
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Identity(privateKey),
	)
	if err != nil {
		return nil, err
	}

	node := &MempoolReconNode{
		Host:               host,
		Store:              store,
		Codec:              protocol.NewCodec(store.OddSketchParams().ByteLen(), config.MempoolOptions.MaxFrameSize),
		Broadcaster:        broadcaster,
		peerErrorChan:      make(chan p2p.PeerError),
		disconnectPeerChan: make(chan peer.ID),
		options:            *config,
	}

	node.PeerErrorHandler = p2p.NewPeerErrorHandler(node.disconnectPeerChan, node.peerErrorChan, config.PeerErrorHandlerOptions)

	for _, peerStr := range config.NodeOptions.InitialPeers {
		addr, err := parsePeerAddress(peerStr)
		if err != nil {
			log.Warnf("Error parsing peer address: %v", err)
			continue
		}
		node.initialPeers = append(node.initialPeers, *addr)
	}

	return node, nil
}

func generatePrivateKey(seed string) (crypto.PrivKey, error) {
	if len(seed) == 0 {
		privateKey, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 0, crand.Reader)
		return privateKey, err
	}

	secret := sha256.Sum256([]byte(seed))
	ecdsaKey, err := keygen.ECDSA(elliptic.P256(), secret[:])
	if err != nil {
		return nil, err
	}

	privateKey, _, err := crypto.ECDSAKeyPairFromKey(ecdsaKey)
	return privateKey, err
}

func parsePeerAddress(peerStr string) (*peer.AddrInfo, error) {
	ma, err := multiaddr.NewMultiaddr(peerStr)
	if err != nil {
		return nil, err
	}
	return peer.AddrInfoFromP2pAddr(ma)
}

func (n *MempoolReconNode) newSession(id peer.ID) *p2p.PeerSession {
	return p2p.NewPeerSession(id, n.Store, n.Codec, n.Broadcaster, n.peerErrorChan, n.options.PeerSessionOptions)
}

func (n *MempoolReconNode) handleStream(ctx context.Context, s network.Stream) {
	id := s.Conn().RemotePeer()

	checkCtx, cancel := context.WithTimeout(ctx, canConnectTimeout)
	defer cancel()
	if !n.PeerErrorHandler.CanConnect(checkCtx, id) {
		log.Infof("Refusing session from peer %s: %s", id, p2perrors.ErrPeerBlacklisted)
		s.Reset()
		return
	}

	go n.newSession(id).Run(ctx, s)
}

// ConnectToPeer connects the node to the given peer and opens a reconciliation stream
func (n *MempoolReconNode) ConnectToPeer(ctx context.Context, addr peer.AddrInfo) (network.Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, n.options.NodeOptions.DialTimeout)
	defer cancel()

	if err := n.Host.Connect(dialCtx, addr); err != nil {
		return nil, fmt.Errorf("%w, connect, %s", p2perrors.ErrTransport, err)
	}

	s, err := n.Host.NewStream(dialCtx, addr.ID, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("%w, open stream, %s", p2perrors.ErrTransport, err)
	}

	return s, nil
}

// maintainPeer keeps a session open with a configured peer, redialing after
// every session end while the peer's error score allows it
func (n *MempoolReconNode) maintainPeer(ctx context.Context, addr peer.AddrInfo) {
	for {
		if n.PeerErrorHandler.CanConnect(ctx, addr.ID) {
			log.Infof("Attempting to connect to peer %v", addr.ID)
			s, err := n.ConnectToPeer(ctx, addr)
			if err != nil {
				log.Infof("Could not connect to peer %v: %s", addr.ID, err)
				select {
				case n.peerErrorChan <- p2p.NewPeerError(addr.ID, err):
				case <-ctx.Done():
				}
			} else {
				// Session failures are reported by the session itself
				n.newSession(addr.ID).Run(ctx, s)
			}
		}

		select {
		case <-time.After(n.options.NodeOptions.PeerRetryInterval):
		case <-ctx.Done():
			return
		}
	}
}

func (n *MempoolReconNode) disconnectLoop(ctx context.Context) {
	for {
		select {
		case id := <-n.disconnectPeerChan:
			log.Infof("Disconnecting from peer %s", id)
			if err := n.Host.Network().ClosePeer(id); err != nil {
				log.Warnf("Error disconnecting from peer %s: %s", id, err)
			}

		case <-ctx.Done():
			return
		}
	}
}

// Start accepting sessions and connect to the configured peers. Every
// session ends when ctx is cancelled.
func (n *MempoolReconNode) Start(ctx context.Context) {
	n.PeerErrorHandler.Start(ctx)
	go n.disconnectLoop(ctx)

	n.Host.SetStreamHandler(ProtocolID, func(s network.Stream) {
		n.handleStream(ctx, s)
	})

	for _, addr := range n.initialPeers {
		go n.maintainPeer(ctx, addr)
	}
}

// Close the node
func (n *MempoolReconNode) Close() error {
	n.Host.RemoveStreamHandler(ProtocolID)
	return n.Host.Close()
}

// GetListenAddress returns the multiaddress on which the node is listening
func (n *MempoolReconNode) GetListenAddress() multiaddr.Multiaddr {
	return n.Host.Addrs()[0]
}

// GetPeerAddress returns the p2p multiaddress to which other peers should connect
func (n *MempoolReconNode) GetPeerAddress() multiaddr.Multiaddr {
	hostAddr, _ := multiaddr.NewMultiaddr(fmt.Sprintf("/p2p/%s", n.Host.ID()))
	return n.GetListenAddress().Encapsulate(hostAddr)
}
