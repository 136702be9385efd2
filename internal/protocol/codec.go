package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-msgio"
	"github.com/reconnode/mempool-recon/internal/mempool"
	"github.com/reconnode/mempool-recon/internal/p2perrors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// DefaultMaxFrameSize bounds a single frame, large enough for a TxsMsg
	// answering a full decode buffer of standard transactions
	DefaultMaxFrameSize = 32 << 20

	shortIDSize = 8
)

// Codec encodes and decodes reconciliation messages. Decoding is total: any
// malformed input is reported as an error wrapping ErrDeserialization.
type Codec struct {
	oddSketchLen int
	maxFrameSize int
}

// NewCodec returns a codec expecting odd sketches of oddSketchLen bytes.
// A non-positive maxFrameSize selects DefaultMaxFrameSize.
func NewCodec(oddSketchLen, maxFrameSize int) *Codec {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{oddSketchLen: oddSketchLen, maxFrameSize: maxFrameSize}
}

// CanEncodeTx reports whether tx survives a round trip through a TxsMsg.
// A transaction without inputs cannot: its zero input count reads back as
// the segwit marker.
func CanEncodeTx(tx *wire.MsgTx) bool {
	return tx != nil && len(tx.TxIn) > 0
}

// Encode returns the frame payload of msg: its tag followed by its body.
//
// GetTxs and Txs bodies are a varint count followed by fixed64 short ids or
// length delimited serialized transactions, in protobuf wire encoding.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w, nil message", p2perrors.ErrSerialization)
	}
	b := []byte{byte(msg.Kind())}

	switch m := msg.(type) {
	case *OddSketchMsg:
		b = append(b, m.Sketch...)

	case *MinisketchMsg:
		b = append(b, m.Sketch...)

	case *GetTxsMsg:
		b = protowire.AppendVarint(b, uint64(len(m.IDs)))
		for _, id := range m.IDs {
			b = protowire.AppendFixed64(b, uint64(id))
		}

	case *TxsMsg:
		b = protowire.AppendVarint(b, uint64(len(m.Txs)))
		var buf bytes.Buffer
		for i, tx := range m.Txs {
			if tx == nil {
				return nil, fmt.Errorf("%w, nil transaction", p2perrors.ErrSerialization)
			}
			if !CanEncodeTx(tx) {
				return nil, fmt.Errorf("%w, transaction %d has no inputs", p2perrors.ErrSerialization, i)
			}
			buf.Reset()
			if err := tx.Serialize(&buf); err != nil {
				return nil, fmt.Errorf("%w, %s", p2perrors.ErrSerialization, err)
			}
			b = protowire.AppendBytes(b, buf.Bytes())
		}

	default:
		return nil, fmt.Errorf("%w, unknown message type %T", p2perrors.ErrSerialization, msg)
	}

	if len(b) > c.maxFrameSize {
		return nil, fmt.Errorf("%w, %s message of %d bytes", p2perrors.ErrFrameTooLarge, msg.Kind(), len(b))
	}
	return b, nil
}

// Decode parses a frame payload. The payload is not retained.
func (c *Codec) Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w, empty frame", p2perrors.ErrDeserialization)
	}
	if len(payload) > c.maxFrameSize {
		return nil, fmt.Errorf("%w, frame of %d bytes", p2perrors.ErrFrameTooLarge, len(payload))
	}

	kind, body := Kind(payload[0]), payload[1:]
	switch kind {
	case KindOddSketch:
		if len(body) != c.oddSketchLen {
			return nil, fmt.Errorf("%w, odd sketch of %d bytes, expected %d", p2perrors.ErrDeserialization, len(body), c.oddSketchLen)
		}
		return &OddSketchMsg{Sketch: append([]byte{}, body...)}, nil

	case KindMinisketch:
		if len(body) == 0 || len(body)%shortIDSize != 0 {
			return nil, fmt.Errorf("%w, minisketch of %d bytes", p2perrors.ErrDeserialization, len(body))
		}
		return &MinisketchMsg{Sketch: append([]byte{}, body...)}, nil

	case KindGetTxs:
		return decodeGetTxs(body)

	case KindTxs:
		return decodeTxs(body)

	default:
		return nil, fmt.Errorf("%w, unknown message kind %d", p2perrors.ErrDeserialization, byte(kind))
	}
}

func decodeGetTxs(body []byte) (Message, error) {
	count, rest, err := consumeCount(body)
	if err != nil {
		return nil, err
	}
	if count != uint64(len(rest)/shortIDSize) || len(rest)%shortIDSize != 0 {
		return nil, fmt.Errorf("%w, gettxs declares %d ids in %d bytes", p2perrors.ErrDeserialization, count, len(rest))
	}

	ids := make([]mempool.ShortID, count)
	for i := range ids {
		v, n := protowire.ConsumeFixed64(rest)
		if n < 0 {
			return nil, fmt.Errorf("%w, short id %d, %s", p2perrors.ErrDeserialization, i, protowire.ParseError(n))
		}
		ids[i] = mempool.ShortID(v)
		rest = rest[n:]
	}
	return &GetTxsMsg{IDs: ids}, nil
}

func decodeTxs(body []byte) (Message, error) {
	count, rest, err := consumeCount(body)
	if err != nil {
		return nil, err
	}
	// Every transaction takes at least its length prefix
	if count > uint64(len(rest)) {
		return nil, fmt.Errorf("%w, txs declares %d transactions in %d bytes", p2perrors.ErrDeserialization, count, len(rest))
	}

	txs := make([]*wire.MsgTx, 0, count)
	for i := uint64(0); i < count; i++ {
		raw, n := protowire.ConsumeBytes(rest)
		if n < 0 {
			return nil, fmt.Errorf("%w, transaction %d, %s", p2perrors.ErrDeserialization, i, protowire.ParseError(n))
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w, transaction %d is empty", p2perrors.ErrDeserialization, i)
		}

		tx, err := btcutil.NewTxFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("%w, transaction %d, %s", p2perrors.ErrDeserialization, i, err)
		}
		if tx.MsgTx().SerializeSize() != len(raw) {
			return nil, fmt.Errorf("%w, transaction %d has trailing bytes", p2perrors.ErrDeserialization, i)
		}

		txs = append(txs, tx.MsgTx())
		rest = rest[n:]
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w, %d trailing bytes after transactions", p2perrors.ErrDeserialization, len(rest))
	}
	return &TxsMsg{Txs: txs}, nil
}

func consumeCount(b []byte) (uint64, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, fmt.Errorf("%w, count, %s", p2perrors.ErrDeserialization, protowire.ParseError(n))
	}
	return v, b[n:], nil
}

// Reader reads length prefixed frames from a stream, buffering partial reads
// until a whole frame is available
type Reader struct {
	codec *Codec
	r     msgio.Reader
}

// NewReader wraps r
func (c *Codec) NewReader(r io.Reader) *Reader {
	return &Reader{codec: c, r: msgio.NewVarintReaderSize(r, c.maxFrameSize)}
}

// ReadMessage blocks until a full frame is read and decodes it. Transport
// failures wrap ErrTransport, malformed frames ErrDeserialization or ErrFrameTooLarge.
func (r *Reader) ReadMessage() (Message, error) {
	payload, err := r.r.ReadMsg()
	if err != nil {
		if errors.Is(err, msgio.ErrMsgTooLarge) {
			return nil, fmt.Errorf("%w, %s", p2perrors.ErrFrameTooLarge, err)
		}
		return nil, fmt.Errorf("%w, %s", p2perrors.ErrTransport, err)
	}
	defer r.r.ReleaseMsg(payload)

	return r.codec.Decode(payload)
}

// Writer writes whole frames to a stream. It is not safe for concurrent use;
// a session owns exactly one writer goroutine.
type Writer struct {
	codec *Codec
	w     msgio.Writer
}

// NewWriter wraps w
func (c *Codec) NewWriter(w io.Writer) *Writer {
	return &Writer{codec: c, w: msgio.NewVarintWriter(w)}
}

// WriteMessage encodes msg and writes it as one frame
func (w *Writer) WriteMessage(msg Message) error {
	payload, err := w.codec.Encode(msg)
	if err != nil {
		return err
	}
	if err := w.w.WriteMsg(payload); err != nil {
		return fmt.Errorf("%w, %s", p2perrors.ErrTransport, err)
	}
	return nil
}
