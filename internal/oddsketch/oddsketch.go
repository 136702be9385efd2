// Package oddsketch implements the odd sketch, a fixed width XOR bit vector
// whose population estimates the size of the set it was built from. Merging
// two odd sketches yields the sketch of the symmetric difference of their sets.
package oddsketch

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
	"github.com/reconnode/mempool-recon/internal/p2perrors"
)

const (
	// DefaultBits is the default sketch width, 256 bytes on the wire
	DefaultBits = 2048

	// DefaultHashes is the default number of bit positions toggled per element
	DefaultHashes = 1
)

// Params fixes the shape of a sketch. Sketches can only be merged with sketches
// of identical Params.
type Params struct {
	Bits   uint32
	Hashes uint32
}

// DefaultParams returns the parameters used on the wire by default
func DefaultParams() Params {
	return Params{Bits: DefaultBits, Hashes: DefaultHashes}
}

// Validate checks that the parameters describe a usable sketch
func (p Params) Validate() error {
	if p.Bits == 0 || p.Bits%64 != 0 {
		return fmt.Errorf("odd sketch width must be a positive multiple of 64, was %d", p.Bits)
	}
	if p.Hashes == 0 {
		return fmt.Errorf("odd sketch needs at least one hash")
	}
	return nil
}

// ByteLen is the serialized length of a sketch with these parameters
func (p Params) ByteLen() int {
	return int(p.Bits / 8)
}

// OddSketch is an M bit vector where each element flips k positions
type OddSketch struct {
	params Params
	words  []uint64
}

// New returns an empty sketch. Invalid parameters fall back to the defaults.
func New(params Params) *OddSketch {
	if params.Validate() != nil {
		params = DefaultParams()
	}
	return &OddSketch{
		params: params,
		words:  make([]uint64, params.Bits/64),
	}
}

// Build returns the sketch of the given ids
func Build(params Params, ids []uint64) *OddSketch {
	s := New(params)
	for _, id := range ids {
		s.Toggle(id)
	}
	return s
}

// FromBytes parses a sketch in its wire form
func FromBytes(params Params, b []byte) (*OddSketch, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w, %s", p2perrors.ErrDeserialization, err)
	}
	if len(b) != params.ByteLen() {
		return nil, fmt.Errorf("%w, odd sketch must be %d bytes, was %d", p2perrors.ErrDeserialization, params.ByteLen(), len(b))
	}

	s := New(params)
	for i := range s.words {
		s.words[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return s, nil
}

// Params returns the parameters of the sketch
func (s *OddSketch) Params() Params {
	return s.params
}

// Toggle flips the bit positions of id. Toggling the same id twice is a no-op.
func (s *OddSketch) Toggle(id uint64) {
	var buf [9]byte
	binary.LittleEndian.PutUint64(buf[:8], id)
	for i := uint32(0); i < s.params.Hashes; i++ {
		buf[8] = byte(i)
		pos := xxhash.Sum64(buf[:]) % uint64(s.params.Bits)
		s.words[pos/64] ^= 1 << (pos % 64)
	}
}

// Xor merges other into s in place
func (s *OddSketch) Xor(other *OddSketch) error {
	if s.params != other.params {
		return fmt.Errorf("%w, odd sketch %d/%d against %d/%d", p2perrors.ErrSketchMismatch,
			s.params.Bits, s.params.Hashes, other.params.Bits, other.params.Hashes)
	}
	for i := range s.words {
		s.words[i] ^= other.words[i]
	}
	return nil
}

// Merge returns a new sketch, the XOR of a and b
func Merge(a, b *OddSketch) (*OddSketch, error) {
	c := a.Clone()
	if err := c.Xor(b); err != nil {
		return nil, err
	}
	return c, nil
}

// Clone returns a copy that shares no state with s
func (s *OddSketch) Clone() *OddSketch {
	c := &OddSketch{params: s.params, words: make([]uint64, len(s.words))}
	copy(c.words, s.words)
	return c
}

// Reset clears every bit
func (s *OddSketch) Reset() {
	for i := range s.words {
		s.words[i] = 0
	}
}

// PopCount returns the number of set bits
func (s *OddSketch) PopCount() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// IsZero reports whether no bit is set
func (s *OddSketch) IsZero() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether both sketches have the same parameters and bits
func (s *OddSketch) Equal(other *OddSketch) bool {
	if s.params != other.params {
		return false
	}
	for i := range s.words {
		if s.words[i] != other.words[i] {
			return false
		}
	}
	return true
}

// Size estimates the number of elements the sketch was built from.
//
// Each element flips k positions, so after t flips the expected population is
// M/2 * (1 - (1 - 2/M)^t). Inverting gives t, and t/k the element count. Once
// half of the bits are set the sketch is saturated and the largest
// representable estimate is returned.
func (s *OddSketch) Size() uint64 {
	z := float64(s.PopCount())
	if z == 0 {
		return 0
	}

	m := float64(s.params.Bits)
	if 2*z >= m {
		z = m/2 - 1
	}

	flips := math.Log(1-2*z/m) / math.Log(1-2/m)
	return uint64(math.Round(flips / float64(s.params.Hashes)))
}

// Bytes returns the wire form of the sketch
func (s *OddSketch) Bytes() []byte {
	b := make([]byte, len(s.words)*8)
	for i, w := range s.words {
		binary.LittleEndian.PutUint64(b[i*8:], w)
	}
	return b
}
