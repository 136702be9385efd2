// Package minisketch implements a PinSketch style set sketch over GF(2^64).
//
// A sketch of capacity c holds the odd power sums s1, s3, ..., s(2c-1) of its
// elements. Sketches are linear: merging the sketches of two sets gives the
// sketch of their symmetric difference, which can be decoded exactly as long
// as it holds at most c elements.
package minisketch

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/reconnode/mempool-recon/internal/p2perrors"
)

const (
	// FieldBits is the element width. Every element is a non-zero uint64.
	FieldBits = 64

	// MaxCapacity bounds the capacity accepted from the wire
	MaxCapacity = 1024

	// maxSplitAttempts bounds the random trace maps tried per factorization step
	maxSplitAttempts = 128
)

// Sketch is a capacity bounded linear sketch of a set of uint64 elements
type Sketch struct {
	capacity  int
	syndromes []uint64
}

// New returns an empty sketch of the given capacity
func New(capacity int) (*Sketch, error) {
	if capacity < 1 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w, capacity %d outside of [1, %d]", p2perrors.ErrInvalidCapacity, capacity, MaxCapacity)
	}
	return &Sketch{capacity: capacity, syndromes: make([]uint64, capacity)}, nil
}

// FromIDs returns the sketch of ids at the given capacity
func FromIDs(ids []uint64, capacity int) (*Sketch, error) {
	s, err := New(capacity)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.Add(id)
	}
	return s, nil
}

// CapacityForEstimate sizes a sketch from an estimated difference plus a margin,
// clamped to [1, max]
func CapacityForEstimate(estimate uint64, margin, max int) int {
	if max > MaxCapacity || max < 1 {
		max = MaxCapacity
	}
	if estimate >= uint64(max) {
		return max
	}
	capacity := int(estimate) + margin
	if capacity > max {
		return max
	}
	if capacity < 1 {
		return 1
	}
	return capacity
}

// BuildToCapacity builds a sketch of ids sized from an externally supplied
// estimate of the difference to be recovered
func BuildToCapacity(ids []uint64, estimate uint64, margin, max int) (*Sketch, error) {
	return FromIDs(ids, CapacityForEstimate(estimate, margin, max))
}

// FromBytes parses the wire form of a sketch; its capacity is implied by the length
func FromBytes(b []byte) (*Sketch, error) {
	if len(b) == 0 || len(b)%8 != 0 {
		return nil, fmt.Errorf("%w, minisketch length %d is not a positive multiple of 8", p2perrors.ErrDeserialization, len(b))
	}
	s, err := New(len(b) / 8)
	if err != nil {
		return nil, fmt.Errorf("%w, %s", p2perrors.ErrDeserialization, err)
	}
	for i := range s.syndromes {
		s.syndromes[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return s, nil
}

// Capacity returns the maximum number of elements the sketch can recover
func (s *Sketch) Capacity() int {
	return s.capacity
}

// Add toggles id in the sketch. Adding an element twice removes it again, and
// the zero element has no effect.
func (s *Sketch) Add(id uint64) {
	if id == 0 {
		return
	}
	var bySquare nibbleTable
	bySquare.setMul(gfSqr(id))
	power := id
	for i := range s.syndromes {
		s.syndromes[i] ^= power
		power = bySquare.apply(power)
	}
}

// Merge adds other into s. Both sketches must have the same capacity.
func (s *Sketch) Merge(other *Sketch) error {
	if s.capacity != other.capacity {
		return fmt.Errorf("%w, minisketch capacity %d against %d", p2perrors.ErrSketchMismatch, s.capacity, other.capacity)
	}
	for i := range s.syndromes {
		s.syndromes[i] ^= other.syndromes[i]
	}
	return nil
}

// Clone returns an independent copy of s
func (s *Sketch) Clone() *Sketch {
	c := &Sketch{capacity: s.capacity, syndromes: make([]uint64, len(s.syndromes))}
	copy(c.syndromes, s.syndromes)
	return c
}

// IsZero reports whether the sketch represents the empty set
func (s *Sketch) IsZero() bool {
	for _, v := range s.syndromes {
		if v != 0 {
			return false
		}
	}
	return true
}

// Bytes returns the wire form of the sketch, eight bytes per power sum
func (s *Sketch) Bytes() []byte {
	b := make([]byte, len(s.syndromes)*8)
	for i, v := range s.syndromes {
		binary.LittleEndian.PutUint64(b[i*8:], v)
	}
	return b
}

// Decode recovers the elements of the sketch in ascending order. It fails with
// ErrCapacityExceeded when the sketch does not describe a set of at most
// min(capacity, maxElements) elements. A non-positive maxElements means capacity.
//
// Failure detection is probabilistic when the difference exceeds the
// capacity. A locator of full degree carries no redundant power sums, so a
// set of capacity+1 elements is taken for some other set of capacity elements
// with a probability of roughly 1/capacity!. Small capacities should be sized
// with a margin for that reason.
//
// Rejecting a garbage sketch costs one trace over the locator, about
// 32*capacity^2 field multiplications.
func (s *Sketch) Decode(maxElements int) ([]uint64, error) {
	if maxElements <= 0 || maxElements > s.capacity {
		maxElements = s.capacity
	}
	if s.IsZero() {
		return []uint64{}, nil
	}

	locator := berlekampMassey(s.powerSums())
	size := len(locator) - 1
	if size < 1 || size > maxElements || locator[size] == 0 {
		return nil, fmt.Errorf("%w, locator of degree %d for capacity %d", p2perrors.ErrCapacityExceeded, size, maxElements)
	}

	// The locator is prod(1 - x_i z); reversing it gives prod(z - x_i)
	poly := make([]uint64, size+1)
	for i := range poly {
		poly[i] = locator[size-i]
	}

	roots, ok := findRoots(poly)
	if !ok || len(roots) != size {
		return nil, fmt.Errorf("%w, locator does not split into %d distinct roots", p2perrors.ErrCapacityExceeded, size)
	}

	check, _ := FromIDs(roots, s.capacity)
	for i := range s.syndromes {
		if check.syndromes[i] != s.syndromes[i] {
			return nil, fmt.Errorf("%w, recovered elements do not reproduce the sketch", p2perrors.ErrCapacityExceeded)
		}
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots, nil
}

// powerSums expands the odd power sums to s1..s(2c), using s(2k) = s(k)^2
func (s *Sketch) powerSums() []uint64 {
	sums := make([]uint64, 2*s.capacity)
	for k := 1; k <= len(sums); k++ {
		if k%2 == 1 {
			sums[k-1] = s.syndromes[k/2]
		} else {
			sums[k-1] = gfSqr(sums[k/2-1])
		}
	}
	return sums
}

// berlekampMassey returns the shortest connection polynomial generating sums,
// trimmed to its linear complexity. A result longer than the complexity
// implies is returned untrimmed so the caller rejects it.
func berlekampMassey(sums []uint64) []uint64 {
	current := []uint64{1}
	previous := []uint64{1}
	length := 0
	gap := 1
	lastDiscrepancy := uint64(1)

	for n := range sums {
		d := sums[n]
		for i := 1; i <= length && i < len(current); i++ {
			d ^= gfMul(current[i], sums[n-i])
		}
		if d == 0 {
			gap++
			continue
		}

		coef := gfMul(d, gfInv(lastDiscrepancy))
		saved := polyClone(current)
		if need := len(previous) + gap; len(current) < need {
			grown := make([]uint64, need)
			copy(grown, current)
			current = grown
		}
		mulAdd(current[gap:], previous, coef)

		if 2*length <= n {
			length = n + 1 - length
			previous = saved
			lastDiscrepancy = d
			gap = 1
		} else {
			gap++
		}
	}

	current = polyTrim(current)
	if len(current) > length+1 {
		return current
	}
	if len(current) < length+1 {
		// The complexity exceeds the degree: a root at infinity, never a valid set
		grown := make([]uint64, length+1)
		copy(grown, current)
		return grown
	}
	return current
}

// findRoots returns the roots of the monic polynomial f if it splits into
// distinct linear factors over GF(2^64)
func findRoots(f []uint64) ([]uint64, bool) {
	f = polyTrim(f)
	switch len(f) - 1 {
	case 0:
		return nil, true
	case 1:
		return []uint64{f[0]}, true
	}

	rng := splitRand{state: f[0] ^ 0x9e3779b97f4a7c15}
	roots := make([]uint64, 0, len(f)-1)
	if !splitRoots(f, &rng, &roots, true) {
		return nil, false
	}
	return roots, true
}

// splitRoots factors f with the Berlekamp trace algorithm: for a random beta,
// gcd(f, Tr(beta*x)) collects the roots r with Tr(beta*r) = 0.
//
// With checkSplits set the first trace also tests that f splits at all:
// T^2 + T = beta*(x^(2^64) + x), which vanishes mod f iff f divides
// x^(2^64) - x, the product of all distinct linear factors.
func splitRoots(f []uint64, rng *splitRand, roots *[]uint64, checkSplits bool) bool {
	degree := len(f) - 1
	if degree == 0 {
		return true
	}
	if degree == 1 {
		*roots = append(*roots, f[0])
		return true
	}

	m := newModulus(f)
	for attempt := 0; attempt < maxSplitAttempts; attempt++ {
		trace := m.trace(rng.next())

		if checkSplits {
			sq := m.sqr(trace)
			for i := range sq {
				if sq[i] != trace[i] {
					return false
				}
			}
			checkSplits = false
		}

		g := polyGCD(f, trace)
		dg := len(g) - 1
		if dg <= 0 || dg >= degree {
			continue
		}

		h, r := polyDivMod(f, g)
		if len(r) != 0 {
			return false
		}
		return splitRoots(g, rng, roots, false) && splitRoots(polyMonic(h), rng, roots, false)
	}
	return false
}

// splitRand is a xorshift generator; decoding only needs the trace maps to
// vary, not to be unpredictable
type splitRand struct {
	state uint64
}

func (r *splitRand) next() uint64 {
	for {
		r.state ^= r.state << 13
		r.state ^= r.state >> 7
		r.state ^= r.state << 17
		if r.state != 0 {
			return r.state
		}
		r.state = 0x2545f4914f6cdd1d
	}
}
