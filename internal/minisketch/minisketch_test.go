package minisketch

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/reconnode/mempool-recon/internal/p2perrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeIDs(seed uint64, n int) []uint64 {
	ids := make([]uint64, n)
	x := seed
	for i := range ids {
		x += 0x9e3779b97f4a7c15
		z := x
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		ids[i] = z ^ (z >> 31)
	}
	return ids
}

func sorted(ids []uint64) []uint64 {
	s := append([]uint64{}, ids...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s
}

func TestFieldArithmetic(t *testing.T) {
	ids := makeIDs(1, 50)
	for i, a := range ids {
		b := ids[(i+1)%len(ids)]
		c := ids[(i+2)%len(ids)]

		assert.Equal(t, a, gfMul(a, 1))
		assert.Equal(t, uint64(0), gfMul(a, 0))
		assert.Equal(t, gfMul(a, b), gfMul(b, a))
		assert.Equal(t, gfMul(gfMul(a, b), c), gfMul(a, gfMul(b, c)))
		assert.Equal(t, gfMul(a, b^c), gfMul(a, b)^gfMul(a, c))
		assert.Equal(t, uint64(1), gfMul(a, gfInv(a)))
	}

	// x * x^63 = x^64 = x^4 + x^3 + x + 1
	assert.Equal(t, uint64(0x1b), gfMul(2, 1<<63))
	assert.Equal(t, uint64(0x1b), mulX(1<<63))
}

func TestTableArithmetic(t *testing.T) {
	ids := makeIDs(11, 64)
	for i, a := range ids {
		var byA nibbleTable
		byA.setMul(a)
		for _, b := range []uint64{0, 1, ids[(i+1)%len(ids)], ids[(i+7)%len(ids)], 1 << 63} {
			assert.Equal(t, gfMul(a, b), byA.apply(b))
		}
		assert.Equal(t, gfMul(a, a), gfSqr(a))
		assert.Equal(t, gfMul(a, 2), mulX(a))
	}

	dst := make([]uint64, 20)
	src := makeIDs(12, 20)
	mulAdd(dst, src, ids[0])
	for i := range src {
		assert.Equal(t, gfMul(ids[0], src[i]), dst[i])
	}
}

func TestModulusSquaring(t *testing.T) {
	// f = (x + r1)(x + r2)...(x + r9), so every root must be recovered
	roots := makeIDs(13, 9)
	f := []uint64{1}
	for _, r := range roots {
		next := make([]uint64, len(f)+1)
		copy(next[1:], f)
		mulAdd(next, f, r)
		f = next
	}

	m := newModulus(f)
	a := makeIDs(14, len(f)-1)
	sq := make([]uint64, 2*len(a)-1)
	for i, c := range a {
		sq[2*i] = gfMul(c, c)
	}
	expected := make([]uint64, len(a))
	copy(expected, polyMod(sq, f))
	assert.Equal(t, expected, m.sqr(a))

	found, ok := findRoots(f)
	require.True(t, ok)
	assert.Equal(t, sorted(roots), sorted(found))
}

func TestDecodeWithinCapacity(t *testing.T) {
	for _, n := range []int{0, 1, 2, 7, 20} {
		ids := makeIDs(uint64(n)+3, n)
		s, err := FromIDs(ids, 20)
		require.NoError(t, err)

		decoded, err := s.Decode(0)
		require.NoErrorf(t, err, "decoding %d elements", n)
		assert.Equal(t, sorted(ids), decoded)
	}
}

func TestAddTwiceCancels(t *testing.T) {
	s, err := New(8)
	require.NoError(t, err)
	for _, id := range makeIDs(5, 8) {
		s.Add(id)
		s.Add(id)
	}
	assert.True(t, s.IsZero())

	s.Add(0)
	assert.True(t, s.IsZero())
}

func symmetricSets(shared, onlyA, onlyB int) (a, b, diff []uint64) {
	common := makeIDs(100, shared)
	extraA := makeIDs(200, onlyA)
	extraB := makeIDs(300, onlyB)
	a = append(append([]uint64{}, common...), extraA...)
	b = append(append([]uint64{}, common...), extraB...)
	diff = append(append([]uint64{}, extraA...), extraB...)
	return a, b, diff
}

func TestMergeRecoversSymmetricDifference(t *testing.T) {
	const capacity = 16
	a, b, diff := symmetricSets(2000, 10, 6)

	sa, err := FromIDs(a, capacity)
	require.NoError(t, err)
	sb, err := FromIDs(b, capacity)
	require.NoError(t, err)
	require.NoError(t, sa.Merge(sb))

	decoded, err := sa.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, sorted(diff), decoded)
}

func TestCapacityBoundary(t *testing.T) {
	const capacity = 12

	// Exactly capacity differing elements decode
	a, b, diff := symmetricSets(500, 7, 5)
	sa, _ := FromIDs(a, capacity)
	sb, _ := FromIDs(b, capacity)
	require.NoError(t, sa.Merge(sb))
	decoded, err := sa.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, sorted(diff), decoded)

	// One more is reported as a capacity failure
	a, b, _ = symmetricSets(500, 7, 6)
	sa, _ = FromIDs(a, capacity)
	sb, _ = FromIDs(b, capacity)
	require.NoError(t, sa.Merge(sb))
	_, err = sa.Decode(0)
	assert.True(t, errors.Is(err, p2perrors.ErrCapacityExceeded))

	// Far beyond capacity as well
	a, b, _ = symmetricSets(500, 40, 40)
	sa, _ = FromIDs(a, capacity)
	sb, _ = FromIDs(b, capacity)
	require.NoError(t, sa.Merge(sb))
	_, err = sa.Decode(0)
	assert.True(t, errors.Is(err, p2perrors.ErrCapacityExceeded))
}

func TestSmallCapacityOverflow(t *testing.T) {
	const trials = 200

	// capacity+1 elements are either rejected or taken for a different set
	// that reproduces the same sketch
	for capacity := 1; capacity <= 4; capacity++ {
		accepted := 0
		for seed := 0; seed < trials; seed++ {
			ids := makeIDs(uint64(1000*capacity+seed), capacity+1)
			s, err := FromIDs(ids, capacity)
			require.NoError(t, err)

			decoded, err := s.Decode(0)
			if err != nil {
				assert.True(t, errors.Is(err, p2perrors.ErrCapacityExceeded))
				continue
			}
			accepted++
			assert.LessOrEqual(t, len(decoded), capacity)
			check, err := FromIDs(decoded, capacity)
			require.NoError(t, err)
			assert.Equal(t, s.Bytes(), check.Bytes())
		}

		switch capacity {
		case 1:
			// {a, b} and {a^b} share s1
			assert.Equal(t, trials, accepted)
		case 4:
			assert.Less(t, accepted, trials/10)
		}
	}
}

func TestDecodeBufferLimit(t *testing.T) {
	ids := makeIDs(9, 10)
	s, err := FromIDs(ids, 32)
	require.NoError(t, err)

	_, err = s.Decode(5)
	assert.True(t, errors.Is(err, p2perrors.ErrCapacityExceeded))

	decoded, err := s.Decode(10)
	require.NoError(t, err)
	assert.Len(t, decoded, 10)
}

func TestMergeRejectsMismatch(t *testing.T) {
	a, _ := FromIDs(makeIDs(1, 3), 8)
	b, _ := FromIDs(makeIDs(2, 3), 9)
	before := a.Bytes()

	err := a.Merge(b)
	assert.True(t, errors.Is(err, p2perrors.ErrSketchMismatch))
	assert.Equal(t, before, a.Bytes())
}

func TestInvalidCapacity(t *testing.T) {
	_, err := New(0)
	assert.True(t, errors.Is(err, p2perrors.ErrInvalidCapacity))
	_, err = New(MaxCapacity + 1)
	assert.True(t, errors.Is(err, p2perrors.ErrInvalidCapacity))
}

func TestBuildToCapacity(t *testing.T) {
	assert.Equal(t, 1, CapacityForEstimate(0, 0, 512))
	assert.Equal(t, 41, CapacityForEstimate(36, 5, 512))
	assert.Equal(t, 512, CapacityForEstimate(600, 5, 512))
	assert.Equal(t, 512, CapacityForEstimate(510, 5, 512))
	assert.Equal(t, MaxCapacity, CapacityForEstimate(1<<40, 5, 0))

	s, err := BuildToCapacity(makeIDs(4, 100), 36, 5, 512)
	require.NoError(t, err)
	assert.Equal(t, 41, s.Capacity())
	assert.Len(t, s.Bytes(), 41*8)
}

func TestBytesRoundTrip(t *testing.T) {
	s, err := FromIDs(makeIDs(8, 5), 10)
	require.NoError(t, err)

	parsed, err := FromBytes(s.Bytes())
	require.NoError(t, err)
	assert.Equal(t, s.Capacity(), parsed.Capacity())
	assert.Equal(t, s.Bytes(), parsed.Bytes())

	decoded, err := parsed.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, sorted(makeIDs(8, 5)), decoded)

	for _, bad := range [][]byte{nil, {}, make([]byte, 7), make([]byte, 8*MaxCapacity+8)} {
		_, err := FromBytes(bad)
		assert.True(t, errors.Is(err, p2perrors.ErrDeserialization))
	}
}

func TestDecodeGarbageNeverPanics(t *testing.T) {
	for seed := uint64(0); seed < 20; seed++ {
		s, err := FromBytes(func() []byte {
			b := make([]byte, 8*6)
			for i, v := range makeIDs(seed, 6) {
				for j := 0; j < 8; j++ {
					b[i*8+j] = byte(v >> (8 * j))
				}
			}
			return b
		}())
		require.NoError(t, err)
		assert.NotPanics(t, func() { _, _ = s.Decode(0) })
	}
}

func TestDecodeCostAtSessionCapacity(t *testing.T) {
	if testing.Short() || raceEnabled {
		t.Skip("timing test")
	}
	const capacity = 512

	ids := makeIDs(77, capacity)
	s, err := FromIDs(ids, capacity)
	require.NoError(t, err)

	start := time.Now()
	decoded, err := s.Decode(0)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, sorted(ids), decoded)
	assert.Less(t, elapsed, time.Second*2, "full decode took %s", elapsed)

	garbage := make([]byte, 8*capacity)
	for i, v := range makeIDs(78, capacity) {
		for j := 0; j < 8; j++ {
			garbage[i*8+j] = byte(v >> (8 * j))
		}
	}
	g, err := FromBytes(garbage)
	require.NoError(t, err)

	start = time.Now()
	_, err = g.Decode(0)
	elapsed = time.Since(start)
	assert.True(t, errors.Is(err, p2perrors.ErrCapacityExceeded))
	// Must stay below the default heartbeat interval
	assert.Less(t, elapsed, time.Second, "rejection took %s", elapsed)
}
