package minisketch

// Arithmetic in GF(2^64) with the reduction polynomial x^64 + x^4 + x^3 + x + 1.
// Addition is XOR; elements are plain uint64 values.

// clmul returns the 128 bit carry-less product of a and b, four bits of b at a time
func clmul(a, b uint64) (hi, lo uint64) {
	var tblHi, tblLo [16]uint64
	tblLo[1] = a
	tblHi[2], tblLo[2] = a>>63, a<<1
	tblHi[4], tblLo[4] = a>>62, a<<2
	tblHi[8], tblLo[8] = a>>61, a<<3
	for k := 3; k < 16; k++ {
		low := k & -k
		if low == k {
			continue
		}
		tblHi[k] = tblHi[low] ^ tblHi[k^low]
		tblLo[k] = tblLo[low] ^ tblLo[k^low]
	}

	for shift := 60; shift >= 0; shift -= 4 {
		hi = hi<<4 | lo>>60
		lo <<= 4
		n := (b >> uint(shift)) & 0xf
		hi ^= tblHi[n]
		lo ^= tblLo[n]
	}
	return hi, lo
}

// reduce folds the high word back using x^64 = x^4 + x^3 + x + 1
func reduce(hi, lo uint64) uint64 {
	lo ^= hi ^ hi<<1 ^ hi<<3 ^ hi<<4
	over := hi>>63 ^ hi>>61 ^ hi>>60
	lo ^= over ^ over<<1 ^ over<<3 ^ over<<4
	return lo
}

func gfMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	return reduce(clmul(a, b))
}

// gfSqr uses a precomputed table, squaring being linear in characteristic two
func gfSqr(a uint64) uint64 {
	return sqrTable.apply(a)
}

// mulX multiplies a by x
func mulX(a uint64) uint64 {
	return a<<1 ^ (-(a >> 63) & 0x1b)
}

// nibbleTable applies a GF(2)-linear map on field elements with one lookup
// per nibble of the input. Row j maps the nibble at bits 4j..4j+3.
type nibbleTable [16][16]uint64

func (t *nibbleTable) apply(b uint64) uint64 {
	var r uint64
	for j := range t {
		r ^= t[j][b&0xf]
		b >>= 4
	}
	return r
}

// setMul fills t with multiplication by a
func (t *nibbleTable) setMul(a uint64) {
	for j := range t {
		row := &t[j]
		row[1] = a
		row[2] = mulX(row[1])
		row[4] = mulX(row[2])
		row[8] = mulX(row[4])
		a = mulX(row[8])
	}
	t.fill()
}

// fill completes every row from its single bit entries
func (t *nibbleTable) fill() {
	for j := range t {
		row := &t[j]
		for k := 3; k < 16; k++ {
			if low := k & -k; low != k {
				row[k] = row[low] ^ row[k^low]
			}
		}
	}
}

var sqrTable = func() *nibbleTable {
	t := new(nibbleTable)
	for j := range t {
		for k := 0; k < 4; k++ {
			e := uint64(1) << uint(4*j+k)
			t[j][1<<uint(k)] = gfMul(e, e)
		}
	}
	t.fill()
	return t
}()

// mulAdd sets dst[i] ^= c * src[i]
func mulAdd(dst, src []uint64, c uint64) {
	if c == 0 {
		return
	}
	if len(src) < 8 {
		for i, v := range src {
			dst[i] ^= gfMul(c, v)
		}
		return
	}
	var t nibbleTable
	t.setMul(c)
	for i, v := range src {
		dst[i] ^= t.apply(v)
	}
}

// gfInv returns a^(2^64 - 2), the multiplicative inverse of a. The inverse of
// zero is reported as zero.
func gfInv(a uint64) uint64 {
	if a == 0 {
		return 0
	}
	result := uint64(1)
	x := a
	for i := 1; i < 64; i++ {
		x = gfSqr(x)
		result = gfMul(result, x)
	}
	return result
}
