package minisketch

// Polynomials over GF(2^64), lowest degree coefficient first. A trimmed
// polynomial has a non-zero leading coefficient; the zero polynomial is empty.

func polyTrim(p []uint64) []uint64 {
	for len(p) > 0 && p[len(p)-1] == 0 {
		p = p[:len(p)-1]
	}
	return p
}

func polyClone(p []uint64) []uint64 {
	c := make([]uint64, len(p))
	copy(c, p)
	return c
}

// polyMonic scales p so that its leading coefficient is one
func polyMonic(p []uint64) []uint64 {
	p = polyTrim(p)
	if len(p) == 0 || p[len(p)-1] == 1 {
		return p
	}
	inv := gfInv(p[len(p)-1])
	for i := range p {
		p[i] = gfMul(p[i], inv)
	}
	return p
}

// polyDivMod divides a by the monic polynomial m, returning quotient and remainder.
// a is not modified.
func polyDivMod(a, m []uint64) (q, r []uint64) {
	r = polyTrim(polyClone(a))
	dm := len(m) - 1
	if len(r)-1 < dm {
		return nil, r
	}

	q = make([]uint64, len(r)-dm)
	for len(r)-1 >= dm {
		top := len(r) - 1
		coef := r[top]
		shift := top - dm
		q[shift] = coef
		mulAdd(r[shift:shift+dm], m[:dm], coef)
		r = polyTrim(r[:top])
	}
	return polyTrim(q), r
}

// polyMod reduces a modulo the monic polynomial m in place
func polyMod(a, m []uint64) []uint64 {
	a = polyTrim(a)
	dm := len(m) - 1
	for len(a)-1 >= dm {
		top := len(a) - 1
		coef := a[top]
		shift := top - dm
		mulAdd(a[shift:shift+dm], m[:dm], coef)
		a = polyTrim(a[:top])
	}
	return a
}

// modulus caches the reductions needed to square polynomials modulo a monic f
// of degree d: rows[i] is x^(2(half+i)) mod f, where half = ceil(d/2). A
// reduced polynomial then squares in d*d/2 multiplications.
type modulus struct {
	f    []uint64
	half int
	rows [][]uint64
}

func newModulus(f []uint64) *modulus {
	d := len(f) - 1
	m := &modulus{f: f, half: (d + 1) / 2}

	mono := make([]uint64, 2*m.half+1)
	mono[2*m.half] = 1
	row := make([]uint64, d)
	copy(row, polyMod(mono, f))

	m.rows = make([][]uint64, d-m.half)
	for i := range m.rows {
		m.rows[i] = row
		row = m.mulX(m.mulX(row))
	}
	return m
}

func (m *modulus) degree() int {
	return len(m.f) - 1
}

// mulX returns p*x mod f for a reduced p of length d
func (m *modulus) mulX(p []uint64) []uint64 {
	d := m.degree()
	out := make([]uint64, d)
	copy(out[1:], p[:d-1])
	// x^d = f[0] + f[1]x + ... + f[d-1]x^(d-1) in characteristic two
	mulAdd(out, m.f[:d], p[d-1])
	return out
}

// sqr squares the reduced polynomial a modulo f. In characteristic two the
// square of a sum is the sum of the squares.
func (m *modulus) sqr(a []uint64) []uint64 {
	d := m.degree()
	out := make([]uint64, d)
	for i, c := range a {
		if c == 0 {
			continue
		}
		c = gfSqr(c)
		if i < m.half {
			out[2*i] ^= c
			continue
		}
		mulAdd(out, m.rows[i-m.half], c)
	}
	return out
}

// trace returns Tr(beta*x) = sum of (beta*x)^(2^i) for i < 64, modulo f.
// Requires a degree of at least two.
func (m *modulus) trace(beta uint64) []uint64 {
	term := make([]uint64, m.degree())
	term[1] = beta
	sum := polyClone(term)
	for i := 1; i < FieldBits; i++ {
		term = m.sqr(term)
		for j, c := range term {
			sum[j] ^= c
		}
	}
	return sum
}

// polyGCD returns the monic greatest common divisor of a and b
func polyGCD(a, b []uint64) []uint64 {
	a = polyTrim(polyClone(a))
	b = polyTrim(polyClone(b))
	for len(b) > 0 {
		b = polyMonic(b)
		a = polyMod(a, b)
		a, b = b, a
	}
	return polyMonic(a)
}
