// Package gilbert maps indices along a generalized Hilbert ("gilbert")
// curve to pixel coordinates for rectangles of any size.
package gilbert

type point struct {
	x, y int
}

func (p point) add(o point) point { return point{p.x + o.x, p.y + o.y} }
func (p point) sub(o point) point { return point{p.x - o.x, p.y - o.y} }
func (p point) half() point       { return point{p.x / 2, p.y / 2} }
func (p point) neg() point        { return point{-p.x, -p.y} }
func (p point) sum() int          { return p.x + p.y }
func (p point) sign() point       { return point{sign(p.x), sign(p.y)} }
func (p point) scale(k int) point { return point{p.x * k, p.y * k} }

// D2XY returns the coordinates of the idx-th cell of the curve covering
// a width x height rectangle. idx must be in [0, width*height).
func D2XY(idx, width, height int) (x, y int) {
	a, b := point{0, height}, point{width, 0}
	if width >= height {
		a, b = point{width, 0}, point{0, height}
	}
	p := d2xy(idx, 0, point{}, a, b)
	return p.x, p.y
}

// Order returns the pixel index (y*width+x) of every curve position.
func Order(width, height int) []uint32 {
	n := width * height
	order := make([]uint32, n)
	for i := 0; i < n; i++ {
		x, y := D2XY(i, width, height)
		order[i] = uint32(y*width + x)
	}
	return order
}

func d2xy(dst, cur int, p, a, b point) point {
	w := abs(a.sum())
	h := abs(b.sum())
	da := a.sign()
	db := b.sign()
	di := dst - cur

	if h == 1 {
		return p.add(da.scale(di))
	}
	if w == 1 {
		return p.add(db.scale(di))
	}

	a2 := a.half()
	b2 := b.half()
	w2 := abs(a2.sum())
	h2 := abs(b2.sum())

	if 2*w > 3*h {
		if w2%2 != 0 && w > 2 {
			a2 = a2.add(da)
		}
		nxt := cur + abs(a2.sum()*b.sum())
		if cur <= dst && dst < nxt {
			return d2xy(dst, cur, p, a2, b)
		}
		return d2xy(dst, nxt, p.add(a2), a.sub(a2), b)
	}

	if h2%2 != 0 && h > 2 {
		b2 = b2.add(db)
	}

	nxt := cur + abs(b2.sum()*a2.sum())
	if cur <= dst && dst < nxt {
		return d2xy(dst, cur, p, b2, a2)
	}
	cur = nxt

	nxt = cur + abs(a.sum()*(b.sub(b2)).sum())
	if cur <= dst && dst < nxt {
		return d2xy(dst, cur, p.add(b2), a, b.sub(b2))
	}
	cur = nxt

	return d2xy(dst, cur, p.add(a.sub(da)).add(b2.sub(db)), b2.neg(), a.sub(a2).neg())
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
