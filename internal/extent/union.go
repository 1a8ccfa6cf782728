package extent

import (
	"math"
	"sort"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

type (
	clipPoint   = polyclip.Point
	clipContour = polyclip.Contour
	clipPolygon = polyclip.Polygon
)

func toContour(ring orb.Ring) clipContour {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	out := make(clipContour, n)
	for i := 0; i < n; i++ {
		out[i] = clipPoint{X: ring[i][0], Y: ring[i][1]}
	}
	return out
}

func unionOf(acc, p clipPolygon) clipPolygon {
	if len(p) == 0 {
		return acc
	}
	if len(acc) == 0 {
		return p
	}
	return acc.Construct(polyclip.UNION, p)
}

// foldIntoWorld cuts a polygon at +-180 and shifts the outer pieces back into
// [-180, 180]. Each contour is clipped against vertical strips, so holes stay
// holes.
func foldIntoWorld(p clipPolygon) clipPolygon {
	lo, hi := lonBounds(p)
	if lo >= -180-lonEps && hi <= 180+lonEps {
		for _, c := range p {
			for i := range c {
				c[i].X = math.Max(-180, math.Min(180, c[i].X))
			}
		}
		return p
	}
	var out clipPolygon
	for _, w := range []struct{ lo, hi, shift float64 }{
		{-540, -180, 360},
		{-180, 180, 0},
		{180, 540, -360},
	} {
		for _, c := range p {
			piece := clipStrip(c, w.lo, w.hi)
			if len(piece) < 3 {
				continue
			}
			for i := range piece {
				piece[i].X += w.shift
			}
			out = append(out, piece)
		}
	}
	return out
}

// clipStrip clips a contour to lo <= x <= hi (Sutherland-Hodgman against
// two half-planes).
func clipStrip(c clipContour, lo, hi float64) clipContour {
	c = clipHalf(c, func(p clipPoint) bool { return p.X >= lo }, lo)
	return clipHalf(c, func(p clipPoint) bool { return p.X <= hi }, hi)
}

func clipHalf(c clipContour, in func(clipPoint) bool, x float64) clipContour {
	if len(c) == 0 {
		return nil
	}
	var out clipContour
	prev := c[len(c)-1]
	for _, cur := range c {
		switch {
		case in(cur):
			if !in(prev) {
				out = append(out, crossX(prev, cur, x))
			}
			out = append(out, cur)
		case in(prev):
			out = append(out, crossX(prev, cur, x))
		}
		prev = cur
	}
	return out
}

func crossX(a, b clipPoint, x float64) clipPoint {
	t := (x - a.X) / (b.X - a.X)
	return clipPoint{X: x, Y: a.Y + (b.Y-a.Y)*t}
}

func lonBounds(p clipPolygon) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, c := range p {
		for _, pt := range c {
			lo = math.Min(lo, pt.X)
			hi = math.Max(hi, pt.X)
		}
	}
	return lo, hi
}

// toMultiPolygon nests union contours into polygons: a contour inside an odd
// number of larger contours is a hole of its innermost enclosing shell. Shells
// wind counter-clockwise and holes clockwise.
func toMultiPolygon(p clipPolygon) orb.MultiPolygon {
	type item struct {
		ring orb.Ring
		area float64
	}
	items := make([]item, 0, len(p))
	for _, c := range p {
		if len(c) < 3 {
			continue
		}
		ring := make(orb.Ring, 0, len(c)+1)
		for _, pt := range c {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		ring = closeRing(ring)
		a := math.Abs(planar.Area(ring))
		if a <= areaEps {
			continue
		}
		items = append(items, item{ring: ring, area: a})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].area > items[j].area })

	var polys orb.MultiPolygon
	owner := make([]int, len(items))
	for i, it := range items {
		depth, parent := 0, -1
		for j := 0; j < i; j++ {
			if inside(items[j].ring, it.ring) {
				depth++
				if owner[j] >= 0 {
					parent = owner[j]
				}
			}
		}
		if depth%2 == 1 && parent >= 0 {
			if it.ring.Orientation() == orb.CCW {
				it.ring.Reverse()
			}
			polys[parent] = append(polys[parent], it.ring)
			owner[i] = -1
			continue
		}
		if it.ring.Orientation() == orb.CW {
			it.ring.Reverse()
		}
		polys = append(polys, orb.Polygon{it.ring})
		owner[i] = len(polys) - 1
	}
	sort.SliceStable(polys, func(i, j int) bool {
		a, b := polys[i].Bound().Min, polys[j].Bound().Min
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		return a[1] < b[1]
	})
	return polys
}

// inside tests containment with the first vertex of r that is not on the
// container's boundary.
func inside(container, r orb.Ring) bool {
	for _, p := range r {
		if planar.DistanceFrom(container, p) > 1e-12 {
			return planar.RingContains(container, p)
		}
	}
	return false
}
