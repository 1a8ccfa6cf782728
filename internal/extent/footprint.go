package extent

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
)

const (
	poleEps = 1e-9
	lonEps  = 1e-9
	areaEps = 1e-12
)

// footprint applies union, antimeridian and pole policy to closed lon/lat rings.
func footprint(rings []orb.Ring) (Extent, error) {
	var ext Extent
	latMin, latMax := math.Inf(1), math.Inf(-1)
	encircles := make([]Pole, len(rings))
	unwrapped := make([]orb.Ring, len(rings))
	wrapped := make([]bool, len(rings))
	anyWrapped := false

	for i, ring := range rings {
		for _, p := range ring {
			latMin = math.Min(latMin, p[1])
			latMax = math.Max(latMax, p[1])
			if p[1] >= 90-poleEps {
				ext.Poles |= PoleNorth
			}
			if p[1] <= -90+poleEps {
				ext.Poles |= PoleSouth
			}
		}
		if pole := encircledPole(ring); pole != 0 {
			encircles[i] = pole
			ext.Poles |= pole
			continue
		}
		unwrapped[i] = unwrapRing(ring)
		if unwrapped[i].Bound().Max[0] > 180+lonEps {
			wrapped[i] = true
			anyWrapped = true
		}
	}
	if len(rings) == 0 || math.IsInf(latMin, 0) {
		return Extent{}, &DegenerateFootprintError{Reason: ErrNoGeometry}
	}

	var union clipPolygon
	switch {
	case ext.Poles != 0:
		for i, ring := range rings {
			var piece clipPolygon
			switch {
			case encircles[i] != 0:
				piece = foldIntoWorld(clipPolygon{capContour(ring, encircles[i])})
			case wrapped[i]:
				piece = foldIntoWorld(clipPolygon{toContour(unwrapped[i])})
			default:
				piece = clipPolygon{toContour(unwrapped[i])}
			}
			union = unionOf(union, piece)
		}
		ext.Lon = model.Range{Begin: -180, End: 180}
		if ext.Poles&PoleNorth != 0 {
			latMax = 90
		}
		if ext.Poles&PoleSouth != 0 {
			latMin = -90
		}

	case anyWrapped:
		for i := range rings {
			ring := unwrapped[i]
			if !wrapped[i] && ringCenterLon(ring) < 0 {
				ring = shiftLon(ring, 360)
			}
			union = unionOf(union, clipPolygon{toContour(ring)})
		}
		lo, hi := lonBounds(union)
		switch {
		case hi-lo >= 360:
			ext.Lon = model.Range{Begin: -180, End: 180}
		case hi <= 180:
			ext.Lon = model.Range{Begin: lo, End: hi}
		case lo >= 180:
			ext.Lon = model.Range{Begin: lo - 360, End: hi - 360}
		default:
			ext.Lon = model.Range{Begin: lo, End: hi - 360}
			ext.Antimeridian = true
		}
		union = foldIntoWorld(union)

	default:
		for i := range rings {
			union = unionOf(union, clipPolygon{toContour(unwrapped[i])})
		}
		lo, hi := lonBounds(union)
		ext.Lon = model.Range{Begin: lo, End: hi}
	}

	ext.Footprint = toMultiPolygon(union)
	if len(ext.Footprint) == 0 || planar.Area(ext.Footprint) <= areaEps {
		return Extent{}, &DegenerateFootprintError{Reason: ErrEmptyUnion}
	}
	ext.Lat = model.Range{Begin: math.Max(latMin, -90), End: math.Min(latMax, 90)}
	return ext, nil
}

// wrapDelta maps a longitude difference into [-180, 180].
func wrapDelta(d float64) float64 {
	switch {
	case d > 180:
		return d - 360
	case d < -180:
		return d + 360
	}
	return d
}

// encircledPole returns the pole a closed ring winds around. The longitude
// winding of such a ring sums to +-360 degrees, any other ring sums to zero.
func encircledPole(ring orb.Ring) Pole {
	var sum, latSum float64
	for i := 1; i < len(ring); i++ {
		sum += wrapDelta(ring[i][0] - ring[i-1][0])
		latSum += ring[i][1]
	}
	if math.Abs(sum) <= 180 {
		return 0
	}
	if latSum >= 0 {
		return PoleNorth
	}
	return PoleSouth
}

func ringCenterLon(ring orb.Ring) float64 {
	b := ring.Bound()
	return (b.Min[0] + b.Max[0]) / 2
}

// unwrapRing makes longitudes continuous along a ring that does not encircle a
// pole, then shifts it so its western bound lies in [-180, 180). A ring that
// crosses the antimeridian ends up reaching past +180; a ring that covers every
// longitude spans 360 degrees.
func unwrapRing(ring orb.Ring) orb.Ring {
	out := make(orb.Ring, len(ring))
	if len(ring) == 0 {
		return out
	}
	lon, lo := ring[0][0], ring[0][0]
	out[0] = ring[0]
	for i := 1; i < len(ring); i++ {
		lon += wrapDelta(ring[i][0] - ring[i-1][0])
		out[i] = orb.Point{lon, ring[i][1]}
		lo = math.Min(lo, lon)
	}
	if shift := -360 * math.Floor((lo+180+lonEps)/360); shift != 0 {
		for i := range out {
			out[i][0] += shift
		}
	}
	return out
}

func shiftLon(ring orb.Ring, d float64) orb.Ring {
	out := make(orb.Ring, len(ring))
	for i, p := range ring {
		out[i] = orb.Point{p[0] + d, p[1]}
	}
	return out
}

// capContour closes a pole-encircling ring through the pole. Longitudes are
// unwrapped so the contour is continuous; it spans 360 degrees of longitude.
func capContour(ring orb.Ring, pole Pole) clipContour {
	poleLat := 90.0
	if pole == PoleSouth {
		poleLat = -90
	}
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	out := make(clipContour, 0, n+3)
	lon := ring[0][0]
	out = append(out, clipPoint{X: lon, Y: ring[0][1]})
	for i := 1; i <= n; i++ {
		lon += wrapDelta(ring[i%n][0] - ring[i-1][0])
		out = append(out, clipPoint{X: lon, Y: ring[i%n][1]})
	}
	return append(out, clipPoint{X: lon, Y: poleLat}, clipPoint{X: ring[0][0], Y: poleLat})
}
