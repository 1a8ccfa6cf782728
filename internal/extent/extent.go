// Package extent projects pixel grids into geodetic footprints and bounding
// ranges, splitting footprints at the antimeridian and widening them over poles.
package extent

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/crs"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
)

var (
	ErrNoGeometry  = errors.New("no grids or valid region")
	ErrEmptyUnion  = errors.New("footprint union is empty")
	ErrNonFinite   = errors.New("reprojected footprint has non-finite coordinates")
	ErrCRSMismatch = errors.New("grid crs differs from dataset crs")
)

// DegenerateFootprintError reports a footprint that is empty or unusable.
type DegenerateFootprintError struct {
	Reason error
}

func (e *DegenerateFootprintError) Error() string { return "degenerate footprint: " + e.Reason.Error() }
func (e *DegenerateFootprintError) Unwrap() error { return e.Reason }

// Pole flags which poles a footprint contains.
type Pole uint8

const (
	PoleNorth Pole = 1 << iota
	PoleSouth
)

// Extent is the geodetic result for one dataset.
type Extent struct {
	Footprint orb.MultiPolygon
	// ValidRegion is the supplied valid region in geodetic coordinates, nil when absent.
	ValidRegion  orb.MultiPolygon
	Lon          model.Range
	Lat          model.Range
	Antimeridian bool
	Poles        Pole
}

type Options struct {
	// DensifyStep is the maximum distance between vertices in CRS-plane units.
	// Zero uses the projection's default.
	DensifyStep float64
	// MaxSegments caps the number of segments per edge.
	MaxSegments int
	Registry    *crs.Registry
}

type Resolver struct {
	step     float64
	maxSeg   int
	registry *crs.Registry
}

func New(opts Options) *Resolver {
	r := &Resolver{step: opts.DensifyStep, maxSeg: opts.MaxSegments, registry: opts.Registry}
	if r.maxSeg <= 0 {
		r.maxSeg = 1000
	}
	if r.registry == nil {
		r.registry = crs.Default
	}
	return r
}

// Resolve computes the extent of the given grids, which must all share crsID.
// validRegion, when not nil, is a Polygon or MultiPolygon in CRS-plane
// coordinates and is unioned into the footprint.
func (r *Resolver) Resolve(crsID string, grids []grid.PixelGrid, validRegion orb.Geometry) (Extent, error) {
	if len(grids) == 0 && validRegion == nil {
		return Extent{}, &DegenerateFootprintError{Reason: ErrNoGeometry}
	}
	for _, g := range grids {
		if err := g.Validate(); err != nil {
			return Extent{}, err
		}
		if !crs.Equivalent(g.CRS, crsID) {
			return Extent{}, &grid.InvalidGridError{Grid: g.CRS, Reason: fmt.Errorf("%w: %s", ErrCRSMismatch, crsID)}
		}
	}
	proj, err := r.registry.Lookup(crsID)
	if err != nil {
		return Extent{}, &grid.InvalidGridError{Grid: crsID, Reason: err}
	}
	step := r.step
	if step <= 0 {
		step = proj.DensifyStep()
	}

	var rings []orb.Ring
	for _, g := range grids {
		c := g.PlaneCorners()
		ll, err := r.reproject(proj, densify(orb.Ring{c[0], c[1], c[2], c[3], c[0]}, step, r.maxSeg))
		if err != nil {
			return Extent{}, err
		}
		rings = append(rings, ll)
	}

	var validRings []orb.Ring
	for _, pr := range outerRings(validRegion) {
		ll, err := r.reproject(proj, densify(pr, step, r.maxSeg))
		if err != nil {
			return Extent{}, err
		}
		validRings = append(validRings, ll)
	}

	out, err := footprint(append(append([]orb.Ring(nil), rings...), validRings...))
	if err != nil {
		return Extent{}, err
	}
	if len(validRings) > 0 {
		vr, err := footprint(validRings)
		if err != nil {
			return Extent{}, fmt.Errorf("valid region: %w", err)
		}
		out.ValidRegion = vr.Footprint
	}
	return out, nil
}

func (r *Resolver) reproject(p crs.Projector, plane orb.Ring) (orb.Ring, error) {
	out := make(orb.Ring, 0, len(plane))
	for _, pt := range plane {
		lon, lat, err := p.ToLonLat(pt[0], pt[1])
		if err != nil {
			return nil, &DegenerateFootprintError{Reason: err}
		}
		if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
			return nil, &DegenerateFootprintError{Reason: ErrNonFinite}
		}
		out = append(out, orb.Point{lon, lat})
	}
	return out, nil
}

// densify inserts vertices so that no edge of the closed ring is longer than step.
func densify(ring orb.Ring, step float64, maxSeg int) orb.Ring {
	if len(ring) < 2 {
		return ring
	}
	out := orb.Ring{ring[0]}
	for i := 1; i < len(ring); i++ {
		a, b := ring[i-1], ring[i]
		n := 1
		if step > 0 {
			n = int(math.Ceil(planar.Distance(a, b) / step))
		}
		n = max(1, min(n, maxSeg))
		for k := 1; k < n; k++ {
			t := float64(k) / float64(n)
			out = append(out, orb.Point{a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t})
		}
		out = append(out, b)
	}
	return out
}

func outerRings(g orb.Geometry) []orb.Ring {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) > 0 {
			return []orb.Ring{closeRing(v[0])}
		}
	case orb.MultiPolygon:
		var out []orb.Ring
		for _, p := range v {
			if len(p) > 0 {
				out = append(out, closeRing(p[0]))
			}
		}
		return out
	case orb.Ring:
		return []orb.Ring{closeRing(v)}
	case orb.Bound:
		return []orb.Ring{v.ToRing()}
	}
	return nil
}

func closeRing(r orb.Ring) orb.Ring {
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(r[:len(r):len(r)], r[0])
	}
	return r
}
