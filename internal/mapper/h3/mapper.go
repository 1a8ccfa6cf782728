package h3mapper

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
)

var ErrEmptyFootprint = errors.New("empty footprint")

// maxEdgeLon keeps every loop edge shorter than half the globe so H3 does
// not read wide parts as crossing the antimeridian.
const maxEdgeLon = 90.0

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// CellsForFootprint covers a geodetic footprint whose parts already lie
// within [-180, 180]. Parts too small to contain a cell centre contribute
// the cell under their centroid.
func (m *Mapper) CellsForFootprint(mp orb.MultiPolygon, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if len(mp) == 0 {
		return nil, ErrEmptyFootprint
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(cells []string) {
		for _, c := range cells {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}

	for pi, poly := range mp {
		if len(poly) == 0 {
			return nil, fmt.Errorf("polygon %d is empty", pi)
		}
		outer := toLoop(poly[0])
		if len(outer) < 3 {
			return nil, fmt.Errorf("polygon %d outer ring has < 3 vertices", pi)
		}
		var holes []h3.GeoLoop
		for i := 1; i < len(poly); i++ {
			h := toLoop(poly[i])
			if len(h) < 3 {
				return nil, fmt.Errorf("polygon %d hole %d has < 3 vertices", pi, i-1)
			}
			holes = append(holes, h)
		}
		cells, err := polyfillOne(outer, holes, res)
		if err != nil {
			return nil, fmt.Errorf("polygon %d: %w", pi, err)
		}
		if len(cells) == 0 {
			c, err := centroidCell(poly, res)
			if err != nil {
				return nil, fmt.Errorf("polygon %d: %w", pi, err)
			}
			cells = []string{c}
		}
		add(cells)
	}
	sort.Strings(out)
	return out, nil
}

// CellsForBBox covers a lon/lat box. A wrapped lon range is covered as its
// two segments.
func (m *Mapper) CellsForBBox(bb model.BBox, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	var mp orb.MultiPolygon
	for _, seg := range bb.Lon.Segments() {
		if seg.End <= seg.Begin || bb.Lat.End <= bb.Lat.Begin {
			continue
		}
		mp = append(mp, orb.Polygon{orb.Ring{
			{seg.Begin, bb.Lat.Begin},
			{seg.End, bb.Lat.Begin},
			{seg.End, bb.Lat.End},
			{seg.Begin, bb.Lat.End},
			{seg.Begin, bb.Lat.Begin},
		}})
	}
	if len(mp) == 0 {
		return nil, fmt.Errorf("degenerate bbox lon=%s lat=%s", bb.Lon, bb.Lat)
	}
	return m.CellsForFootprint(mp, res)
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// Convert an orb ring to an h3.GeoLoop (in degrees), dropping the closing
// vertex and splitting long edges.
func toLoop(r orb.Ring) h3.GeoLoop {
	pts := []orb.Point(r)
	if len(pts) >= 2 && pts[0].Equal(pts[len(pts)-1]) {
		pts = pts[:len(pts)-1]
	}
	loop := make(h3.GeoLoop, 0, len(pts))
	for i, p := range pts {
		loop = append(loop, h3.LatLng{Lat: p.Lat(), Lng: p.Lon()})
		q := pts[(i+1)%len(pts)]
		dl := q.Lon() - p.Lon()
		if n := int(math.Ceil(math.Abs(dl) / maxEdgeLon)); n > 1 {
			for k := 1; k < n; k++ {
				f := float64(k) / float64(n)
				loop = append(loop, h3.LatLng{
					Lat: p.Lat() + f*(q.Lat()-p.Lat()),
					Lng: p.Lon() + f*dl,
				})
			}
		}
	}
	return loop
}

// polyfillOne computes unique cells and returns them sorted for determinism.
func polyfillOne(outer h3.GeoLoop, holes []h3.GeoLoop, res int) ([]string, error) {
	poly := h3.GeoPolygon{
		GeoLoop: outer,
		Holes:   holes,
	}

	indexes, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	out := make([]string, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func centroidCell(poly orb.Polygon, res int) (string, error) {
	c, _ := planar.CentroidArea(poly)
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: c.Lat(), Lng: c.Lon()}, res)
	if err != nil {
		return "", fmt.Errorf("h3 centroid cell: %w", err)
	}
	return cell.String(), nil
}
