// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
)

// Range is a closed interval. For longitudes Begin > End marks an interval that
// wraps through the antimeridian.
type Range struct {
	Begin float64 `json:"begin"`
	End   float64 `json:"end"`
}

func (r Range) Wrapped() bool { return r.Begin > r.End }

func (r Range) String() string { return fmt.Sprintf("[%g, %g]", r.Begin, r.End) }

// Overlaps treats both intervals as plain closed intervals.
func (r Range) Overlaps(o Range) bool {
	return r.Begin <= o.End && o.Begin <= r.End
}

// Segments splits a longitude range into at most two non-wrapping parts.
func (r Range) Segments() []Range {
	if !r.Wrapped() {
		return []Range{r}
	}
	return []Range{{Begin: r.Begin, End: 180}, {Begin: -180, End: r.End}}
}

// OverlapsLon is Overlaps for longitude ranges, either of which may wrap.
func (r Range) OverlapsLon(o Range) bool {
	for _, a := range r.Segments() {
		for _, b := range o.Segments() {
			if a.Overlaps(b) {
				return true
			}
		}
	}
	return false
}

// TimeRange is a closed interval; Begin == End for instantaneous datasets.
type TimeRange struct {
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
}

func Instant(t time.Time) TimeRange { return TimeRange{Begin: t.UTC(), End: t.UTC()} }

func (t TimeRange) Valid() bool { return !t.Begin.IsZero() && !t.End.Before(t.Begin) }

func (t TimeRange) Overlaps(o TimeRange) bool {
	return !t.Begin.After(o.End) && !o.Begin.After(t.End)
}

type BBox struct {
	Lon Range `json:"lon"`
	Lat Range `json:"lat"`
}

type GridEntry struct {
	ID string `json:"id"`
	grid.PixelGrid
}

// Region carries a geometry in both CRS-plane and geodetic coordinates.
type Region struct {
	Plane    *geojson.Geometry `json:"plane"`
	Geodetic *geojson.Geometry `json:"geodetic"`
}

// Payload is the normalized, storage-ready description of a dataset's extent.
type Payload struct {
	CRS         string            `json:"crs"`
	Grids       []GridEntry       `json:"grids"`
	Bands       map[string]string `json:"bands"`
	Unresolved  []string          `json:"unresolved_bands,omitempty"`
	Footprint   *geojson.Geometry `json:"footprint"`
	ValidRegion *Region           `json:"valid_region,omitempty"`
	BBox        BBox              `json:"bbox"`
	Time        TimeRange         `json:"time"`
	CellRes     int               `json:"h3_res,omitempty"`
	Cells       []string          `json:"h3_cells,omitempty"`
}

func (p Payload) Marshal() ([]byte, error) { return json.Marshal(p) }

// Digest is a content hash of the encoded payload.
func (p Payload) Digest() (uint64, error) {
	b, err := p.Marshal()
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(b), nil
}

// Grid returns the grid a band uses.
func (p Payload) Grid(band string) (grid.PixelGrid, bool) {
	id, ok := p.Bands[band]
	if !ok {
		return grid.PixelGrid{}, false
	}
	for _, g := range p.Grids {
		if g.ID == id {
			return g.PixelGrid, true
		}
	}
	return grid.PixelGrid{}, false
}

// Record is the persisted extent of one dataset.
type Record struct {
	ID       string    `json:"id"`
	Archived bool      `json:"archived"`
	Product  int       `json:"product"`
	Time     TimeRange `json:"time"`
	Lon      Range     `json:"lon"`
	Lat      Range     `json:"lat"`
	Payload  Payload   `json:"payload"`
}

// Filters select records in a query. Nil fields match everything.
type Filters struct {
	Time     *TimeRange
	Lat      *Range
	Lon      *Range
	Product  *int
	Archived *bool
}

func (f Filters) Match(r Record) bool {
	if f.Archived != nil && r.Archived != *f.Archived {
		return false
	}
	if f.Product != nil && r.Product != *f.Product {
		return false
	}
	if f.Time != nil && !r.Time.Overlaps(*f.Time) {
		return false
	}
	if f.Lat != nil && !r.Lat.Overlaps(*f.Lat) {
		return false
	}
	if f.Lon != nil && !r.Lon.OverlapsLon(*f.Lon) {
		return false
	}
	return true
}
