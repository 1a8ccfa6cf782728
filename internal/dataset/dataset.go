// Package dataset holds the extent view of a dataset's metadata document.
package dataset

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
)

var (
	ErrMissingID     = errors.New("dataset id is required")
	ErrMissingCRS    = errors.New("extent crs is required")
	ErrNoBands       = errors.New("dataset has no bands")
	ErrInvalidTime   = errors.New("invalid time range")
	ErrDuplicateBand = errors.New("duplicate band")
)

// Band names one measurement and where its grid comes from. Location is the
// source file probed when no grid is declared for the band.
type Band struct {
	Name     string
	Ref      grid.Ref
	Location string
}

type Description struct {
	ID       string
	Product  int
	Archived bool
	CRS      string
	Default  *grid.PixelGrid
	Grids    map[string]grid.PixelGrid
	Bands    []Band
	// ValidRegion is a Polygon or MultiPolygon in CRS-plane coordinates.
	ValidRegion orb.Geometry
	Time        model.TimeRange
	Properties  map[string]any
}

func (d Description) Validate() error {
	if d.ID == "" {
		return ErrMissingID
	}
	if d.CRS == "" {
		return ErrMissingCRS
	}
	if len(d.Bands) == 0 {
		return ErrNoBands
	}
	if !d.Time.Valid() {
		return fmt.Errorf("%w: %s .. %s", ErrInvalidTime, d.Time.Begin, d.Time.End)
	}
	seen := make(map[string]struct{}, len(d.Bands))
	for _, b := range d.Bands {
		if _, ok := seen[b.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateBand, b.Name)
		}
		seen[b.Name] = struct{}{}
	}
	return nil
}

// BandNames lists bands in document order.
func (d Description) BandNames() []string {
	out := make([]string, len(d.Bands))
	for i, b := range d.Bands {
		out[i] = b.Name
	}
	return out
}
