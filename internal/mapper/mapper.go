// Package mapper converts geodetic footprints to H3 cell coverage.
package mapper

import (
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
)

type Interface interface {
	CellsForFootprint(mp orb.MultiPolygon, res int) ([]string, error)
	CellsForBBox(bb model.BBox, res int) ([]string, error)
	Cover(cell string, res int) ([]string, error)
}
