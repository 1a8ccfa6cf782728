// Package payload assembles the normalized, storage-ready extent payload.
package payload

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/dataset"
	"github.com/mohammed-shakir/raster-extent-index/internal/extent"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
)

var ErrNoBands = errors.New("payload needs at least one resolved band")

type BandGrid struct {
	Band string
	Grid grid.PixelGrid
}

// Build deduplicates band grids and combines them with the resolved extent.
// Grid ids are assigned in band order (g0, g1, ...), so equal inputs always
// encode to the same bytes.
func Build(d dataset.Description, bands []BandGrid, unresolved []string, ext extent.Extent) (model.Payload, error) {
	if len(bands) == 0 {
		return model.Payload{}, ErrNoBands
	}
	p := model.Payload{
		CRS:   d.CRS,
		Bands: make(map[string]string, len(bands)),
		BBox:  model.BBox{Lon: ext.Lon, Lat: ext.Lat},
		Time:  model.TimeRange{Begin: d.Time.Begin.UTC(), End: d.Time.End.UTC()},
	}
	byKey := map[uint64][]int{}
	for _, b := range bands {
		if _, dup := p.Bands[b.Band]; dup {
			return model.Payload{}, fmt.Errorf("payload: %w: %s", dataset.ErrDuplicateBand, b.Band)
		}
		b.Grid.CRS = d.CRS
		k := b.Grid.Key()
		idx := -1
		for _, i := range byKey[k] {
			if p.Grids[i].Equal(b.Grid) {
				idx = i
				break
			}
		}
		if idx < 0 {
			idx = len(p.Grids)
			p.Grids = append(p.Grids, model.GridEntry{ID: "g" + strconv.Itoa(idx), PixelGrid: b.Grid})
			byKey[k] = append(byKey[k], idx)
		}
		p.Bands[b.Band] = p.Grids[idx].ID
	}
	if len(unresolved) > 0 {
		p.Unresolved = append([]string(nil), unresolved...)
	}
	if len(ext.Footprint) > 0 {
		p.Footprint = geojson.NewGeometry(ext.Footprint)
	}
	if d.ValidRegion != nil {
		p.ValidRegion = &model.Region{Plane: geojson.NewGeometry(d.ValidRegion)}
		if len(ext.ValidRegion) > 0 {
			p.ValidRegion.Geodetic = geojson.NewGeometry(ext.ValidRegion)
		}
	}
	return p, nil
}

// Record wraps a payload with the dataset's catalogue fields.
func Record(d dataset.Description, p model.Payload) model.Record {
	return model.Record{
		ID:       d.ID,
		Archived: d.Archived,
		Product:  d.Product,
		Time:     p.Time,
		Lon:      p.BBox.Lon,
		Lat:      p.BBox.Lat,
		Payload:  p,
	}
}
