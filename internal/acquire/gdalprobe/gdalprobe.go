//go:build gdal

// Package gdalprobe reads band grids from raster files with GDAL.
package gdalprobe

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/mohammed-shakir/raster-extent-index/internal/acquire"
	"github.com/mohammed-shakir/raster-extent-index/internal/crs"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
)

var registerOnce sync.Once

// Available reports whether this binary was built with GDAL support.
const Available = true

type Prober struct{}

func New() acquire.Prober {
	registerOnce.Do(godal.RegisterAll)
	return Prober{}
}

// Probe opens location (any GDAL path, /vsis3/ and /vsicurl/ included) and
// returns its grid. Network-looking failures are marked transient.
func (Prober) Probe(ctx context.Context, location string) (grid.PixelGrid, error) {
	if err := ctx.Err(); err != nil {
		return grid.PixelGrid{}, err
	}
	ds, err := godal.Open(location)
	if err != nil {
		return grid.PixelGrid{}, classify(fmt.Errorf("gdal open %s: %w", location, err))
	}
	defer ds.Close()

	gt, err := ds.GeoTransform()
	if err != nil {
		return grid.PixelGrid{}, fmt.Errorf("gdal geotransform %s: %w", location, err)
	}
	st := ds.Structure()
	code, err := crs.Parse(ds.Projection())
	if err != nil {
		return grid.PixelGrid{}, fmt.Errorf("gdal projection %s: %w", location, err)
	}
	return grid.New(code.String(), grid.FromGDAL(gt), grid.Shape{Height: st.SizeY, Width: st.SizeX})
}

func classify(err error) error {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timed out", "timeout", "connection reset", "http response code: 5", "temporarily"} {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %w", acquire.ErrTransient, err)
		}
	}
	return err
}
