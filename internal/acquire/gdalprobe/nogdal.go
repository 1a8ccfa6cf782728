//go:build !gdal

package gdalprobe

import (
	"context"
	"errors"

	"github.com/mohammed-shakir/raster-extent-index/internal/acquire"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
)

// ErrUnavailable is returned by every probe in binaries built without the gdal tag.
var ErrUnavailable = errors.New("gdal support not compiled in (build with -tags gdal)")

const Available = false

type Prober struct{}

func New() acquire.Prober { return Prober{} }

func (Prober) Probe(context.Context, string) (grid.PixelGrid, error) {
	return grid.PixelGrid{}, ErrUnavailable
}
