// Package grid models the pixel grid of a raster band: the CRS it lives in, the
// affine transform from pixel to CRS-plane coordinates, and its pixel shape.
package grid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
)

var (
	ErrEmptyCRS          = errors.New("empty crs")
	ErrSingularTransform = errors.New("transform is not invertible")
	ErrNonPositiveShape  = errors.New("shape must be positive")
	ErrNonFinite         = errors.New("transform has non-finite coefficient")
)

// InvalidGridError reports a grid that cannot describe a pixel footprint.
type InvalidGridError struct {
	Grid   string
	Reason error
}

func (e *InvalidGridError) Error() string {
	if e.Grid == "" {
		return "invalid grid: " + e.Reason.Error()
	}
	return fmt.Sprintf("invalid grid %q: %v", e.Grid, e.Reason)
}

func (e *InvalidGridError) Unwrap() error { return e.Reason }

// Affine holds the coefficients a, b, c, d, e, f of
//
//	x = a*col + b*row + c
//	y = d*col + e*row + f
type Affine [6]float64

// FromGDAL converts a GDAL geotransform (c, a, b, f, d, e) to Affine order.
func FromGDAL(gt [6]float64) Affine {
	return Affine{gt[1], gt[2], gt[0], gt[4], gt[5], gt[3]}
}

func (t Affine) Det() float64 { return t[0]*t[4] - t[1]*t[3] }

func (t Affine) Apply(col, row float64) (x, y float64) {
	return t[0]*col + t[1]*row + t[2], t[3]*col + t[4]*row + t[5]
}

type Shape struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

type PixelGrid struct {
	CRS       string `json:"crs"`
	Transform Affine `json:"transform"`
	Shape     Shape  `json:"shape"`
}

// New validates and returns a grid.
func New(crs string, t Affine, s Shape) (PixelGrid, error) {
	g := PixelGrid{CRS: strings.TrimSpace(crs), Transform: t, Shape: s}
	if err := g.Validate(); err != nil {
		return PixelGrid{}, err
	}
	return g, nil
}

func (g PixelGrid) Validate() error {
	if g.CRS == "" {
		return &InvalidGridError{Reason: ErrEmptyCRS}
	}
	if g.Shape.Height <= 0 || g.Shape.Width <= 0 {
		return &InvalidGridError{Grid: g.CRS, Reason: fmt.Errorf("%w: %dx%d", ErrNonPositiveShape, g.Shape.Height, g.Shape.Width)}
	}
	for _, v := range g.Transform {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &InvalidGridError{Grid: g.CRS, Reason: ErrNonFinite}
		}
	}
	if g.Transform.Det() == 0 {
		return &InvalidGridError{Grid: g.CRS, Reason: ErrSingularTransform}
	}
	return nil
}

// PlaneCorners returns the four outer pixel corners in CRS-plane coordinates,
// ordered counter-clockwise.
func (g PixelGrid) PlaneCorners() [4]orb.Point {
	w, h := float64(g.Shape.Width), float64(g.Shape.Height)
	px := [4][2]float64{{0, 0}, {w, 0}, {w, h}, {0, h}}
	if g.Transform.Det() < 0 {
		// the transform flips orientation (north-up rasters)
		px = [4][2]float64{{0, 0}, {0, h}, {w, h}, {w, 0}}
	}
	var out [4]orb.Point
	for i, p := range px {
		x, y := g.Transform.Apply(p[0], p[1])
		out[i] = orb.Point{x, y}
	}
	return out
}

// Equal reports whether two grids describe the same pixels. CRS identifiers
// compare case-insensitively.
func (g PixelGrid) Equal(o PixelGrid) bool {
	return strings.EqualFold(g.CRS, o.CRS) && g.Transform == o.Transform && g.Shape == o.Shape
}

// Key is a stable hash of the grid, consistent with Equal.
func (g PixelGrid) Key() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(strings.ToLower(g.CRS))
	var buf [8]byte
	for _, v := range g.Transform {
		if v == 0 {
			v = 0 // fold -0 into +0
		}
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = d.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(g.Shape.Height))
	_, _ = d.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(g.Shape.Width))
	_, _ = d.Write(buf[:])
	return d.Sum64()
}
