package crs

import (
	"fmt"

	"github.com/go-spatial/proj"
)

// projInverse delegates to go-spatial/proj for the cylindrical projections it
// ships with.
type projInverse struct {
	code proj.EPSGCode
}

func mercatorFamily() map[Code]Projector {
	return map[Code]Projector{
		3857:   projInverse{code: proj.EPSG3857},
		900913: projInverse{code: proj.EPSG3857},
		3395:   projInverse{code: proj.EPSG3395},
		4087:   projInverse{code: proj.EPSG4087},
	}
}

func (p projInverse) ToLonLat(x, y float64) (float64, float64, error) {
	out, err := proj.Inverse(p.code, []float64{x, y})
	if err != nil {
		return 0, 0, fmt.Errorf("crs inverse %d: %w", p.code, err)
	}
	if len(out) < 2 {
		return 0, 0, fmt.Errorf("crs inverse %d: %w", p.code, ErrOutOfDomain)
	}
	return NormalizeLon(out[0]), clampLat(out[1]), nil
}

func (projInverse) DensifyStep() float64 { return 10_000 }
func (projInverse) Geographic() bool     { return false }
