package crs

import (
	"fmt"
	"math"
	"sync"

	"github.com/go-spatial/proj/core"
	_ "github.com/go-spatial/proj/operations"
	"github.com/go-spatial/proj/support"
)

// projSystem inverts a projection assembled from a proj string. Operations
// such as aea keep scratch values on the operation itself, so calls on one
// system are serialized.
type projSystem struct {
	def string
	mu  *sync.Mutex
	op  core.IConvertLPToXY
}

func newProjSystem(def string) (projSystem, error) {
	ps, err := support.NewProjString(def)
	if err != nil {
		return projSystem{}, fmt.Errorf("proj string %q: %w", def, err)
	}
	_, op, err := core.NewSystem(ps)
	if err != nil {
		return projSystem{}, fmt.Errorf("proj system %q: %w", def, err)
	}
	conv, ok := op.(core.IConvertLPToXY)
	if !ok {
		return projSystem{}, fmt.Errorf("proj system %q: not an lp/xy conversion", def)
	}
	return projSystem{def: def, mu: &sync.Mutex{}, op: conv}, nil
}

func (p projSystem) ToLonLat(x, y float64) (float64, float64, error) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return 0, 0, ErrOutOfDomain
	}
	p.mu.Lock()
	lp, err := p.op.Inverse(&core.CoordXY{X: x, Y: y})
	p.mu.Unlock()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s (%v, %v): %v", ErrOutOfDomain, p.def, x, y, err)
	}
	lon, lat := support.RToDD(lp.Lam), support.RToDD(lp.Phi)
	if math.IsNaN(lon) || math.IsNaN(lat) || math.Abs(lon) > 720 || math.Abs(lat) > 90+1e-9 {
		return 0, 0, fmt.Errorf("%w: %s (%v, %v)", ErrOutOfDomain, p.def, x, y)
	}
	return NormalizeLon(lon), clampLat(lat), nil
}

func (projSystem) DensifyStep() float64 { return 10_000 }
func (projSystem) Geographic() bool     { return false }

// australianAlbers is shared by GDA94 (3577) and GDA2020 (9473). This proj
// port reads lon_0 in radians.
var australianAlbers = fmt.Sprintf("+proj=aea +lat_0=0 +lon_0=%.15f +lat_1=-18 +lat_2=-36 +x_0=0 +y_0=0 +ellps=GRS80", 132/deg)

// projDefinition covers the zoned families: WGS84 UTM (326xx north, 327xx
// south), MGA on GDA94 (283xx) and GDA2020 (78xx), and Australian Albers.
func projDefinition(c Code) (string, bool) {
	n := int(c)
	switch {
	case n >= 32601 && n <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84", n-32600), true
	case n >= 32701 && n <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84", n-32700), true
	case n >= 28348 && n <= 28358:
		return fmt.Sprintf("+proj=utm +zone=%d +south +ellps=GRS80", n-28300), true
	case n >= 7846 && n <= 7859:
		return fmt.Sprintf("+proj=utm +zone=%d +south +ellps=GRS80", n-7800), true
	case n == 3577 || n == 9473:
		return australianAlbers, true
	}
	return "", false
}
