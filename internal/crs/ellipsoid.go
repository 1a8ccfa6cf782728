package crs

import (
	"math"
)

// WGS84 ellipsoid.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
)

var (
	wgs84E2 = wgs84F * (2 - wgs84F)
	wgs84E  = math.Sqrt(wgs84E2)
)

const deg = 180 / math.Pi

// polarStereo is the ellipsoidal polar stereographic inverse with a latitude
// of true scale (variant B).
type polarStereo struct {
	south bool
	latTS float64 // degrees, absolute
	lon0  float64 // degrees
}

func polarStereographic() map[Code]Projector {
	return map[Code]Projector{
		3413: polarStereo{latTS: 70, lon0: -45},
		3995: polarStereo{latTS: 71, lon0: 0},
		3031: polarStereo{south: true, latTS: 71, lon0: 0},
		3976: polarStereo{south: true, latTS: 70, lon0: 0},
	}
}

func (ps polarStereo) ToLonLat(x, y float64) (float64, float64, error) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, 0, ErrOutOfDomain
	}
	e := wgs84E
	phiC := ps.latTS / deg
	sinC := math.Sin(phiC)
	tc := math.Tan(math.Pi/4-phiC/2) / math.Pow((1-e*sinC)/(1+e*sinC), e/2)
	mc := math.Cos(phiC) / math.Sqrt(1-wgs84E2*sinC*sinC)

	rho := math.Hypot(x, y)
	t := rho * tc / (wgs84A * mc)
	chi := math.Pi/2 - 2*math.Atan(t)

	e2, e4 := wgs84E2, wgs84E2*wgs84E2
	e6, e8 := e4*e2, e4*e4
	phi := chi +
		(e2/2+5*e4/24+e6/12+13*e8/360)*math.Sin(2*chi) +
		(7*e4/48+29*e6/240+811*e8/11520)*math.Sin(4*chi) +
		(7*e6/120+81*e8/1120)*math.Sin(6*chi) +
		(4279*e8/161280)*math.Sin(8*chi)

	var lon float64
	if ps.south {
		phi = -phi
		lon = ps.lon0 + math.Atan2(x, y)*deg
	} else {
		lon = ps.lon0 + math.Atan2(x, -y)*deg
	}
	if rho == 0 {
		lon = ps.lon0
	}
	return NormalizeLon(lon), clampLat(phi * deg), nil
}

func (polarStereo) DensifyStep() float64 { return 10_000 }
func (polarStereo) Geographic() bool     { return false }
