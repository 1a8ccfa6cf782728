// Package crs maps CRS identifiers to inverse projections onto geographic
// longitude/latitude (WGS84 degrees).
package crs

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrUnsupportedCRS = errors.New("unsupported crs")
	ErrUnparsableCRS  = errors.New("unparsable crs identifier")
	ErrOutOfDomain    = errors.New("coordinate outside projection domain")
)

// Code is an EPSG code.
type Code int

func (c Code) String() string { return "EPSG:" + strconv.Itoa(int(c)) }

// Projector converts CRS-plane coordinates to longitude/latitude.
type Projector interface {
	ToLonLat(x, y float64) (lon, lat float64, err error)
	// DensifyStep is the default maximum distance, in plane units, between
	// vertices when edges are densified before reprojection.
	DensifyStep() float64
	Geographic() bool
}

var (
	wktAuthority = regexp.MustCompile(`(?i)(?:AUTHORITY|ID)\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	urnCode      = regexp.MustCompile(`(?i)^urn:ogc:def:crs:EPSG:[^:]*:(\d+)$`)
)

// Parse extracts the EPSG code from "EPSG:n", "n", an OGC URN or WKT. For WKT
// the last authority entry names the whole CRS.
func Parse(id string) (Code, error) {
	s := strings.TrimSpace(id)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrUnparsableCRS)
	}
	if m := urnCode.FindStringSubmatch(s); m != nil {
		return atoiCode(m[1], id)
	}
	if len(s) > 5 && strings.EqualFold(s[:5], "epsg:") {
		return atoiCode(s[5:], id)
	}
	if ms := wktAuthority.FindAllStringSubmatch(s, -1); len(ms) > 0 {
		return atoiCode(ms[len(ms)-1][1], id)
	}
	return atoiCode(s, id)
}

func atoiCode(s, orig string) (Code, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnparsableCRS, orig)
	}
	return Code(n), nil
}

// Registry resolves codes to projectors. The zero value is not usable; use
// NewRegistry or the package-level Default.
type Registry struct {
	mu    sync.RWMutex
	fixed map[Code]Projector
}

func NewRegistry() *Registry {
	r := &Registry{fixed: map[Code]Projector{}}
	for _, c := range []Code{4326, 4283, 4269, 4258, 4019, 7844} {
		r.fixed[c] = geographic{}
	}
	for c, p := range mercatorFamily() {
		r.fixed[c] = p
	}
	for c, p := range polarStereographic() {
		r.fixed[c] = p
	}
	return r
}

// Register adds or replaces the projector for a code.
func (r *Registry) Register(c Code, p Projector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixed[c] = p
}

func (r *Registry) Lookup(id string) (Projector, error) {
	c, err := Parse(id)
	if err != nil {
		return nil, err
	}
	return r.LookupCode(c)
}

func (r *Registry) LookupCode(c Code) (Projector, error) {
	r.mu.RLock()
	p, ok := r.fixed[c]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	def, ok := projDefinition(c)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCRS, c)
	}
	ps, err := newProjSystem(def)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedCRS, c, err)
	}
	r.Register(c, ps)
	return ps, nil
}

// Equivalent reports whether two identifiers name the same CRS.
func Equivalent(a, b string) bool {
	if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
		return true
	}
	ca, errA := Parse(a)
	cb, errB := Parse(b)
	return errA == nil && errB == nil && ca == cb
}

var Default = NewRegistry()

func Lookup(id string) (Projector, error) { return Default.Lookup(id) }

type geographic struct{}

func (geographic) ToLonLat(x, y float64) (float64, float64, error) {
	if y < -90-1e-9 || y > 90+1e-9 {
		return 0, 0, fmt.Errorf("%w: latitude %v", ErrOutOfDomain, y)
	}
	return NormalizeLon(x), clampLat(y), nil
}

func (geographic) DensifyStep() float64 { return 0.1 }
func (geographic) Geographic() bool     { return true }

// NormalizeLon wraps a longitude into [-180, 180]. Exactly 180 is kept.
func NormalizeLon(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	l := mathMod(lon+180, 360) - 180
	if l == -180 && lon > 0 {
		return 180
	}
	return l
}

func mathMod(a, m float64) float64 {
	r := a - m*math.Floor(a/m)
	if r < 0 {
		r += m
	}
	return r
}

func clampLat(lat float64) float64 {
	if lat > 90 {
		return 90
	}
	if lat < -90 {
		return -90
	}
	return lat
}
