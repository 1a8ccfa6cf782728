// Package httpprobe reads band grids from JSON sidecar documents served over
// HTTP. A sidecar looks like
//
//	{"crs": "EPSG:32755", "shape": [7811, 7741], "transform": [30, 0, 499980, 0, -30, 5300020]}
//
// Locations that are not sidecars are handed to a fallback prober.
package httpprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mohammed-shakir/raster-extent-index/internal/acquire"
	"github.com/mohammed-shakir/raster-extent-index/internal/crs"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
)

const maxSidecar = 1 << 20

var ErrUnsupported = errors.New("no prober for location")

type sidecar struct {
	CRS       string    `json:"crs"`
	Shape     []int     `json:"shape"`
	Transform []float64 `json:"transform"`
}

type Prober struct {
	client   *http.Client
	fallback acquire.Prober
}

// New returns a Prober. fallback may be nil.
func New(client *http.Client, fallback acquire.Prober) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	return &Prober{client: client, fallback: fallback}
}

// IsSidecar reports whether location is an http(s) URL to a .json document.
func IsSidecar(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".json")
}

func (p *Prober) Probe(ctx context.Context, location string) (grid.PixelGrid, error) {
	if !IsSidecar(location) {
		if p.fallback == nil {
			return grid.PixelGrid{}, fmt.Errorf("%w: %s", ErrUnsupported, location)
		}
		return p.fallback.Probe(ctx, location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return grid.PixelGrid{}, fmt.Errorf("sidecar request %s: %w", location, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return grid.PixelGrid{}, ctx.Err()
		}
		return grid.PixelGrid{}, fmt.Errorf("%w: fetch %s: %w", acquire.ErrTransient, location, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxSidecar))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return grid.PixelGrid{}, fmt.Errorf("%w: fetch %s: status %d", acquire.ErrTransient, location, resp.StatusCode)
	default:
		return grid.PixelGrid{}, fmt.Errorf("fetch %s: status %d", location, resp.StatusCode)
	}

	var sc sidecar
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSidecar)).Decode(&sc); err != nil {
		return grid.PixelGrid{}, fmt.Errorf("decode sidecar %s: %w", location, err)
	}
	return sc.grid()
}

func (sc sidecar) grid() (grid.PixelGrid, error) {
	code, err := crs.Parse(sc.CRS)
	if err != nil {
		return grid.PixelGrid{}, err
	}
	if len(sc.Shape) != 2 {
		return grid.PixelGrid{}, fmt.Errorf("sidecar shape needs 2 values, got %d", len(sc.Shape))
	}
	if len(sc.Transform) != 6 && len(sc.Transform) != 9 {
		return grid.PixelGrid{}, fmt.Errorf("sidecar transform needs 6 or 9 values, got %d", len(sc.Transform))
	}
	var t grid.Affine
	copy(t[:], sc.Transform[:6])
	return grid.New(code.String(), t, grid.Shape{Height: sc.Shape[0], Width: sc.Shape[1]})
}
