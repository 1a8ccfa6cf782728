// Package engine turns a dataset description into a derived extent record:
// band grids are acquired, the footprint is resolved and the payload built.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/raster-extent-index/internal/acquire"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/observability"
	"github.com/mohammed-shakir/raster-extent-index/internal/dataset"
	"github.com/mohammed-shakir/raster-extent-index/internal/extent"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
	"github.com/mohammed-shakir/raster-extent-index/internal/logger"
	"github.com/mohammed-shakir/raster-extent-index/internal/payload"
)

// ErrPartial is returned when some bands failed and partial results are not accepted.
var ErrPartial = errors.New("band grid acquisition incomplete")

type Acquirer interface {
	Acquire(ctx context.Context, d dataset.Description) (acquire.Result, error)
}

// CellMapper covers a geodetic footprint with H3 cells.
type CellMapper interface {
	CellsForFootprint(mp orb.MultiPolygon, res int) ([]string, error)
}

type Options struct {
	Acquirer Acquirer
	Resolver *extent.Resolver
	// AcceptPartial keeps datasets where some, not all, bands failed.
	AcceptPartial bool
	// CellRes enables H3 coverage at this resolution when > 0 and Cells is set.
	CellRes int
	Cells   CellMapper
	Logger  *slog.Logger
}

// Report describes how each band was resolved.
type Report struct {
	Bands    []acquire.Resolved
	Failures []*acquire.GridAcquisitionError
	Extent   extent.Extent
	Duration time.Duration
}

func (r Report) Partial() bool { return len(r.Failures) > 0 && len(r.Bands) > 0 }

type Engine struct {
	acq      Acquirer
	resolver *extent.Resolver
	opts     Options
	log      *slog.Logger
}

func New(opts Options) (*Engine, error) {
	if opts.Acquirer == nil {
		return nil, errors.New("engine: acquirer is required")
	}
	if opts.CellRes < 0 || opts.CellRes > 15 {
		return nil, fmt.Errorf("engine: invalid H3 resolution %d", opts.CellRes)
	}
	res := opts.Resolver
	if res == nil {
		res = extent.New(extent.Options{})
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{acq: opts.Acquirer, resolver: res, opts: opts, log: log}, nil
}

// ResolveDatasetExtent resolves d into its derived extent record. Failures
// are *grid.InvalidGridError, *acquire.GridAcquisitionError (possibly
// joined, with ErrPartial) or *extent.DegenerateFootprintError; a canceled
// context yields an error matching acquire.ErrProbeCanceled.
func (e *Engine) ResolveDatasetExtent(ctx context.Context, d dataset.Description) (model.Record, Report, error) {
	start := time.Now()
	ctx = logger.WithDatasetID(ctx, d.ID)

	rec, rep, err := e.resolve(ctx, d)
	rep.Duration = time.Since(start)

	outcome := outcomeOf(err, rep)
	observability.ObserveResolve(outcome, rep.Duration.Seconds())
	if err != nil {
		e.log.WarnContext(ctx, "dataset extent not resolved", "dataset_id", d.ID, "outcome", outcome, "err", err)
		return model.Record{}, rep, err
	}
	e.log.DebugContext(ctx, "dataset extent resolved",
		"dataset_id", d.ID,
		"grids", len(rec.Payload.Grids),
		"lon", rec.Lon.String(),
		"lat", rec.Lat.String(),
		"partial", rep.Partial(),
		"took", rep.Duration,
	)
	return rec, rep, nil
}

func (e *Engine) resolve(ctx context.Context, d dataset.Description) (model.Record, Report, error) {
	var rep Report
	if err := d.Validate(); err != nil {
		return model.Record{}, rep, err
	}
	if err := validateDeclared(d); err != nil {
		return model.Record{}, rep, err
	}

	res, err := e.acq.Acquire(ctx, d)
	if err != nil {
		return model.Record{}, rep, err
	}
	rep.Bands, rep.Failures = res.Bands, res.Failures
	if len(res.Failures) > 0 {
		if len(res.Bands) == 0 || !e.opts.AcceptPartial {
			return model.Record{}, rep, fmt.Errorf("%w: %d of %d bands: %w",
				ErrPartial, len(res.Failures), len(d.Bands), res.Err())
		}
	}

	ext, err := e.resolver.Resolve(d.CRS, distinct(res.Grids()), d.ValidRegion)
	if err != nil {
		return model.Record{}, rep, err
	}
	rep.Extent = ext

	bands := make([]payload.BandGrid, len(res.Bands))
	for i, b := range res.Bands {
		bands[i] = payload.BandGrid{Band: b.Band, Grid: b.Grid}
	}
	var unresolved []string
	for _, f := range res.Failures {
		unresolved = append(unresolved, f.Band)
	}
	p, err := payload.Build(d, bands, unresolved, ext)
	if err != nil {
		return model.Record{}, rep, err
	}

	if e.opts.CellRes > 0 && e.opts.Cells != nil {
		e.addCells(ctx, &p, ext)
	}
	return payload.Record(d, p), rep, nil
}

// addCells attaches H3 coverage. Polar caps are skipped: their footprint is
// not a simple lon/lat polygon. Coverage failures leave the payload without
// cells.
func (e *Engine) addCells(ctx context.Context, p *model.Payload, ext extent.Extent) {
	if ext.Poles != 0 {
		return
	}
	cells, err := e.opts.Cells.CellsForFootprint(ext.Footprint, e.opts.CellRes)
	if err != nil {
		e.log.WarnContext(ctx, "h3 coverage failed", "res", e.opts.CellRes, "err", err)
		return
	}
	p.CellRes = e.opts.CellRes
	p.Cells = cells
}

// validateDeclared rejects malformed declared grids before any probe runs.
func validateDeclared(d dataset.Description) error {
	if d.Default != nil {
		if err := d.Default.Validate(); err != nil {
			return err
		}
	}
	for name, g := range d.Grids {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("grid group %s: %w", name, err)
		}
	}
	for _, b := range d.Bands {
		if b.Ref.Kind != grid.RefInline {
			continue
		}
		if err := b.Ref.Inline.Validate(); err != nil {
			return fmt.Errorf("band %s: %w", b.Name, err)
		}
	}
	return nil
}

func distinct(gs []grid.PixelGrid) []grid.PixelGrid {
	var out []grid.PixelGrid
	byKey := map[uint64][]int{}
	for _, g := range gs {
		k := g.Key()
		dup := false
		for _, i := range byKey[k] {
			if out[i].Equal(g) {
				dup = true
				break
			}
		}
		if !dup {
			byKey[k] = append(byKey[k], len(out))
			out = append(out, g)
		}
	}
	return out
}

func outcomeOf(err error, rep Report) string {
	var (
		invalid    *grid.InvalidGridError
		acqErr     *acquire.GridAcquisitionError
		degenerate *extent.DegenerateFootprintError
	)
	switch {
	case err == nil && rep.Partial():
		return "partial"
	case err == nil:
		return "ok"
	case acquire.IsCanceled(err):
		return "canceled"
	case errors.As(err, &invalid):
		return "invalid_grid"
	case errors.As(err, &acqErr):
		return "acquisition_failed"
	case errors.As(err, &degenerate):
		return "degenerate"
	default:
		return "error"
	}
}
