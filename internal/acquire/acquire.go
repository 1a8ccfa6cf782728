// Package acquire resolves the pixel grid of every band in a dataset, probing
// source files when the metadata does not declare one.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/observability"
	"github.com/mohammed-shakir/raster-extent-index/internal/crs"
	"github.com/mohammed-shakir/raster-extent-index/internal/dataset"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
	"github.com/mohammed-shakir/raster-extent-index/internal/logger"
)

// Prober reads the grid of a source file.
type Prober interface {
	Probe(ctx context.Context, location string) (grid.PixelGrid, error)
}

type ProberFunc func(ctx context.Context, location string) (grid.PixelGrid, error)

func (f ProberFunc) Probe(ctx context.Context, location string) (grid.PixelGrid, error) {
	return f(ctx, location)
}

type Source uint8

const (
	SourceInline Source = iota
	SourceGroup
	SourceDefault
	SourceProbe
)

func (s Source) String() string {
	return [...]string{"inline", "group", "default", "probe"}[s]
}

type Resolved struct {
	Band   string
	Grid   grid.PixelGrid
	Source Source
}

// Result lists resolved bands and failures, both in document order.
type Result struct {
	Bands    []Resolved
	Failures []*GridAcquisitionError
}

func (r Result) Partial() bool { return len(r.Failures) > 0 && len(r.Bands) > 0 }

// Err joins all band failures, nil when every band resolved.
func (r Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (r Result) Grids() []grid.PixelGrid {
	out := make([]grid.PixelGrid, len(r.Bands))
	for i, b := range r.Bands {
		out[i] = b.Grid
	}
	return out
}

type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	Concurrency int
	CacheSize   int
	// Timeout bounds a single probe attempt; zero means no per-attempt limit.
	Timeout time.Duration
	Logger  *slog.Logger
}

type Acquirer struct {
	prober Prober
	opts   Options
	cache  *lru.Cache[string, grid.PixelGrid]
	flight singleflight.Group
	log    *slog.Logger
}

// New returns an Acquirer. prober may be nil when every dataset declares its
// grids; bands that would need a probe then fail with ErrNoGridSource.
func New(prober Prober, opts Options) (*Acquirer, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	c, err := lru.New[string, grid.PixelGrid](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("acquire: probe cache: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Acquirer{prober: prober, opts: opts, cache: c, log: log}, nil
}

// Acquire resolves every band of d: inline override, then named group, then
// the default grid, then a probe of the band's location. Band failures are
// reported in the Result; the returned error is only set on cancellation.
func (a *Acquirer) Acquire(ctx context.Context, d dataset.Description) (Result, error) {
	type slot struct {
		res Resolved
		err *GridAcquisitionError
	}
	slots := make([]slot, len(d.Bands))
	var probes []int

	for i, b := range d.Bands {
		g, src, err := a.declared(d, b)
		switch {
		case err != nil:
			slots[i].err = err
		case src == SourceProbe:
			probes = append(probes, i)
		default:
			slots[i].res = Resolved{Band: b.Name, Grid: g, Source: src}
		}
	}

	if len(probes) > 0 {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(a.opts.Concurrency)
		for _, i := range probes {
			b := d.Bands[i]
			eg.Go(func() error {
				g, attempts, err := a.probe(egCtx, b.Location)
				if err != nil {
					if IsCanceled(err) {
						return err
					}
					slots[i].err = &GridAcquisitionError{Band: b.Name, Location: b.Location, Attempts: attempts, Err: err}
					return nil
				}
				if !crs.Equivalent(g.CRS, d.CRS) {
					slots[i].err = &GridAcquisitionError{Band: b.Name, Location: b.Location, Attempts: attempts,
						Err: fmt.Errorf("%w: %s != %s", ErrCRSMismatch, g.CRS, d.CRS)}
					return nil
				}
				g.CRS = d.CRS
				slots[i].res = Resolved{Band: b.Name, Grid: g, Source: SourceProbe}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return Result{}, err
		}
	}

	var out Result
	for _, s := range slots {
		if s.err != nil {
			out.Failures = append(out.Failures, s.err)
			continue
		}
		out.Bands = append(out.Bands, s.res)
	}
	for _, f := range out.Failures {
		a.log.ErrorContext(ctx, "grid acquisition failed", "band", f.Band, "location", f.Location, "attempts", f.Attempts, "err", f.Err)
	}
	return out, nil
}

func (a *Acquirer) declared(d dataset.Description, b dataset.Band) (grid.PixelGrid, Source, *GridAcquisitionError) {
	switch b.Ref.Kind {
	case grid.RefInline:
		return b.Ref.Inline, SourceInline, nil
	case grid.RefGroup:
		if g, ok := d.Grids[b.Ref.Group]; ok {
			return g, SourceGroup, nil
		}
		return grid.PixelGrid{}, 0, &GridAcquisitionError{Band: b.Name, Err: fmt.Errorf("%w: %s", ErrUnknownGroup, b.Ref.Group)}
	}
	if d.Default != nil {
		return *d.Default, SourceDefault, nil
	}
	if b.Location == "" || a.prober == nil {
		return grid.PixelGrid{}, 0, &GridAcquisitionError{Band: b.Name, Location: b.Location, Err: ErrNoGridSource}
	}
	return grid.PixelGrid{}, SourceProbe, nil
}

type probed struct {
	grid     grid.PixelGrid
	attempts int
}

func (a *Acquirer) probe(ctx context.Context, location string) (grid.PixelGrid, int, error) {
	if g, ok := a.cache.Get(location); ok {
		observability.IncProbeAttempt("cache_hit")
		return g, 0, nil
	}
	// The shared flight outlives any one caller; each caller only stops
	// waiting when its own context ends.
	flightCtx := context.WithoutCancel(ctx)
	ch := a.flight.DoChan(location, func() (any, error) {
		if g, ok := a.cache.Get(location); ok {
			return probed{grid: g}, nil
		}
		g, n, err := a.probeWithRetry(flightCtx, location)
		return probed{grid: g, attempts: n}, err
	})
	select {
	case <-ctx.Done():
		observability.IncProbeAttempt("canceled")
		return grid.PixelGrid{}, 0, canceled(ctx.Err())
	case r := <-ch:
		p, _ := r.Val.(probed)
		return p.grid, p.attempts, r.Err
	}
}

func (a *Acquirer) probeWithRetry(ctx context.Context, location string) (grid.PixelGrid, int, error) {
	backoff := a.opts.Backoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			observability.IncProbeAttempt("canceled")
			return grid.PixelGrid{}, attempt - 1, canceled(err)
		}

		actx, cancel := ctx, context.CancelFunc(func() {})
		if a.opts.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		}
		g, err := a.prober.Probe(actx, location)
		cancel()

		if err == nil {
			if err = g.Validate(); err == nil {
				observability.IncProbeAttempt("ok")
				a.cache.Add(location, g)
				return g, attempt, nil
			}
		}
		if ctx.Err() != nil {
			observability.IncProbeAttempt("canceled")
			return grid.PixelGrid{}, attempt, canceled(ctx.Err())
		}
		transient := IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
		if !transient {
			observability.IncProbeAttempt("permanent")
			return grid.PixelGrid{}, attempt, err
		}
		observability.IncProbeAttempt("transient")
		if attempt >= a.opts.MaxAttempts {
			return grid.PixelGrid{}, attempt, fmt.Errorf("retries exhausted: %w", err)
		}
		a.log.WarnContext(ctx, "grid probe failed, retrying", "location", location, "attempt", attempt, "backoff", backoff, "err", err)

		if backoff > 0 {
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				observability.IncProbeAttempt("canceled")
				return grid.PixelGrid{}, attempt, canceled(ctx.Err())
			case <-t.C:
			}
			backoff *= 2
		}
	}
}
