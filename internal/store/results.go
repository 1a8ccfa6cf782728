package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/observability"
)

type source struct {
	b *backend
	s schemaStrategy
}

// Results is a lazy, forward-only cursor over query matches. Sources are
// opened one at a time: every current table first, then every legacy table.
// Ids already yielded, or present in any current table, are skipped, so a
// current row always shadows a legacy one.
type Results struct {
	ctx     context.Context
	d       *Driver
	f       model.Filters
	sources []source
	next    int

	rows   *sql.Rows
	decode func(*sql.Rows) (model.Record, error)
	src    source
	start  time.Time

	seen   map[string]struct{}
	cur    model.Record
	err    error
	closed bool
}

// Query returns the records matching f across all stores and layouts.
func (d *Driver) Query(ctx context.Context, f model.Filters) (*Results, error) {
	layouts, err := d.probeAll(ctx)
	if err != nil {
		return nil, err
	}
	var srcs []source
	for _, s := range []Schema{SchemaCurrent, SchemaLegacy} {
		for i, b := range d.backends {
			if layouts[i].Has(s) {
				srcs = append(srcs, source{b: b, s: b.strategy(s)})
			}
		}
	}
	return &Results{ctx: ctx, d: d, f: f, sources: srcs, seen: map[string]struct{}{}}, nil
}

// Next advances to the next match. It returns false when the results are
// exhausted, closed, or an error occurred; check Err.
func (r *Results) Next() bool {
	for !r.closed {
		if r.rows == nil {
			if r.next >= len(r.sources) {
				_ = r.Close()
				return false
			}
			if err := r.open(r.sources[r.next]); err != nil {
				r.fail(err)
				return false
			}
			r.next++
		}

		if !r.rows.Next() {
			err := r.rows.Err()
			r.finishSource(err)
			if err != nil {
				r.fail(fmt.Errorf("store %s: %w", r.src.b.label, err))
				return false
			}
			continue
		}

		rec, err := r.decode(r.rows)
		if errors.Is(err, ErrNoExtent) {
			r.d.log.Debug("skipping legacy dataset without extent", "store", r.src.b.label, "err", err)
			continue
		}
		if err != nil {
			r.fail(fmt.Errorf("store %s: %w", r.src.b.label, err))
			return false
		}
		if _, dup := r.seen[rec.ID]; dup {
			continue
		}
		r.seen[rec.ID] = struct{}{}
		if !r.f.Match(rec) {
			continue
		}
		if r.src.s.schema() == SchemaLegacy {
			shadowed, err := r.shadowed(rec.ID)
			if err != nil {
				r.fail(err)
				return false
			}
			if shadowed {
				continue
			}
		}
		r.cur = rec
		return true
	}
	return false
}

// Record returns the current match.
func (r *Results) Record() model.Record { return r.cur }

func (r *Results) Err() error { return r.err }

// Close releases the open source. Results cannot be restarted.
func (r *Results) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.rows != nil {
		err := r.rows.Close()
		r.rows = nil
		return err
	}
	return nil
}

// Collect drains the cursor.
func (r *Results) Collect() ([]model.Record, error) {
	defer func() { _ = r.Close() }()
	var out []model.Record
	for r.Next() {
		out = append(out, r.Record())
	}
	return out, r.Err()
}

func (r *Results) open(src source) error {
	r.src = src
	r.start = time.Now()
	rows, decode, err := src.s.query(r.ctx, r.f)
	if err != nil {
		observability.ObserveStoreOp(string(src.s.schema()), "query", err, time.Since(r.start).Seconds())
		return fmt.Errorf("store %s: %w", src.b.label, err)
	}
	r.rows, r.decode = rows, decode
	return nil
}

func (r *Results) finishSource(err error) {
	_ = r.rows.Close()
	r.rows = nil
	observability.ObserveStoreOp(string(r.src.s.schema()), "query", err, time.Since(r.start).Seconds())
}

func (r *Results) fail(err error) {
	r.err = err
	_ = r.Close()
}

// shadowed reports whether a current table holds id. Current rows filtered
// out in SQL never reach the seen set, so they are checked directly.
func (r *Results) shadowed(id string) (bool, error) {
	for _, src := range r.sources {
		if src.s.schema() != SchemaCurrent {
			continue
		}
		ok, err := src.s.exists(r.ctx, id)
		if err != nil {
			return false, fmt.Errorf("store %s: %w", src.b.label, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
