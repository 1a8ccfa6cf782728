package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
)

// currentStrategy serves the dedicated dataset_extent table.
type currentStrategy struct {
	db *sql.DB
	d  dialect
}

const currentColumns = `uuid, archived, product, time_begin, time_end, lat_begin, lat_end, lon_begin, lon_end, payload`

func (c *currentStrategy) schema() Schema { return SchemaCurrent }

func (c *currentStrategy) put(ctx context.Context, r model.Record) error {
	payload, err := r.Payload.Marshal()
	if err != nil {
		return fmt.Errorf("encode payload %q: %w", r.ID, err)
	}
	b := c.d.bind
	q := `INSERT INTO dataset_extent (` + currentColumns + `) VALUES (` +
		b(1) + `, ` + b(2) + `, ` + b(3) + `, ` + b(4) + `, ` + b(5) + `, ` +
		b(6) + `, ` + b(7) + `, ` + b(8) + `, ` + b(9) + `, ` + b(10) + `)
	ON CONFLICT (uuid) DO UPDATE SET
		archived = excluded.archived,
		product = excluded.product,
		time_begin = excluded.time_begin,
		time_end = excluded.time_end,
		lat_begin = excluded.lat_begin,
		lat_end = excluded.lat_end,
		lon_begin = excluded.lon_begin,
		lon_end = excluded.lon_end,
		payload = excluded.payload`
	_, err = c.db.ExecContext(ctx, q,
		r.ID, r.Archived, r.Product,
		c.d.timeArg(r.Time.Begin), c.d.timeArg(r.Time.End),
		r.Lat.Begin, r.Lat.End, r.Lon.Begin, r.Lon.End,
		jsonText(payload),
	)
	if err != nil {
		return fmt.Errorf("upsert dataset_extent %q: %w", r.ID, err)
	}
	return nil
}

func (c *currentStrategy) get(ctx context.Context, id string) (model.Record, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+currentColumns+` FROM dataset_extent WHERE uuid = `+c.d.bind(1), id)
	r, err := scanCurrent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, fmt.Errorf("select dataset_extent %q: %w", id, err)
	}
	return r, true, nil
}

func (c *currentStrategy) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM dataset_extent WHERE uuid = `+c.d.bind(1), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe dataset_extent %q: %w", id, err)
	}
	return true, nil
}

func (c *currentStrategy) query(
	ctx context.Context,
	f model.Filters,
) (*sql.Rows, func(*sql.Rows) (model.Record, error), error) {
	w := &where{d: c.d}
	if f.Archived != nil {
		w.add("archived = ?", *f.Archived)
	}
	if f.Product != nil {
		w.add("product = ?", *f.Product)
	}
	if f.Time != nil {
		w.add("time_begin <= ? AND time_end >= ?", c.d.timeArg(f.Time.End), c.d.timeArg(f.Time.Begin))
	}
	if f.Lat != nil {
		w.add("lat_begin <= ? AND lat_end >= ?", f.Lat.End, f.Lat.Begin)
	}
	// lon may wrap on either side; left to the Go predicate
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+currentColumns+` FROM dataset_extent`+w.String()+` ORDER BY uuid`, w.args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query dataset_extent: %w", err)
	}
	return rows, func(rs *sql.Rows) (model.Record, error) { return scanCurrent(rs) }, nil
}

func (c *currentStrategy) setArchived(ctx context.Context, id string, archived bool) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE dataset_extent SET archived = `+c.d.bind(1)+` WHERE uuid = `+c.d.bind(2), archived, id)
	if err != nil {
		return false, fmt.Errorf("archive dataset_extent %q: %w", id, err)
	}
	return rowsAffected(res)
}

func (c *currentStrategy) remove(ctx context.Context, id string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM dataset_extent WHERE uuid = `+c.d.bind(1), id)
	if err != nil {
		return false, fmt.Errorf("delete dataset_extent %q: %w", id, err)
	}
	return rowsAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCurrent(s rowScanner) (model.Record, error) {
	var (
		r          model.Record
		begin, end sqlTime
		payload    []byte
	)
	if err := s.Scan(
		&r.ID, &r.Archived, &r.Product, &begin, &end,
		&r.Lat.Begin, &r.Lat.End, &r.Lon.Begin, &r.Lon.End, &payload,
	); err != nil {
		return model.Record{}, err
	}
	r.Time = model.TimeRange{Begin: begin.t, End: end.t}
	if err := json.Unmarshal(payload, &r.Payload); err != nil {
		return model.Record{}, fmt.Errorf("decode payload %q: %w", r.ID, err)
	}
	return r, nil
}
