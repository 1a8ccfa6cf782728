package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
)

// legacyStrategy serves the generic dataset table, where the extent lives in
// the metadata document under "extent".
type legacyStrategy struct {
	db *sql.DB
	d  dialect
}

type legacyExtent struct {
	Time    *model.TimeRange `json:"time,omitempty"`
	Lat     *model.Range     `json:"lat,omitempty"`
	Lon     *model.Range     `json:"lon,omitempty"`
	Payload *model.Payload   `json:"payload,omitempty"`
}

func (l *legacyStrategy) schema() Schema { return SchemaLegacy }

func (l *legacyStrategy) put(ctx context.Context, r model.Record) error {
	doc := map[string]json.RawMessage{}
	var existing []byte
	err := l.db.QueryRowContext(ctx,
		`SELECT metadata FROM dataset WHERE id = `+l.d.bind(1), r.ID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("select dataset %q: %w", r.ID, err)
	default:
		// other metadata keys belong to the indexing pipeline and are kept
		if err := json.Unmarshal(existing, &doc); err != nil {
			return fmt.Errorf("decode metadata %q: %w", r.ID, err)
		}
	}

	p := r.Payload
	ext, err := json.Marshal(legacyExtent{Time: &r.Time, Lat: &r.Lat, Lon: &r.Lon, Payload: &p})
	if err != nil {
		return fmt.Errorf("encode extent %q: %w", r.ID, err)
	}
	id, _ := json.Marshal(r.ID)
	doc["id"] = id
	doc["extent"] = ext
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode metadata %q: %w", r.ID, err)
	}

	q := `INSERT INTO dataset (id, product, archived, metadata) VALUES (` +
		l.d.bind(1) + `, ` + l.d.bind(2) + `, ` + l.d.bind(3) + `, ` + l.d.bind(4) + `)
	ON CONFLICT (id) DO UPDATE SET
		product = excluded.product,
		archived = excluded.archived,
		metadata = excluded.metadata`
	if _, err := l.db.ExecContext(ctx, q, r.ID, r.Product, r.Archived, jsonText(body)); err != nil {
		return fmt.Errorf("upsert dataset %q: %w", r.ID, err)
	}
	return nil
}

func (l *legacyStrategy) get(ctx context.Context, id string) (model.Record, bool, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, product, archived, metadata FROM dataset WHERE id = `+l.d.bind(1), id)
	r, err := scanLegacy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, fmt.Errorf("select dataset %q: %w", id, err)
	}
	return r, true, nil
}

func (l *legacyStrategy) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM dataset WHERE id = `+l.d.bind(1), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe dataset %q: %w", id, err)
	}
	return true, nil
}

// query can only push product and archived down; the extent is derived per row.
func (l *legacyStrategy) query(
	ctx context.Context,
	f model.Filters,
) (*sql.Rows, func(*sql.Rows) (model.Record, error), error) {
	w := &where{d: l.d}
	if f.Archived != nil {
		w.add("archived = ?", *f.Archived)
	}
	if f.Product != nil {
		w.add("product = ?", *f.Product)
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, product, archived, metadata FROM dataset`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query dataset: %w", err)
	}
	return rows, func(rs *sql.Rows) (model.Record, error) { return scanLegacy(rs) }, nil
}

func (l *legacyStrategy) setArchived(ctx context.Context, id string, archived bool) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE dataset SET archived = `+l.d.bind(1)+` WHERE id = `+l.d.bind(2), archived, id)
	if err != nil {
		return false, fmt.Errorf("archive dataset %q: %w", id, err)
	}
	return rowsAffected(res)
}

func (l *legacyStrategy) remove(ctx context.Context, id string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM dataset WHERE id = `+l.d.bind(1), id)
	if err != nil {
		return false, fmt.Errorf("delete dataset %q: %w", id, err)
	}
	return rowsAffected(res)
}

func scanLegacy(s rowScanner) (model.Record, error) {
	var (
		r    model.Record
		meta []byte
	)
	if err := s.Scan(&r.ID, &r.Product, &r.Archived, &meta); err != nil {
		return model.Record{}, err
	}
	if err := deriveExtent(&r, meta); err != nil {
		return model.Record{}, fmt.Errorf("derive extent %q: %w", r.ID, err)
	}
	return r, nil
}

// deriveExtent fills the extent fields of r from a legacy metadata document.
// Documents written before payloads existed carry only time, lat and lon; their
// record gets a payload holding just the bbox and time. Missing bounds fall
// back to the payload bbox, then to the footprint.
func deriveExtent(r *model.Record, meta []byte) error {
	var doc struct {
		Extent *legacyExtent `json:"extent"`
	}
	if err := json.Unmarshal(meta, &doc); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if doc.Extent == nil {
		return ErrNoExtent
	}
	ext := doc.Extent
	if ext.Payload != nil {
		r.Payload = *ext.Payload
	}

	bb := r.Payload.BBox
	haveBounds := bb != model.BBox{}
	if !haveBounds && r.Payload.Footprint != nil {
		if bb, haveBounds = footprintBounds(r.Payload.Footprint.Coordinates); !haveBounds {
			return errors.New("footprint has no polygons")
		}
	}
	if ext.Lat != nil && ext.Lon != nil {
		haveBounds = true
	}
	if !haveBounds {
		return ErrNoExtent
	}
	r.Lat = bb.Lat
	r.Lon = bb.Lon
	if ext.Lat != nil {
		r.Lat = *ext.Lat
	}
	if ext.Lon != nil {
		r.Lon = *ext.Lon
	}

	switch {
	case ext.Time != nil:
		r.Time = *ext.Time
	case r.Payload.Time.Valid():
		r.Time = r.Payload.Time
	default:
		return errors.New("no time range")
	}

	if ext.Payload == nil {
		r.Payload.BBox = model.BBox{Lon: r.Lon, Lat: r.Lat}
		r.Payload.Time = r.Time
	}
	return nil
}

// footprintBounds recovers lon/lat ranges from a footprint already split at
// the antimeridian: parts touching both +180 and -180 form a wrapped range.
func footprintBounds(g orb.Geometry) (model.BBox, bool) {
	var mp orb.MultiPolygon
	switch t := g.(type) {
	case orb.MultiPolygon:
		mp = t
	case orb.Polygon:
		mp = orb.MultiPolygon{t}
	default:
		return model.BBox{}, false
	}
	if len(mp) == 0 {
		return model.BBox{}, false
	}

	all := mp.Bound()
	bb := model.BBox{
		Lon: model.Range{Begin: all.Min.Lon(), End: all.Max.Lon()},
		Lat: model.Range{Begin: all.Min.Lat(), End: all.Max.Lat()},
	}
	if all.Min.Lon() > -180 || all.Max.Lon() < 180 || len(mp) < 2 {
		return bb, true
	}

	east, west := orb.Bound{}, orb.Bound{}
	var haveEast, haveWest bool
	for _, p := range mp {
		b := p.Bound()
		switch {
		case b.Max.Lon() >= 180 && b.Min.Lon() > -180:
			east, haveEast = union(east, b, haveEast), true
		case b.Min.Lon() <= -180 && b.Max.Lon() < 180:
			west, haveWest = union(west, b, haveWest), true
		default:
			// parts away from the antimeridian keep the plain bounds
			return bb, true
		}
	}
	if haveEast && haveWest && east.Min.Lon() > west.Max.Lon() {
		bb.Lon = model.Range{Begin: east.Min.Lon(), End: west.Max.Lon()}
	}
	return bb, true
}

func union(acc, b orb.Bound, have bool) orb.Bound {
	if !have {
		return b
	}
	return acc.Union(b)
}
