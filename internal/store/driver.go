// Package store persists derived extent records across the legacy
// single-table layout and the dedicated extent table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mohammed-shakir/raster-extent-index/internal/cache/recordcache"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/observability"
	"github.com/mohammed-shakir/raster-extent-index/internal/logger"
)

// Conn is one underlying store handed to the driver.
type Conn struct {
	Label  string
	DB     *sql.DB
	Driver string
}

type Options struct {
	WriteSchema Schema
	// AutoMigrate creates the write schema table on the primary store when
	// it is missing instead of failing the write.
	AutoMigrate  bool
	Cache        recordcache.Cache
	CacheTTL     time.Duration
	CacheTimeout time.Duration
	Logger       *slog.Logger
}

// Driver reads from every configured store and writes to the first one, in
// the configured write schema only. It is safe for concurrent use; puts of
// the same id must be serialized by the caller.
type Driver struct {
	backends []*backend
	opts     Options
	log      *slog.Logger
	owned    bool
}

func New(conns []Conn, opts Options) (*Driver, error) {
	if len(conns) == 0 {
		return nil, errors.New("store: at least one connection is required")
	}
	if opts.WriteSchema == "" {
		opts.WriteSchema = SchemaCurrent
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = 100 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	bs := make([]*backend, 0, len(conns))
	for i, c := range conns {
		d, err := dialectFor(c.Driver)
		if err != nil {
			return nil, err
		}
		label := c.Label
		if label == "" {
			label = fmt.Sprintf("store%d", i)
		}
		bs = append(bs, newBackend(label, c.DB, d))
	}
	return &Driver{backends: bs, opts: opts, log: log}, nil
}

// Open connects to every DSN with driverName and pings it.
func Open(ctx context.Context, driverName string, dsns []string, opts Options) (*Driver, error) {
	if len(dsns) == 0 {
		return nil, errors.New("store: no database URL configured")
	}
	conns := make([]Conn, 0, len(dsns))
	closeAll := func() {
		for _, c := range conns {
			_ = c.DB.Close()
		}
	}
	for i, dsn := range dsns {
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open store %d: %w", i, err)
		}
		conns = append(conns, Conn{Label: fmt.Sprintf("store%d", i), DB: db, Driver: driverName})
		if err := db.PingContext(ctx); err != nil {
			closeAll()
			return nil, fmt.Errorf("ping store %d: %w", i, err)
		}
	}
	d, err := New(conns, opts)
	if err != nil {
		closeAll()
		return nil, err
	}
	d.owned = true
	return d, nil
}

// Close closes connections the driver opened itself.
func (d *Driver) Close() error {
	if !d.owned {
		return nil
	}
	var errs []error
	for _, b := range d.backends {
		errs = append(errs, b.db.Close())
	}
	return errors.Join(errs...)
}

func (d *Driver) primary() *backend { return d.backends[0] }

// Layouts probes every store and reports its layout by label.
func (d *Driver) Layouts(ctx context.Context) (map[string]Layout, error) {
	out := make(map[string]Layout, len(d.backends))
	for _, b := range d.backends {
		l, err := b.layout(ctx)
		if err != nil {
			return out, err
		}
		out[b.label] = l
	}
	return out, nil
}

// Ping checks every store connection.
func (d *Driver) Ping(ctx context.Context) error {
	for _, b := range d.backends {
		if err := b.db.PingContext(ctx); err != nil {
			return fmt.Errorf("store %s: %w", b.label, err)
		}
	}
	return nil
}

// EnsureSchema creates the tables of s on the primary store and forgets its
// probed layout.
func (d *Driver) EnsureSchema(ctx context.Context, s Schema) error {
	b := d.primary()
	if err := ensureSchema(ctx, b.db, b.d, s); err != nil {
		return fmt.Errorf("store %s: %w", b.label, err)
	}
	b.reset()
	return nil
}

// writer returns the write-schema strategy of the primary store.
func (d *Driver) writer(ctx context.Context) (schemaStrategy, error) {
	b := d.primary()
	s := d.opts.WriteSchema
	l, err := b.layout(ctx)
	if err != nil && !errors.Is(err, ErrNoSchema) {
		return nil, err
	}
	if err == nil && l.Has(s) {
		return b.strategy(s), nil
	}
	if !d.opts.AutoMigrate {
		return nil, fmt.Errorf("store %s (%s): %w: %s", b.label, l, ErrSchemaMissing, s)
	}
	d.log.Info("creating write schema", "store", b.label, "schema", string(s))
	if err := d.EnsureSchema(ctx, s); err != nil {
		return nil, err
	}
	return b.strategy(s), nil
}

// Put stores r in the write schema of the primary store.
func (d *Driver) Put(ctx context.Context, r model.Record) error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrEmptyID
	}
	w, err := d.writer(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	err = w.put(ctx, r)
	observability.ObserveStoreOp(string(w.schema()), "put", err, time.Since(start).Seconds())
	if err != nil {
		return err
	}
	d.invalidate(ctx, r.ID)
	return nil
}

// Get returns the record for id. A current-schema row on any store wins
// over a legacy-derived one.
func (d *Driver) Get(ctx context.Context, id string) (model.Record, error) {
	if strings.TrimSpace(id) == "" {
		return model.Record{}, ErrEmptyID
	}
	if r, ok := d.cached(ctx, id); ok {
		return r, nil
	}

	layouts, err := d.probeAll(ctx)
	if err != nil {
		return model.Record{}, err
	}
	r, ok, err := d.load(ctx, layouts, id)
	if err != nil {
		return model.Record{}, err
	}
	if !ok {
		return model.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	d.remember(ctx, r)
	return r, nil
}

func (d *Driver) load(ctx context.Context, layouts []Layout, id string) (model.Record, bool, error) {
	for _, s := range []Schema{SchemaCurrent, SchemaLegacy} {
		for i, b := range d.backends {
			if !layouts[i].Has(s) {
				continue
			}
			start := time.Now()
			r, ok, err := b.strategy(s).get(ctx, id)
			observability.ObserveStoreOp(string(s), "get", err, time.Since(start).Seconds())
			if err != nil {
				return model.Record{}, false, fmt.Errorf("store %s: %w", b.label, err)
			}
			if ok {
				return r, true, nil
			}
		}
	}
	return model.Record{}, false, nil
}

// GetMany returns the records for ids in order, skipping ids no store
// holds. Cache hits are served in one round trip and the misses are written
// back together.
func (d *Driver) GetMany(ctx context.Context, ids []string) ([]model.Record, error) {
	hits := d.cachedMany(ctx, ids)
	out := make([]model.Record, 0, len(ids))
	var loaded []model.Record
	var layouts []Layout
	for _, id := range ids {
		if r, ok := hits[id]; ok {
			out = append(out, r)
			continue
		}
		if strings.TrimSpace(id) == "" {
			return nil, ErrEmptyID
		}
		if layouts == nil {
			var err error
			if layouts, err = d.probeAll(ctx); err != nil {
				return nil, err
			}
		}
		r, ok, err := d.load(ctx, layouts, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
			loaded = append(loaded, r)
		}
	}
	d.rememberMany(ctx, loaded)
	return out, nil
}

// Exists reports whether any store holds id in either layout.
func (d *Driver) Exists(ctx context.Context, id string) (bool, error) {
	layouts, err := d.probeAll(ctx)
	if err != nil {
		return false, err
	}
	for i, b := range d.backends {
		for _, s := range b.strategies(layouts[i]) {
			ok, err := s.exists(ctx, id)
			if err != nil {
				return false, fmt.Errorf("store %s: %w", b.label, err)
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// SetArchived flips the archived flag wherever id is stored.
func (d *Driver) SetArchived(ctx context.Context, id string, archived bool) error {
	return d.eachRow(ctx, id, "archive", func(s schemaStrategy) (bool, error) {
		return s.setArchived(ctx, id, archived)
	})
}

// Delete removes id from every store and layout.
func (d *Driver) Delete(ctx context.Context, id string) error {
	return d.eachRow(ctx, id, "delete", func(s schemaStrategy) (bool, error) {
		return s.remove(ctx, id)
	})
}

func (d *Driver) eachRow(ctx context.Context, id, op string, fn func(schemaStrategy) (bool, error)) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	layouts, err := d.probeAll(ctx)
	if err != nil {
		return err
	}
	found := false
	for i, b := range d.backends {
		for _, s := range b.strategies(layouts[i]) {
			start := time.Now()
			ok, err := fn(s)
			observability.ObserveStoreOp(string(s.schema()), op, err, time.Since(start).Seconds())
			if err != nil {
				return fmt.Errorf("store %s: %w", b.label, err)
			}
			found = found || ok
		}
	}
	d.invalidate(ctx, id)
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Promote copies the legacy-derived record for id into the current table of
// the primary store. The legacy row is left in place.
func (d *Driver) Promote(ctx context.Context, id string) (model.Record, error) {
	layouts, err := d.probeAll(ctx)
	if err != nil {
		return model.Record{}, err
	}
	var (
		rec   model.Record
		found bool
	)
	for i, b := range d.backends {
		if !layouts[i].HasLegacy() {
			continue
		}
		r, ok, err := b.legacy.get(ctx, id)
		if err != nil {
			return model.Record{}, fmt.Errorf("store %s: %w", b.label, err)
		}
		if ok {
			rec, found = r, true
			break
		}
	}
	if !found {
		return model.Record{}, fmt.Errorf("%w in legacy layout: %s", ErrNotFound, id)
	}

	b := d.primary()
	if !layouts[0].HasCurrent() {
		if !d.opts.AutoMigrate {
			return model.Record{}, fmt.Errorf("store %s: %w: %s", b.label, ErrSchemaMissing, SchemaCurrent)
		}
		if err := d.EnsureSchema(ctx, SchemaCurrent); err != nil {
			return model.Record{}, err
		}
	}
	start := time.Now()
	err = b.current.put(ctx, rec)
	observability.ObserveStoreOp(string(SchemaCurrent), "promote", err, time.Since(start).Seconds())
	if err != nil {
		return model.Record{}, err
	}
	d.invalidate(ctx, id)
	return rec, nil
}

// probeAll returns the layout of every store. A store with neither table
// reads as empty.
func (d *Driver) probeAll(ctx context.Context) ([]Layout, error) {
	out := make([]Layout, len(d.backends))
	for i, b := range d.backends {
		l, err := b.layout(ctx)
		if err != nil && !errors.Is(err, ErrNoSchema) {
			return nil, err
		}
		out[i] = l
	}
	return out, nil
}

func (d *Driver) cached(ctx context.Context, id string) (model.Record, bool) {
	if d.opts.Cache == nil {
		return model.Record{}, false
	}
	cctx, cancel := context.WithTimeout(ctx, d.opts.CacheTimeout)
	defer cancel()
	r, ok, err := d.opts.Cache.Get(cctx, id)
	if err != nil {
		d.log.Warn("record cache read failed", "dataset_id", id, "err", err)
		return model.Record{}, false
	}
	return r, ok
}

func (d *Driver) remember(ctx context.Context, r model.Record) {
	if d.opts.Cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, d.opts.CacheTimeout)
	defer cancel()
	if err := d.opts.Cache.Put(cctx, r, d.opts.CacheTTL); err != nil {
		d.log.Warn("record cache write failed", "dataset_id", r.ID, "err", err)
	}
}

func (d *Driver) cachedMany(ctx context.Context, ids []string) map[string]model.Record {
	if d.opts.Cache == nil || len(ids) == 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, d.opts.CacheTimeout)
	defer cancel()
	hits, err := d.opts.Cache.GetMany(cctx, ids)
	if err != nil {
		d.log.Warn("record cache batch read failed", "ids", len(ids), "err", err)
		return nil
	}
	return hits
}

func (d *Driver) rememberMany(ctx context.Context, recs []model.Record) {
	if d.opts.Cache == nil || len(recs) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, d.opts.CacheTimeout)
	defer cancel()
	if err := d.opts.Cache.PutMany(cctx, recs, d.opts.CacheTTL); err != nil {
		d.log.Warn("record cache batch write failed", "records", len(recs), "err", err)
	}
}

func (d *Driver) invalidate(ctx context.Context, id string) {
	if d.opts.Cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, d.opts.CacheTimeout)
	defer cancel()
	if err := d.opts.Cache.Invalidate(cctx, id); err != nil {
		d.log.Warn("record cache invalidate failed", "dataset_id", id, "err", err)
	}
}
