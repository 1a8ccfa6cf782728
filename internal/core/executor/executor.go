// Package executor runs indexing operations: a dataset is resolved, its
// record persisted, the cell index kept current and the change announced.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/raster-extent-index/internal/cache/cellindex"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/dataset"
	"github.com/mohammed-shakir/raster-extent-index/internal/engine"
	"github.com/mohammed-shakir/raster-extent-index/internal/events"
	"github.com/mohammed-shakir/raster-extent-index/internal/logger"
	"github.com/mohammed-shakir/raster-extent-index/internal/store"
)

// ErrExists is returned by ModeInsert when the dataset is already indexed.
var ErrExists = errors.New("dataset already indexed")

type Resolver interface {
	ResolveDatasetExtent(ctx context.Context, d dataset.Description) (model.Record, engine.Report, error)
}

type Store interface {
	Put(ctx context.Context, r model.Record) error
	Get(ctx context.Context, id string) (model.Record, error)
	Exists(ctx context.Context, id string) (bool, error)
	SetArchived(ctx context.Context, id string, archived bool) error
	Delete(ctx context.Context, id string) error
}

type Publisher interface {
	Publish(ev events.Event)
}

type Mode uint8

const (
	// ModeInsert skips datasets that are already indexed.
	ModeInsert Mode = iota
	// ModeUpsert replaces any existing record.
	ModeUpsert
)

func (m Mode) String() string {
	if m == ModeUpsert {
		return "upsert"
	}
	return "insert"
}

type Options struct {
	Cells  cellindex.CellIndex
	Events Publisher
	Logger *slog.Logger
}

type Executor struct {
	resolver Resolver
	store    Store
	cells    cellindex.CellIndex
	pub      Publisher
	log      *slog.Logger
	now      func() time.Time // for tests
}

func New(r Resolver, s Store, opts Options) *Executor {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Executor{resolver: r, store: s, cells: opts.Cells, pub: opts.Events, log: log, now: time.Now}
}

// Resolve resolves d without persisting anything.
func (e *Executor) Resolve(ctx context.Context, d dataset.Description) (model.Record, engine.Report, error) {
	return e.resolver.ResolveDatasetExtent(ctx, d)
}

// Index resolves d and stores the record.
func (e *Executor) Index(ctx context.Context, d dataset.Description, mode Mode) (model.Record, engine.Report, error) {
	ctx = logger.WithDatasetID(ctx, d.ID)
	if mode == ModeInsert && d.ID != "" {
		ok, err := e.store.Exists(ctx, d.ID)
		if err != nil {
			return model.Record{}, engine.Report{}, fmt.Errorf("index %s: %w", d.ID, err)
		}
		if ok {
			return model.Record{}, engine.Report{}, fmt.Errorf("index %s: %w", d.ID, ErrExists)
		}
	}

	rec, rep, err := e.resolver.ResolveDatasetExtent(ctx, d)
	if err != nil {
		return model.Record{}, rep, err
	}

	var prev *model.Record
	if mode == ModeUpsert && e.cells != nil {
		if old, err := e.store.Get(ctx, rec.ID); err == nil {
			prev = &old
		} else if !errors.Is(err, store.ErrNotFound) {
			e.log.WarnContext(ctx, "previous record unavailable; stale cells may remain", "err", err)
		}
	}

	if err := e.store.Put(ctx, rec); err != nil {
		return model.Record{}, rep, fmt.Errorf("index %s: %w", rec.ID, err)
	}

	if prev != nil {
		e.dropCells(ctx, *prev)
	}
	e.addCells(ctx, rec)
	e.publish(events.Indexed(rec))

	e.log.InfoContext(ctx, "dataset indexed",
		"dataset_id", rec.ID,
		"mode", mode.String(),
		"product", rec.Product,
		"partial", rep.Partial(),
		"cells", len(rec.Payload.Cells),
	)
	return rec, rep, nil
}

// SetArchived flips the archived flag of an indexed dataset.
func (e *Executor) SetArchived(ctx context.Context, id string, archived bool) error {
	if err := e.store.SetArchived(ctx, id, archived); err != nil {
		return err
	}
	if e.pub == nil {
		return nil
	}
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		e.log.WarnContext(ctx, "archived flag changed but record unreadable", "dataset_id", id, "err", err)
		return nil
	}
	ev := events.Indexed(rec)
	ev.Type = events.TypeRestored
	if archived {
		ev.Type = events.TypeArchived
	}
	ev.TS = e.now().UTC()
	e.publish(ev)
	return nil
}

// Delete removes the dataset from the store and the cell index.
func (e *Executor) Delete(ctx context.Context, id string) error {
	var prev *model.Record
	if e.cells != nil {
		if old, err := e.store.Get(ctx, id); err == nil {
			prev = &old
		}
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	if prev != nil {
		e.dropCells(ctx, *prev)
	}
	return nil
}

func (e *Executor) addCells(ctx context.Context, r model.Record) {
	if e.cells == nil || len(r.Payload.Cells) == 0 {
		return
	}
	if err := e.cells.Add(ctx, r.Payload.CellRes, r.Payload.Cells, r.ID); err != nil {
		e.log.WarnContext(ctx, "cell index update failed", "dataset_id", r.ID, "err", err)
	}
}

func (e *Executor) dropCells(ctx context.Context, r model.Record) {
	if e.cells == nil || len(r.Payload.Cells) == 0 {
		return
	}
	if err := e.cells.Remove(ctx, r.Payload.CellRes, r.Payload.Cells, r.ID); err != nil {
		e.log.WarnContext(ctx, "cell index removal failed", "dataset_id", r.ID, "err", err)
	}
}

func (e *Executor) publish(ev events.Event) {
	if e.pub != nil {
		e.pub.Publish(ev)
	}
}
