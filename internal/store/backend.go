package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/observability"
)

// backend is one underlying store connection with its probed layout.
type backend struct {
	label string
	db    *sql.DB
	d     dialect

	state   atomic.Int32
	probeMu sync.Mutex

	current *currentStrategy
	legacy  *legacyStrategy
}

func newBackend(label string, db *sql.DB, d dialect) *backend {
	return &backend{
		label:   label,
		db:      db,
		d:       d,
		current: &currentStrategy{db: db, d: d},
		legacy:  &legacyStrategy{db: db, d: d},
	}
}

// layout probes the store once and caches the answer. A failed probe, or a
// store with neither table, is not cached.
func (b *backend) layout(ctx context.Context) (Layout, error) {
	if l := Layout(b.state.Load()); l != Unprobed {
		return l, nil
	}
	b.probeMu.Lock()
	defer b.probeMu.Unlock()
	if l := Layout(b.state.Load()); l != Unprobed {
		return l, nil
	}

	legacy, err := b.d.tableExists(ctx, b.db, legacyTable)
	if err != nil {
		return Unprobed, fmt.Errorf("store %s: %w", b.label, err)
	}
	current, err := b.d.tableExists(ctx, b.db, currentTable)
	if err != nil {
		return Unprobed, fmt.Errorf("store %s: %w", b.label, err)
	}
	l := layoutOf(legacy, current)
	if l == Unprobed {
		return Unprobed, fmt.Errorf("store %s: %w", b.label, ErrNoSchema)
	}
	b.state.Store(int32(l))
	observability.IncLayoutDetected(l.String())
	return l, nil
}

// reset forgets the probed layout; the next call probes again.
func (b *backend) reset() {
	b.probeMu.Lock()
	b.state.Store(int32(Unprobed))
	b.probeMu.Unlock()
}

// strategies returns the readers for the layout, current first.
func (b *backend) strategies(l Layout) []schemaStrategy {
	var out []schemaStrategy
	if l.HasCurrent() {
		out = append(out, b.current)
	}
	if l.HasLegacy() {
		out = append(out, b.legacy)
	}
	return out
}

func (b *backend) strategy(s Schema) schemaStrategy {
	if s == SchemaLegacy {
		return b.legacy
	}
	return b.current
}
