package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
)

var (
	ErrNotFound      = errors.New("dataset not found")
	ErrNoSchema      = errors.New("store has neither extent table")
	ErrSchemaMissing = errors.New("write schema table missing")
	ErrNoExtent      = errors.New("legacy metadata carries no extent")
	ErrEmptyID       = errors.New("empty dataset id")
)

// schemaStrategy reads and writes records in one physical layout of one store.
type schemaStrategy interface {
	schema() Schema
	put(ctx context.Context, r model.Record) error
	get(ctx context.Context, id string) (model.Record, bool, error)
	exists(ctx context.Context, id string) (bool, error)
	// query returns rows pre-filtered by what SQL can evaluate; decode turns
	// one row into a record. The caller owns rows.
	query(ctx context.Context, f model.Filters) (*sql.Rows, func(*sql.Rows) (model.Record, error), error)
	setArchived(ctx context.Context, id string, archived bool) (bool, error)
	remove(ctx context.Context, id string) (bool, error)
}

// where accumulates SQL predicates with dialect placeholders.
type where struct {
	d     dialect
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", w.d.bind(len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
