// Package cellindex keeps, per H3 cell, the set of dataset ids whose
// footprint covers it.
package cellindex

import (
	"context"
	"fmt"

	"github.com/mohammed-shakir/raster-extent-index/internal/cache/keys"
	"github.com/mohammed-shakir/raster-extent-index/internal/cache/redisstore"
)

type CellIndex interface {
	Add(ctx context.Context, res int, cells []string, id string) error
	Remove(ctx context.Context, res int, cells []string, id string) error
	IDs(ctx context.Context, res int, cells []string) ([]string, error)
}

type redisCellIndex struct {
	cli *redisstore.Client
}

func NewRedisIndex(cli *redisstore.Client) CellIndex {
	return &redisCellIndex{cli: cli}
}

func (ci *redisCellIndex) Add(ctx context.Context, res int, cells []string, id string) error {
	if err := ci.cli.SAdd(ctx, keys.CellKeys(res, cells), id); err != nil {
		return fmt.Errorf("cellindex add %q to %d cells: %w", id, len(cells), err)
	}
	return nil
}

func (ci *redisCellIndex) Remove(ctx context.Context, res int, cells []string, id string) error {
	if err := ci.cli.SRem(ctx, keys.CellKeys(res, cells), id); err != nil {
		return fmt.Errorf("cellindex remove %q from %d cells: %w", id, len(cells), err)
	}
	return nil
}

// IDs returns the sorted, de-duplicated ids indexed under any of cells.
func (ci *redisCellIndex) IDs(ctx context.Context, res int, cells []string) ([]string, error) {
	ids, err := ci.cli.SUnion(ctx, keys.CellKeys(res, cells)...)
	if err != nil {
		return nil, fmt.Errorf("cellindex lookup %d cells: %w", len(cells), err)
	}
	return ids, nil
}
