// Package cache bundles the Redis-backed record cache and H3 cell index.
package cache

import (
	"time"

	"github.com/mohammed-shakir/raster-extent-index/internal/cache/cellindex"
	"github.com/mohammed-shakir/raster-extent-index/internal/cache/recordcache"
	"github.com/mohammed-shakir/raster-extent-index/internal/cache/redisstore"
)

type Store struct {
	Records recordcache.Cache
	Cells   cellindex.CellIndex
}

func NewRedisStore(cli *redisstore.Client, defaultTTL time.Duration) *Store {
	return &Store{
		Records: recordcache.NewRedis(cli, defaultTTL),
		Cells:   cellindex.NewRedisIndex(cli),
	}
}
