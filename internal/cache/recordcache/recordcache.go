// Package recordcache is a Redis read-through cache of dataset records.
package recordcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammed-shakir/raster-extent-index/internal/cache/keys"
	"github.com/mohammed-shakir/raster-extent-index/internal/cache/redisstore"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/observability"
)

type Cache interface {
	Get(ctx context.Context, id string) (model.Record, bool, error)
	GetMany(ctx context.Context, ids []string) (map[string]model.Record, error)
	Put(ctx context.Context, rec model.Record, ttl time.Duration) error
	PutMany(ctx context.Context, recs []model.Record, ttl time.Duration) error
	Invalidate(ctx context.Context, ids ...string) error
}

type redisCache struct {
	cli        *redisstore.Client
	defaultTTL time.Duration
}

func NewRedis(cli *redisstore.Client, defaultTTL time.Duration) Cache {
	return &redisCache{
		cli:        cli,
		defaultTTL: defaultTTL,
	}
}

func (c *redisCache) Get(ctx context.Context, id string) (model.Record, bool, error) {
	raw, ok, err := c.cli.Get(ctx, keys.RecordKey(id))
	if err != nil {
		observability.IncCacheError()
		return model.Record{}, false, fmt.Errorf("recordcache get %q: %w", id, err)
	}
	if !ok {
		observability.IncCacheMiss()
		return model.Record{}, false, nil
	}
	var rec model.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// a body we cannot read is treated as a miss and left to expire
		observability.IncCacheError()
		return model.Record{}, false, nil
	}
	observability.IncCacheHit()
	return rec, true, nil
}

func (c *redisCache) GetMany(ctx context.Context, ids []string) (map[string]model.Record, error) {
	if len(ids) == 0 {
		return map[string]model.Record{}, nil
	}

	ks := make([]string, len(ids))
	for i, id := range ids {
		ks[i] = keys.RecordKey(id)
	}

	raw, err := c.cli.MGet(ctx, ks)
	if err != nil {
		observability.IncCacheError()
		return nil, fmt.Errorf("recordcache redis MGET %d keys: %w", len(ks), err)
	}

	out := make(map[string]model.Record, len(raw))
	for i, id := range ids {
		body, ok := raw[ks[i]]
		if !ok {
			observability.IncCacheMiss()
			continue
		}
		var rec model.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			observability.IncCacheError()
			continue
		}
		observability.IncCacheHit()
		out[id] = rec
	}
	return out, nil
}

func (c *redisCache) Put(ctx context.Context, rec model.Record, ttl time.Duration) error {
	t := ttl
	if t <= 0 {
		t = c.defaultTTL
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("recordcache encode %q: %w", rec.ID, err)
	}
	k := keys.RecordKey(rec.ID)
	if err := c.cli.Set(ctx, k, body, t); err != nil {
		return fmt.Errorf("recordcache redis SET %q: %w", k, err)
	}
	return nil
}

// PutMany writes every record in one pipeline with the same ttl.
func (c *redisCache) PutMany(ctx context.Context, recs []model.Record, ttl time.Duration) error {
	if len(recs) == 0 {
		return nil
	}
	t := ttl
	if t <= 0 {
		t = c.defaultTTL
	}
	kv := make(map[string][]byte, len(recs))
	for _, rec := range recs {
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("recordcache encode %q: %w", rec.ID, err)
		}
		kv[keys.RecordKey(rec.ID)] = body
	}
	if err := c.cli.MSetWithTTL(ctx, kv, t); err != nil {
		return fmt.Errorf("recordcache redis MSET %d keys: %w", len(kv), err)
	}
	return nil
}

func (c *redisCache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	ks := make([]string, len(ids))
	for i, id := range ids {
		ks[i] = keys.RecordKey(id)
	}
	if err := c.cli.Del(ctx, ks...); err != nil {
		return fmt.Errorf("recordcache redis DEL %d keys: %w", len(ks), err)
	}
	return nil
}
