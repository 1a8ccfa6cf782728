package recordcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/raster-extent-index/internal/cache/redisstore"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
)

func seededCache(b *testing.B, n int) (Cache, []string) {
	b.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis: %v", err)
	}
	b.Cleanup(mr.Close)
	cli, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		b.Fatalf("redisstore.New: %v", err)
	}
	b.Cleanup(func() { _ = cli.Close() })

	c := NewRedis(cli, time.Hour)
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("ds-%05d", i)
	}
	batch := make([]model.Record, n)
	for i, id := range ids {
		batch[i] = rec(id)
	}
	if err := c.PutMany(context.Background(), batch, 0); err != nil {
		b.Fatalf("PutMany: %v", err)
	}
	return c, ids
}

// Cell listings load every covering record; compare one MGET against a Get
// per record.
func BenchmarkCellRecordLoad(b *testing.B) {
	for _, n := range []int{16, 256} {
		b.Run(fmt.Sprintf("GetMany/%d", n), func(b *testing.B) {
			c, ids := seededCache(b, n)
			ctx := context.Background()
			b.ReportAllocs()
			for b.Loop() {
				if got, err := c.GetMany(ctx, ids); err != nil || len(got) != n {
					b.Fatalf("GetMany: %d %v", len(got), err)
				}
			}
		})
		b.Run(fmt.Sprintf("Get/%d", n), func(b *testing.B) {
			c, ids := seededCache(b, n)
			ctx := context.Background()
			b.ReportAllocs()
			for b.Loop() {
				for _, id := range ids {
					if _, ok, err := c.Get(ctx, id); err != nil || !ok {
						b.Fatalf("Get %s: %v %v", id, ok, err)
					}
				}
			}
		})
	}
}
