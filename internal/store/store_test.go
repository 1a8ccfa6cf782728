package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/raster-extent-index/internal/cache/keys"
	"github.com/mohammed-shakir/raster-extent-index/internal/cache/recordcache"
	"github.com/mohammed-shakir/raster-extent-index/internal/cache/redisstore"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
)

// file databases: every pooled connection must see the same data
func openSQLite(t *testing.T, name string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), name+".db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Ping(); err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	return db
}

func withSchema(t *testing.T, db *sql.DB, schemas ...Schema) {
	t.Helper()
	for _, s := range schemas {
		if err := EnsureSchema(context.Background(), db, "sqlite", s); err != nil {
			t.Fatalf("EnsureSchema %s: %v", s, err)
		}
	}
}

func newDriver(t *testing.T, opts Options, dbs ...*sql.DB) *Driver {
	t.Helper()
	conns := make([]Conn, len(dbs))
	for i, db := range dbs {
		conns[i] = Conn{DB: db, Driver: "sqlite"}
	}
	d, err := New(conns, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func box(lon, lat model.Range) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{lon.Begin, lat.Begin}, {lon.End, lat.Begin}, {lon.End, lat.End}, {lon.Begin, lat.End}, {lon.Begin, lat.Begin},
	}}
}

func payloadFor(lon, lat model.Range, tr model.TimeRange) model.Payload {
	var fp orb.MultiPolygon
	for _, seg := range lon.Segments() {
		fp = append(fp, box(seg, lat))
	}
	return model.Payload{
		CRS: "EPSG:4326",
		Grids: []model.GridEntry{{ID: "g0", PixelGrid: grid.PixelGrid{
			CRS:       "EPSG:4326",
			Transform: grid.Affine{0.01, 0, lon.Begin, 0, -0.01, lat.End},
			Shape:     grid.Shape{Height: 100, Width: 100},
		}}},
		Bands:     map[string]string{"red": "g0", "nir": "g0"},
		Footprint: geojson.NewGeometry(fp),
		BBox:      model.BBox{Lon: lon, Lat: lat},
		Time:      tr,
	}
}

func rec(id string, lon, lat model.Range, product int, archived bool, day int) model.Record {
	tr := model.Instant(time.Date(2020, 1, day, 10, 30, 0, 123456789, time.UTC))
	return model.Record{
		ID:       id,
		Archived: archived,
		Product:  product,
		Time:     tr,
		Lon:      lon,
		Lat:      lat,
		Payload:  payloadFor(lon, lat, tr),
	}
}

func sameRecord(t *testing.T, got, want model.Record) {
	t.Helper()
	g, _ := json.Marshal(got)
	w, _ := json.Marshal(want)
	if string(g) != string(w) {
		t.Fatalf("record mismatch:\n got=%s\nwant=%s", g, w)
	}
}

func ids(rs []model.Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

var (
	tasLon = model.Range{Begin: 147, End: 148.5}
	tasLat = model.Range{Begin: -43.5, End: -42}
)

func TestPutGet_RoundTripBothSchemas(t *testing.T) {
	for _, s := range []Schema{SchemaLegacy, SchemaCurrent} {
		t.Run(string(s), func(t *testing.T) {
			db := openSQLite(t, "rt")
			withSchema(t, db, s)
			d := newDriver(t, Options{WriteSchema: s}, db)
			ctx := context.Background()

			want := rec("ds-rt", tasLon, tasLat, 3, false, 5)
			if err := d.Put(ctx, want); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := d.Get(ctx, want.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			sameRecord(t, got, want)

			// overwrite
			want.Product = 4
			if err := d.Put(ctx, want); err != nil {
				t.Fatalf("Put again: %v", err)
			}
			got, err = d.Get(ctx, want.ID)
			if err != nil {
				t.Fatalf("Get again: %v", err)
			}
			sameRecord(t, got, want)
		})
	}
}

func TestLegacyPut_PreservesOtherMetadata(t *testing.T) {
	db := openSQLite(t, "meta")
	withSchema(t, db, SchemaLegacy)
	ctx := context.Background()

	if _, err := db.Exec(`INSERT INTO dataset (id, product, archived, metadata) VALUES (?, ?, ?, ?)`,
		"ds-m", 1, false, `{"id":"ds-m","platform":{"code":"LANDSAT_8"}}`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	d := newDriver(t, Options{WriteSchema: SchemaLegacy}, db)
	if err := d.Put(ctx, rec("ds-m", tasLon, tasLat, 1, false, 2)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var meta string
	if err := db.QueryRow(`SELECT metadata FROM dataset WHERE id = ?`, "ds-m").Scan(&meta); err != nil {
		t.Fatalf("select: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(meta), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := doc["platform"]; !ok {
		t.Fatalf("platform key lost: %s", meta)
	}
	if _, ok := doc["extent"]; !ok {
		t.Fatalf("extent key missing: %s", meta)
	}
}

func TestMergedQuery_LegacyStoreAndCurrentStore(t *testing.T) {
	ctx := context.Background()

	// store A: legacy only, extent written by an older indexer without bounds
	dbA := openSQLite(t, "a")
	withSchema(t, dbA, SchemaLegacy)
	tr := model.Instant(time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC))
	pa := payloadFor(model.Range{Begin: 179, End: -179}, model.Range{Begin: -17, End: -16}, tr)
	pa.BBox = model.BBox{}
	meta, err := json.Marshal(map[string]any{"id": "A", "extent": map[string]any{"payload": pa}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := dbA.Exec(`INSERT INTO dataset (id, product, archived, metadata) VALUES (?, ?, ?, ?)`,
		"A", 2, false, string(meta)); err != nil {
		t.Fatalf("seed A: %v", err)
	}

	// store B: current only
	dbB := openSQLite(t, "b")
	withSchema(t, dbB, SchemaCurrent)
	b := rec("B", tasLon, tasLat, 2, false, 3)
	if err := newDriver(t, Options{}, dbB).Put(ctx, b); err != nil {
		t.Fatalf("Put B: %v", err)
	}

	d := newDriver(t, Options{}, dbA, dbB)
	layouts, err := d.Layouts(ctx)
	if err != nil {
		t.Fatalf("Layouts: %v", err)
	}
	if layouts["store0"] != LegacyOnly || layouts["store1"] != CurrentOnly {
		t.Fatalf("layouts=%v", layouts)
	}

	res, err := d.Query(ctx, model.Filters{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	got, err := res.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != 2 || got[0].ID != "B" || got[1].ID != "A" {
		t.Fatalf("merged ids=%v want [B A]", ids(got))
	}
	sameRecord(t, got[0], b)

	a := got[1]
	if a.Lon.Begin != 179 || a.Lon.End != -179 {
		t.Fatalf("derived lon=%v want wrapped [179,-179]", a.Lon)
	}
	if a.Lat.Begin != -17 || a.Lat.End != -16 {
		t.Fatalf("derived lat=%v", a.Lat)
	}
	if !a.Time.Begin.Equal(tr.Begin) || a.Product != 2 {
		t.Fatalf("derived time/product: %+v", a)
	}

	// only the legacy record crosses the antimeridian
	lon := model.Range{Begin: -179.5, End: -179.2}
	res, err = d.Query(ctx, model.Filters{Lon: &lon})
	if err != nil {
		t.Fatalf("Query lon: %v", err)
	}
	got, err = res.Collect()
	if err != nil {
		t.Fatalf("Collect lon: %v", err)
	}
	if len(got) != 1 || got[0].ID != "A" {
		t.Fatalf("lon filtered ids=%v want [A]", ids(got))
	}
}

func TestCurrentShadowsLegacy(t *testing.T) {
	ctx := context.Background()
	dbA := openSQLite(t, "a")
	withSchema(t, dbA, SchemaLegacy)
	dbB := openSQLite(t, "b")
	withSchema(t, dbB, SchemaCurrent)

	old := rec("X", tasLon, tasLat, 1, false, 1)
	if err := newDriver(t, Options{WriteSchema: SchemaLegacy}, dbA).Put(ctx, old); err != nil {
		t.Fatalf("Put legacy: %v", err)
	}
	cur := rec("X", tasLon, tasLat, 2, true, 1)
	if err := newDriver(t, Options{}, dbB).Put(ctx, cur); err != nil {
		t.Fatalf("Put current: %v", err)
	}

	d := newDriver(t, Options{}, dbA, dbB)

	got, err := d.Get(ctx, "X")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Product != 2 || !got.Archived {
		t.Fatalf("Get returned legacy version: %+v", got)
	}

	res, err := d.Query(ctx, model.Filters{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	all, err := res.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(all) != 1 || all[0].Product != 2 {
		t.Fatalf("expected the current version once, got %+v", all)
	}

	// the current row is filtered out in SQL; the legacy row must not leak
	active := false
	res, err = d.Query(ctx, model.Filters{Archived: &active})
	if err != nil {
		t.Fatalf("Query active: %v", err)
	}
	all, err = res.Collect()
	if err != nil {
		t.Fatalf("Collect active: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("shadowed legacy row leaked: %v", ids(all))
	}
}

func TestQuery_Filters(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t, "f")
	withSchema(t, db, SchemaCurrent)
	d := newDriver(t, Options{}, db)

	for _, r := range []model.Record{
		rec("fiji", model.Range{Begin: 179, End: -179}, model.Range{Begin: -18, End: -16}, 1, false, 1),
		rec("tas", tasLon, tasLat, 1, false, 10),
		rec("tas-old", tasLon, tasLat, 2, true, 20),
	} {
		if err := d.Put(ctx, r); err != nil {
			t.Fatalf("Put %s: %v", r.ID, err)
		}
	}

	one, yes := 1, true
	early := model.TimeRange{
		Begin: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC),
	}
	south := model.Range{Begin: -50, End: -40}
	east := model.Range{Begin: 170, End: 180}

	cases := []struct {
		name string
		f    model.Filters
		want []string
	}{
		{"all", model.Filters{}, []string{"fiji", "tas", "tas-old"}},
		{"product", model.Filters{Product: &one}, []string{"fiji", "tas"}},
		{"archived", model.Filters{Archived: &yes}, []string{"tas-old"}},
		{"time", model.Filters{Time: &early}, []string{"fiji", "tas"}},
		{"lat", model.Filters{Lat: &south}, []string{"tas", "tas-old"}},
		{"lon wraps", model.Filters{Lon: &east}, []string{"fiji"}},
		{"combined", model.Filters{Lat: &south, Time: &early, Product: &one}, []string{"tas"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := d.Query(ctx, tc.f)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			got, err := res.Collect()
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			if g := ids(got); len(g) != len(tc.want) {
				t.Fatalf("ids=%v want %v", g, tc.want)
			} else {
				for i := range g {
					if g[i] != tc.want[i] {
						t.Fatalf("ids=%v want %v", g, tc.want)
					}
				}
			}
		})
	}
}

func TestResults_LazyAndNotRestartable(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t, "lazy")
	withSchema(t, db, SchemaCurrent)
	d := newDriver(t, Options{}, db)
	for _, id := range []string{"a", "b", "c"} {
		if err := d.Put(ctx, rec(id, tasLon, tasLat, 1, false, 1)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	res, err := d.Query(ctx, model.Filters{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !res.Next() || res.Record().ID != "a" {
		t.Fatalf("first record: %+v err=%v", res.Record(), res.Err())
	}
	if err := res.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.Next() {
		t.Fatalf("Next after Close must be false")
	}
	if res.Err() != nil {
		t.Fatalf("Close is not an error: %v", res.Err())
	}
}

func TestLayout_ProbedOnceUntilExplicitMigration(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t, "layout")
	d := newDriver(t, Options{}, db)

	if _, err := d.Layouts(ctx); !errors.Is(err, ErrNoSchema) {
		t.Fatalf("empty store: err=%v want ErrNoSchema", err)
	}

	if err := d.EnsureSchema(ctx, SchemaLegacy); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	var wg sync.WaitGroup
	got := make([]Layout, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := d.Layouts(ctx)
			if err != nil {
				t.Errorf("Layouts: %v", err)
				return
			}
			got[i] = l["store0"]
		}(i)
	}
	wg.Wait()
	for i, l := range got {
		if l != LegacyOnly {
			t.Fatalf("probe %d saw %v", i, l)
		}
	}

	// a table created behind the driver's back is not noticed
	withSchema(t, db, SchemaCurrent)
	if l, _ := d.Layouts(ctx); l["store0"] != LegacyOnly {
		t.Fatalf("layout changed without migration: %v", l)
	}

	if err := d.EnsureSchema(ctx, SchemaCurrent); err != nil {
		t.Fatalf("EnsureSchema current: %v", err)
	}
	if l, _ := d.Layouts(ctx); l["store0"] != Mixed {
		t.Fatalf("layout after migration: %v", l)
	}
}

func TestPut_MissingWriteSchema(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t, "missing")
	withSchema(t, db, SchemaLegacy)

	d := newDriver(t, Options{WriteSchema: SchemaCurrent}, db)
	if err := d.Put(ctx, rec("m", tasLon, tasLat, 1, false, 1)); !errors.Is(err, ErrSchemaMissing) {
		t.Fatalf("err=%v want ErrSchemaMissing", err)
	}

	d = newDriver(t, Options{WriteSchema: SchemaCurrent, AutoMigrate: true}, db)
	if err := d.Put(ctx, rec("m", tasLon, tasLat, 1, false, 1)); err != nil {
		t.Fatalf("Put with auto migrate: %v", err)
	}
	if l, _ := d.Layouts(ctx); l["store0"] != Mixed {
		t.Fatalf("layout=%v want mixed", l)
	}
	if err := d.Put(ctx, model.Record{}); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("empty id: %v", err)
	}
}

func TestSetArchivedDeleteAndPromote(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t, "ops")
	withSchema(t, db, SchemaLegacy)
	d := newDriver(t, Options{WriteSchema: SchemaLegacy, AutoMigrate: true}, db)

	r := rec("p", tasLon, tasLat, 5, false, 9)
	if err := d.Put(ctx, r); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := d.SetArchived(ctx, "p", true); err != nil {
		t.Fatalf("SetArchived: %v", err)
	}
	got, err := d.Get(ctx, "p")
	if err != nil || !got.Archived {
		t.Fatalf("after archive: %+v err=%v", got, err)
	}

	promoted, err := d.Promote(ctx, "p")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if !promoted.Archived {
		t.Fatalf("promoted record lost archived flag")
	}
	if ok, err := d.primary().current.exists(ctx, "p"); err != nil || !ok {
		t.Fatalf("current row missing after promote: ok=%v err=%v", ok, err)
	}
	got, err = d.Get(ctx, "p")
	if err != nil {
		t.Fatalf("Get after promote: %v", err)
	}
	sameRecord(t, got, promoted)

	if err := d.Delete(ctx, "p"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := d.Get(ctx, "p"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	if err := d.Delete(ctx, "p"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete: %v", err)
	}
	if err := d.SetArchived(ctx, "nope", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetArchived unknown: %v", err)
	}
	if _, err := d.Promote(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Promote unknown: %v", err)
	}
}

func TestGet_ReadThroughCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	ctx := context.Background()
	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	db := openSQLite(t, "cache")
	withSchema(t, db, SchemaCurrent)
	d := newDriver(t, Options{Cache: recordcache.NewRedis(cli, time.Minute)}, db)

	if err := d.Put(ctx, rec("c", tasLon, tasLat, 1, false, 1)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := d.Get(ctx, "c"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	// change the row behind the cache
	if _, err := db.Exec(`UPDATE dataset_extent SET product = 9 WHERE uuid = ?`, "c"); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := d.Get(ctx, "c")
	if err != nil || got.Product != 1 {
		t.Fatalf("expected cached product 1, got %d err=%v", got.Product, err)
	}

	if err := d.SetArchived(ctx, "c", true); err != nil {
		t.Fatalf("SetArchived: %v", err)
	}
	got, err = d.Get(ctx, "c")
	if err != nil || got.Product != 9 || !got.Archived {
		t.Fatalf("expected fresh row after invalidation: %+v err=%v", got, err)
	}
}

func TestGetMany_ServesCacheAndWarmsMisses(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	ctx := context.Background()
	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	db := openSQLite(t, "many")
	withSchema(t, db, SchemaCurrent)
	d := newDriver(t, Options{Cache: recordcache.NewRedis(cli, time.Minute)}, db)

	for i, id := range []string{"m1", "m2", "m3"} {
		if err := d.Put(ctx, rec(id, tasLon, tasLat, i+1, false, i+1)); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}
	if _, err := d.Get(ctx, "m1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	// m1 is cached, so its stale row must not be read back
	if _, err := db.Exec(`UPDATE dataset_extent SET product = 9 WHERE uuid = ?`, "m1"); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := d.GetMany(ctx, []string{"m3", "nope", "m1", "m2"})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if want := []string{"m3", "m1", "m2"}; !slices.Equal(ids(got), want) {
		t.Fatalf("ids = %v want %v", ids(got), want)
	}
	if got[1].Product != 1 {
		t.Fatalf("m1 should come from the cache, product=%d", got[1].Product)
	}
	for _, id := range []string{"m2", "m3"} {
		if !mr.Exists(keys.RecordKey(id)) {
			t.Fatalf("%s was not written back to the cache", id)
		}
	}

	if _, err := d.GetMany(ctx, []string{"m2", ""}); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("empty id err = %v", err)
	}
	if got, err := d.GetMany(ctx, nil); err != nil || len(got) != 0 {
		t.Fatalf("no ids: %v %v", got, err)
	}
}

func TestFootprintBounds(t *testing.T) {
	lat := model.Range{Begin: 0, End: 1}
	wrapped := orb.MultiPolygon{
		box(model.Range{Begin: 178, End: 180}, lat),
		box(model.Range{Begin: -180, End: -177}, lat),
	}
	bb, ok := footprintBounds(wrapped)
	if !ok || bb.Lon.Begin != 178 || bb.Lon.End != -177 {
		t.Fatalf("wrapped bounds=%+v ok=%v", bb, ok)
	}

	plain := box(model.Range{Begin: 10, End: 12}, lat)
	bb, ok = footprintBounds(plain)
	if !ok || bb.Lon.Begin != 10 || bb.Lon.End != 12 {
		t.Fatalf("plain bounds=%+v ok=%v", bb, ok)
	}

	if _, ok := footprintBounds(orb.Point{1, 2}); ok {
		t.Fatalf("point is not a footprint")
	}
}

func TestLegacyBoundsOnlyExtent(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t, "bounds")
	withSchema(t, db, SchemaLegacy)

	seed := func(id, meta string) {
		t.Helper()
		if _, err := db.Exec(`INSERT INTO dataset (id, product, archived, metadata) VALUES (?, ?, ?, ?)`,
			id, 3, false, meta); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	seed("L", `{"id":"L","extent":{"time":{"begin":"2018-03-01T00:00:00Z","end":"2018-03-02T00:00:00Z"},`+
		`"lat":{"begin":-17,"end":-16},"lon":{"begin":150,"end":151}}}`)
	seed("N", `{"id":"N","extent":{"time":{"begin":"2018-03-01T00:00:00Z","end":"2018-03-01T00:00:00Z"}}}`)

	d := newDriver(t, Options{}, db)
	got, err := d.Get(ctx, "L")
	if err != nil {
		t.Fatalf("Get L: %v", err)
	}
	if got.Lat != (model.Range{Begin: -17, End: -16}) || got.Lon != (model.Range{Begin: 150, End: 151}) {
		t.Fatalf("bounds lat=%v lon=%v", got.Lat, got.Lon)
	}
	if want := time.Date(2018, 3, 2, 0, 0, 0, 0, time.UTC); !got.Time.End.Equal(want) {
		t.Fatalf("time=%+v", got.Time)
	}
	if got.Payload.BBox != (model.BBox{Lon: got.Lon, Lat: got.Lat}) || got.Payload.Footprint != nil {
		t.Fatalf("payload=%+v", got.Payload)
	}

	if _, err := d.Get(ctx, "N"); !errors.Is(err, ErrNoExtent) {
		t.Fatalf("Get N: want ErrNoExtent, got %v", err)
	}

	lat := model.Range{Begin: -16.5, End: -15}
	res, err := d.Query(ctx, model.Filters{Lat: &lat})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	all, err := res.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(all) != 1 || all[0].ID != "L" {
		t.Fatalf("ids=%v want [L]", ids(all))
	}
}
