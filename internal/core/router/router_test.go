package router

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/raster-extent-index/internal/acquire"
	"github.com/mohammed-shakir/raster-extent-index/internal/cache/cellindex"
	"github.com/mohammed-shakir/raster-extent-index/internal/cache/redisstore"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/executor"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/engine"
	"github.com/mohammed-shakir/raster-extent-index/internal/extent"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
	h3mapper "github.com/mohammed-shakir/raster-extent-index/internal/mapper/h3"
	"github.com/mohammed-shakir/raster-extent-index/internal/store"
)

const cellRes = 5

func newAPI(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.EnsureSchema(ctx, db, "sqlite", store.SchemaCurrent); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	drv, err := store.New([]store.Conn{{DB: db, Driver: "sqlite"}}, store.Options{})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	cells := cellindex.NewRedisIndex(cli)

	acq, err := acquire.New(nil, acquire.Options{})
	if err != nil {
		t.Fatalf("acquire.New: %v", err)
	}
	m := h3mapper.New()
	eng, err := engine.New(engine.Options{Acquirer: acq, CellRes: cellRes, Cells: m})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	ex := executor.New(eng, drv, executor.Options{Cells: cells})

	r := chi.NewRouter()
	New(drv, ex, Options{Mapper: m, Cells: cells, CellRes: cellRes}).Mount(r)
	return r
}

func doc(id string, product int, lon float64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"product": %d,
		"extent": {
			"crs": "EPSG:4326",
			"shape": [10, 10],
			"transform": [0.1, 0, %g, 0, -0.1, -30],
			"bands": {"red": {}, "nir": {}},
			"time": "2021-06-01T10:00:00Z"
		}
	}`, id, product, lon)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func ndjsonIDs(t *testing.T, body []byte) []string {
	t.Helper()
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		var rec model.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("ndjson line: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	return ids
}

func TestResolve_WithoutStore(t *testing.T) {
	api := newAPI(t)

	rr := do(t, api, http.MethodPost, "/resolve", doc("ds-1", 1, 140))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var out resolveResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Stored || len(out.Report.Bands) != 2 || out.Report.Bands[0].Source != "default" {
		t.Fatalf("response=%+v", out)
	}
	if math.Abs(out.Record.Lon.Begin-140) > 1e-9 || math.Abs(out.Record.Lat.End+30) > 1e-9 {
		t.Fatalf("bbox lon=%v lat=%v", out.Record.Lon, out.Record.Lat)
	}

	if rr := do(t, api, http.MethodGet, "/datasets/ds-1", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unstored dataset: status=%d", rr.Code)
	}
}

func TestStoreGetAndList(t *testing.T) {
	api := newAPI(t)

	for _, d := range []string{doc("ds-1", 1, 140), doc("ds-2", 2, 150)} {
		if rr := do(t, api, http.MethodPost, "/resolve?store=true", d); rr.Code != http.StatusOK {
			t.Fatalf("store: status=%d body=%s", rr.Code, rr.Body.String())
		}
	}
	if rr := do(t, api, http.MethodPost, "/resolve?store=true&mode=insert", doc("ds-1", 1, 140)); rr.Code != http.StatusConflict {
		t.Fatalf("insert existing: status=%d want 409", rr.Code)
	}

	rr := do(t, api, http.MethodGet, "/datasets/ds-2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: status=%d", rr.Code)
	}
	var rec model.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Product != 2 || len(rec.Payload.Cells) == 0 {
		t.Fatalf("record product=%d cells=%d", rec.Product, len(rec.Payload.Cells))
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"ds-1", "ds-2"}},
		{"?product=1", []string{"ds-1"}},
		{"?lon=150.2,150.4&lat=-31,-29", []string{"ds-2"}},
		{"?lon=179,-179", nil},
		{"?time=2021-06-01/2021-06-02&archived=false", []string{"ds-1", "ds-2"}},
		{"?time=2020-01-01/2020-12-31", nil},
	}
	for _, tc := range tests {
		rr := do(t, api, http.MethodGet, "/datasets"+tc.query, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%q: status=%d", tc.query, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/x-ndjson" {
			t.Fatalf("%q: content-type=%q", tc.query, ct)
		}
		got := ndjsonIDs(t, rr.Body.Bytes())
		if fmt.Sprint(got) != fmt.Sprint(tc.want) {
			t.Fatalf("%q: ids=%v want %v", tc.query, got, tc.want)
		}
	}

	rr = do(t, api, http.MethodGet, "/datasets?format=geojson&product=2", "")
	if ct := rr.Header().Get("Content-Type"); rr.Code != http.StatusOK || ct != "application/geo+json" {
		t.Fatalf("geojson listing: status=%d content-type=%q", rr.Code, ct)
	}
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       string          `json:"id"`
			Geometry json.RawMessage `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &fc); err != nil {
		t.Fatalf("geojson listing: %v (%s)", err, rr.Body.String())
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 1 || fc.Features[0].ID != "ds-2" || len(fc.Features[0].Geometry) == 0 {
		t.Fatalf("geojson listing = %s", rr.Body.String())
	}
}

func TestCellDatasets(t *testing.T) {
	api := newAPI(t)
	if rr := do(t, api, http.MethodPost, "/resolve?store=true", doc("ds-1", 1, 140)); rr.Code != http.StatusOK {
		t.Fatalf("store: status=%d body=%s", rr.Code, rr.Body.String())
	}
	var rec model.Record
	if err := json.Unmarshal(do(t, api, http.MethodGet, "/datasets/ds-1", "").Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rec.Payload.Cells) == 0 {
		t.Fatalf("record has no cells")
	}
	parent, err := h3mapper.New().ToParent(rec.Payload.Cells[0], 3)
	if err != nil {
		t.Fatalf("ToParent: %v", err)
	}

	for _, cell := range []string{rec.Payload.Cells[0], parent} {
		rr := do(t, api, http.MethodGet, "/cells/"+cell+"/datasets?records=true", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status=%d body=%s", cell, rr.Code, rr.Body.String())
		}
		var out cellResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(out.IDs) != 1 || out.IDs[0] != "ds-1" || len(out.Records) != 1 {
			t.Fatalf("%s: ids=%v records=%d", cell, out.IDs, len(out.Records))
		}
	}

	if rr := do(t, api, http.MethodGet, "/cells/nothex/datasets", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad cell: status=%d", rr.Code)
	}
}

func TestBadRequests(t *testing.T) {
	api := newAPI(t)
	cases := []struct {
		method, target, body string
		want                 int
	}{
		{http.MethodPost, "/resolve", `{"id": "x"`, http.StatusBadRequest},
		{http.MethodPost, "/resolve", `{"id": "x", "extent": {"crs": "EPSG:4326", "shape": [1, 1], "transform": [0,0,0,0,0,0], "bands": {"a": {}}, "time": "2020-01-01"}}`, http.StatusBadRequest},
		{http.MethodGet, "/datasets?lat=10,5", "", http.StatusBadRequest},
		{http.MethodGet, "/datasets?lon=200,10", "", http.StatusBadRequest},
		{http.MethodGet, "/datasets?time=2021-02-01/2021-01-01", "", http.StatusBadRequest},
		{http.MethodGet, "/datasets?product=x", "", http.StatusBadRequest},
		{http.MethodGet, "/datasets?lat=NaN,10", "", http.StatusBadRequest},
		{http.MethodGet, "/datasets?lon=-Inf,10", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rr := do(t, api, tc.method, tc.target, tc.body); rr.Code != tc.want {
			t.Fatalf("%s %s: status=%d want %d (%s)", tc.method, tc.target, rr.Code, tc.want, rr.Body.String())
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get: %w", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("index x: %w", executor.ErrExists), http.StatusConflict},
		{&grid.InvalidGridError{Reason: grid.ErrSingularTransform}, http.StatusUnprocessableEntity},
		{&extent.DegenerateFootprintError{Reason: extent.ErrEmptyUnion}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: x", engine.ErrPartial), http.StatusBadGateway},
		{&acquire.GridAcquisitionError{Band: "a", Err: acquire.ErrUnknownGroup}, http.StatusBadGateway},
		{fmt.Errorf("%w: %w", acquire.ErrProbeCanceled, context.Canceled), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Fatalf("StatusFor(%v)=%d want %d", tc.err, got, tc.want)
		}
	}
}
