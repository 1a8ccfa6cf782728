package httpprobe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mohammed-shakir/raster-extent-index/internal/acquire"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/httpclient"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
)

func TestProbeSidecar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scene/B04.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"crs":"epsg:32755","shape":[100,200],"transform":[30,0,500000,0,-30,5300000]}`))
	}))
	defer srv.Close()

	p := New(httpclient.NewOutbound(0), nil)
	g, err := p.Probe(context.Background(), srv.URL+"/scene/B04.json")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if g.CRS != "EPSG:32755" {
		t.Fatalf("crs = %q", g.CRS)
	}
	if g.Shape != (grid.Shape{Height: 100, Width: 200}) {
		t.Fatalf("shape = %+v", g.Shape)
	}
	if g.Transform[2] != 500000 || g.Transform[4] != -30 {
		t.Fatalf("transform = %v", g.Transform)
	}

	_, err = p.Probe(context.Background(), srv.URL+"/scene/missing.json")
	if err == nil || acquire.IsTransient(err) {
		t.Fatalf("404 should be a permanent failure, got %v", err)
	}
}

func TestProbeServerErrorIsTransient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.Client(), nil).Probe(context.Background(), srv.URL+"/a.json")
	if !acquire.IsTransient(err) {
		t.Fatalf("503 should be transient, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d", hits.Load())
	}
}

func TestProbeBadSidecar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"crs":"EPSG:4326","shape":[10],"transform":[1,0,0,0,-1,0]}`))
	}))
	defer srv.Close()

	_, err := New(srv.Client(), nil).Probe(context.Background(), srv.URL+"/a.json")
	if err == nil || acquire.IsTransient(err) {
		t.Fatalf("want permanent shape error, got %v", err)
	}
}

func TestProbeFallback(t *testing.T) {
	var got string
	fb := acquire.ProberFunc(func(_ context.Context, loc string) (grid.PixelGrid, error) {
		got = loc
		return grid.New("EPSG:4326", grid.Affine{1, 0, 0, 0, -1, 0}, grid.Shape{Height: 1, Width: 1})
	})

	if _, err := New(nil, fb).Probe(context.Background(), "/data/scene/B04.tif"); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got != "/data/scene/B04.tif" {
		t.Fatalf("fallback got %q", got)
	}

	_, err := New(nil, nil).Probe(context.Background(), "s3://bucket/B04.tif")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("want ErrUnsupported, got %v", err)
	}
}

func TestIsSidecar(t *testing.T) {
	cases := map[string]bool{
		"https://example.com/a/b.json":      true,
		"http://example.com/a/B.JSON?x=1":   true,
		"https://example.com/a/b.tif":       false,
		"/vsicurl/https://example.com/b.js": false,
		"file:///a/b.json":                  false,
		"b.json":                            false,
	}
	for loc, want := range cases {
		if got := IsSidecar(loc); got != want {
			t.Errorf("IsSidecar(%q) = %v, want %v", loc, got, want)
		}
	}
}
