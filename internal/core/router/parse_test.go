package router

import (
	"net/url"
	"testing"
	"time"
)

func TestParseFilters(t *testing.T) {
	q := url.Values{}
	q.Set("time", "2020-01-01/2020-02-01T12:00:00Z")
	q.Set("lat", "-45,-10")
	q.Set("lon", "170,-170")
	q.Set("product", "3")
	q.Set("archived", "true")

	f, err := ParseFilters(q)
	if err != nil {
		t.Fatalf("ParseFilters: %v", err)
	}
	if !f.Time.Begin.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) || f.Time.End.Hour() != 12 {
		t.Fatalf("time=%+v", f.Time)
	}
	if !f.Lon.Wrapped() || f.Lat.Begin != -45 {
		t.Fatalf("lon=%v lat=%v", f.Lon, f.Lat)
	}
	if *f.Product != 3 || !*f.Archived {
		t.Fatalf("product=%d archived=%v", *f.Product, *f.Archived)
	}
}

func TestParseFilters_EmptyMatchesAll(t *testing.T) {
	f, err := ParseFilters(url.Values{})
	if err != nil {
		t.Fatalf("ParseFilters: %v", err)
	}
	if f.Time != nil || f.Lat != nil || f.Lon != nil || f.Product != nil || f.Archived != nil {
		t.Fatalf("expected no filters, got %+v", f)
	}
}

func TestParseFilters_SingleInstant(t *testing.T) {
	q := url.Values{"time": {"2021-06-01T10:00:00Z"}}
	f, err := ParseFilters(q)
	if err != nil {
		t.Fatalf("ParseFilters: %v", err)
	}
	if !f.Time.Begin.Equal(f.Time.End) {
		t.Fatalf("instant should be a degenerate range: %+v", f.Time)
	}
}

func TestParseFilters_RejectsNonFiniteBounds(t *testing.T) {
	for _, tc := range []struct{ key, val string }{
		{"lat", "NaN,10"},
		{"lat", "-10,nan"},
		{"lon", "NaN,NaN"},
		{"lon", "-Inf,10"},
		{"lat", "0,+Inf"},
	} {
		if f, err := ParseFilters(url.Values{tc.key: {tc.val}}); err == nil {
			t.Fatalf("%s=%s accepted: %+v", tc.key, tc.val, f)
		}
	}
}
