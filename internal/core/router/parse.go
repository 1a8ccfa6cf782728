package router

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
)

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// ParseFilters reads time=a/b, lat=a,b, lon=a,b, product=n and archived=bool.
// A lon range with begin > end wraps across the antimeridian.
func ParseFilters(q url.Values) (model.Filters, error) {
	var f model.Filters

	if v := strings.TrimSpace(q.Get("time")); v != "" {
		tr, err := parseTimeRange(v)
		if err != nil {
			return model.Filters{}, fmt.Errorf("invalid time: %w", err)
		}
		f.Time = &tr
	}
	if v := strings.TrimSpace(q.Get("lat")); v != "" {
		r, err := parseRange(v, 90)
		if err != nil {
			return model.Filters{}, fmt.Errorf("invalid lat: %w", err)
		}
		if r.Begin > r.End {
			return model.Filters{}, errors.New("invalid lat: begin must not exceed end")
		}
		f.Lat = &r
	}
	if v := strings.TrimSpace(q.Get("lon")); v != "" {
		r, err := parseRange(v, 180)
		if err != nil {
			return model.Filters{}, fmt.Errorf("invalid lon: %w", err)
		}
		f.Lon = &r
	}
	if v := strings.TrimSpace(q.Get("product")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return model.Filters{}, fmt.Errorf("invalid product: %w", err)
		}
		f.Product = &n
	}
	if v := strings.TrimSpace(q.Get("archived")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return model.Filters{}, fmt.Errorf("invalid archived: %w", err)
		}
		f.Archived = &b
	}
	return f, nil
}

func parseRange(v string, limit float64) (model.Range, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return model.Range{}, errors.New("expected 2 comma-separated values")
	}
	lo, err := parseFloat(parts[0])
	if err != nil {
		return model.Range{}, err
	}
	hi, err := parseFloat(parts[1])
	if err != nil {
		return model.Range{}, err
	}
	if lo < -limit || lo > limit || hi < -limit || hi > limit {
		return model.Range{}, fmt.Errorf("values must be in [-%g,%g]", limit, limit)
	}
	return model.Range{Begin: lo, End: hi}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parse float: %q is not a finite number", strings.TrimSpace(v))
	}
	return f, nil
}

// parseTimeRange accepts "a/b" or a single instant.
func parseTimeRange(v string) (model.TimeRange, error) {
	begin, end, found := strings.Cut(v, "/")
	if !found {
		end = begin
	}
	b, err := parseTime(begin)
	if err != nil {
		return model.TimeRange{}, err
	}
	e, err := parseTime(end)
	if err != nil {
		return model.TimeRange{}, err
	}
	tr := model.TimeRange{Begin: b, End: e}
	if !tr.Valid() {
		return model.TimeRange{}, errors.New("begin must not be after end")
	}
	return tr, nil
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", v)
}
