// Package composer renders streams of extent records in the output formats
// the HTTP API offers: newline-delimited JSON or a GeoJSON FeatureCollection
// of footprints.
package composer

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
)

type Format int

const (
	FormatNDJSON Format = iota
	FormatGeoJSON
)

func (f Format) String() string {
	if f == FormatGeoJSON {
		return "geojson"
	}
	return "ndjson"
}

func (f Format) ContentType() string {
	if f == FormatGeoJSON {
		return "application/geo+json"
	}
	return "application/x-ndjson"
}

type NegotiationInput struct {
	AcceptHeader  string
	OutputFormat  string
	DefaultFormat Format
}

// NegotiateFormat picks the output format. An explicit OutputFormat wins over
// the Accept header; among Accept entries the highest q wins.
func NegotiateFormat(in NegotiationInput) Format {
	if f, ok := parseFormat(in.OutputFormat); ok {
		return f
	}

	bestQ := -1.0
	best := in.DefaultFormat
	for part := range strings.SplitSeq(strings.ToLower(in.AcceptHeader), ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		mt, params, _ := strings.Cut(token, ";")
		mt = strings.TrimSpace(mt)
		q := 1.0
		for p := range strings.SplitSeq(params, ";") {
			if after, ok := strings.CutPrefix(strings.TrimSpace(p), "q="); ok {
				if v, err := strconv.ParseFloat(after, 64); err == nil {
					q = v
				}
			}
		}
		cand, ok := parseFormat(mt)
		if mt == "*/*" {
			cand, ok = in.DefaultFormat, true
		}
		if ok && q > bestQ {
			bestQ = q
			best = cand
		}
	}
	return best
}

func parseFormat(s string) (Format, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return 0, false
	case s == "geojson", strings.Contains(s, "geo+json"):
		return FormatGeoJSON, true
	case s == "ndjson", s == "jsonl", strings.Contains(s, "ndjson"), strings.Contains(s, "jsonlines"):
		return FormatNDJSON, true
	}
	return 0, false
}

// Writer streams records. Close finishes the document and must be called even
// when nothing was written.
type Writer interface {
	Write(rec model.Record) error
	Close() error
}

func NewWriter(w io.Writer, f Format) Writer {
	if f == FormatGeoJSON {
		return &collectionWriter{w: w}
	}
	return ndjsonWriter{enc: json.NewEncoder(w)}
}

type ndjsonWriter struct{ enc *json.Encoder }

func (n ndjsonWriter) Write(rec model.Record) error { return n.enc.Encode(rec) }
func (ndjsonWriter) Close() error                    { return nil }

var errClosed = errors.New("composer: write after close")

type collectionWriter struct {
	w      io.Writer
	n      int
	closed bool
}

func (c *collectionWriter) Write(rec model.Record) error {
	if c.closed {
		return errClosed
	}
	b, err := Feature(rec).MarshalJSON()
	if err != nil {
		return err
	}
	sep := ","
	if c.n == 0 {
		sep = `{"type":"FeatureCollection","features":[`
	}
	if _, err := io.WriteString(c.w, sep); err != nil {
		return err
	}
	if _, err := c.w.Write(b); err != nil {
		return err
	}
	c.n++
	return nil
}

func (c *collectionWriter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	tail := "]}\n"
	if c.n == 0 {
		tail = `{"type":"FeatureCollection","features":[]}` + "\n"
	}
	_, err := io.WriteString(c.w, tail)
	return err
}

// Feature renders rec as a GeoJSON feature. The geometry is the stored
// footprint, or the bounding box when the record carries none. The bbox member
// follows RFC 7946, so west > east for footprints crossing the antimeridian.
func Feature(rec model.Record) *geojson.Feature {
	var g orb.Geometry
	if fp := rec.Payload.Footprint; fp != nil && fp.Geometry() != nil {
		g = fp.Geometry()
	} else {
		g = bboxGeometry(rec.Lon, rec.Lat)
	}
	f := geojson.NewFeature(g)
	f.ID = rec.ID
	f.BBox = geojson.BBox{rec.Lon.Begin, rec.Lat.Begin, rec.Lon.End, rec.Lat.End}
	f.Properties["product"] = rec.Product
	f.Properties["archived"] = rec.Archived
	f.Properties["time"] = rec.Time
	if rec.Payload.CRS != "" {
		f.Properties["crs"] = rec.Payload.CRS
	}
	return f
}

func bboxGeometry(lon, lat model.Range) orb.Geometry {
	segs := lon.Segments()
	if len(segs) == 1 {
		return orb.Bound{Min: orb.Point{lon.Begin, lat.Begin}, Max: orb.Point{lon.End, lat.End}}.ToPolygon()
	}
	mp := make(orb.MultiPolygon, 0, len(segs))
	for _, s := range segs {
		mp = append(mp, orb.Bound{Min: orb.Point{s.Begin, lat.Begin}, Max: orb.Point{s.End, lat.End}}.ToPolygon())
	}
	return mp
}
