package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v2"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
)

var (
	ErrBadShape       = errors.New("shape must be [height, width]")
	ErrBadTransform   = errors.New("transform must have 6 or 9 coefficients")
	ErrBadValidRegion = errors.New("valid_region must be a Polygon or MultiPolygon")
	ErrBadTime        = errors.New("unrecognised time value")
)

type gridDoc struct {
	Shape     []int     `json:"shape" yaml:"shape"`
	Transform []float64 `json:"transform" yaml:"transform"`
}

type bandDoc struct {
	Grid      string    `json:"grid" yaml:"grid"`
	Path      string    `json:"path" yaml:"path"`
	Shape     []int     `json:"shape" yaml:"shape"`
	Transform []float64 `json:"transform" yaml:"transform"`
}

type namedBand struct {
	name string
	doc  bandDoc
}

// common shape of both encodings once bands are in document order
type rawDoc struct {
	id          string
	product     int
	archived    bool
	properties  map[string]any
	crs         string
	def         gridDoc
	grids       map[string]gridDoc
	bands       []namedBand
	validRegion []byte // GeoJSON, nil when absent
	time        any
}

type jsonDoc struct {
	ID         string         `json:"id"`
	Product    int            `json:"product"`
	Archived   bool           `json:"archived"`
	Properties map[string]any `json:"properties"`
	Extent     struct {
		CRS         string             `json:"crs"`
		Shape       []int              `json:"shape"`
		Transform   []float64          `json:"transform"`
		Grids       map[string]gridDoc `json:"grids"`
		Bands       json.RawMessage    `json:"bands"`
		ValidRegion json.RawMessage    `json:"valid_region"`
		Time        any                `json:"time"`
	} `json:"extent"`
}

type yamlDoc struct {
	ID         string         `yaml:"id"`
	Product    int            `yaml:"product"`
	Archived   bool           `yaml:"archived"`
	Properties map[string]any `yaml:"properties"`
	Extent     struct {
		CRS         string             `yaml:"crs"`
		Shape       []int              `yaml:"shape"`
		Transform   []float64          `yaml:"transform"`
		Grids       map[string]gridDoc `yaml:"grids"`
		Bands       yaml.MapSlice      `yaml:"bands"`
		ValidRegion any                `yaml:"valid_region"`
		Time        any                `yaml:"time"`
	} `yaml:"extent"`
}

// Decode reads a JSON or YAML metadata document. Bands keep document order.
func Decode(data []byte) (Description, error) {
	var (
		raw rawDoc
		err error
	)
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		raw, err = decodeJSON(trimmed)
	} else {
		raw, err = decodeYAML(data)
	}
	if err != nil {
		return Description{}, err
	}
	d, err := raw.description()
	if err != nil {
		return Description{}, fmt.Errorf("dataset %s: %w", raw.id, err)
	}
	return d, nil
}

func decodeJSON(data []byte) (rawDoc, error) {
	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return rawDoc{}, fmt.Errorf("dataset decode json: %w", err)
	}
	raw := rawDoc{
		id:         doc.ID,
		product:    doc.Product,
		archived:   doc.Archived,
		properties: doc.Properties,
		crs:        doc.Extent.CRS,
		def:        gridDoc{Shape: doc.Extent.Shape, Transform: doc.Extent.Transform},
		grids:      doc.Extent.Grids,
		time:       doc.Extent.Time,
	}
	if vr := bytes.TrimSpace(doc.Extent.ValidRegion); len(vr) > 0 && !bytes.Equal(vr, []byte("null")) {
		raw.validRegion = vr
	}
	if len(doc.Extent.Bands) > 0 {
		bands, err := orderedJSONBands(doc.Extent.Bands)
		if err != nil {
			return rawDoc{}, fmt.Errorf("dataset decode bands: %w", err)
		}
		raw.bands = bands
	}
	return raw, nil
}

// orderedJSONBands walks the bands object token by token to keep key order.
func orderedJSONBands(msg json.RawMessage) ([]namedBand, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("bands must be an object")
	}
	var out []namedBand
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)
		var b bandDoc
		if err := dec.Decode(&b); err != nil {
			return nil, fmt.Errorf("band %s: %w", name, err)
		}
		out = append(out, namedBand{name: name, doc: b})
	}
	return out, nil
}

func decodeYAML(data []byte) (rawDoc, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return rawDoc{}, fmt.Errorf("dataset decode yaml: %w", err)
	}
	raw := rawDoc{
		id:         doc.ID,
		product:    doc.Product,
		archived:   doc.Archived,
		properties: normalizeYAML(doc.Properties).(map[string]any),
		crs:        doc.Extent.CRS,
		def:        gridDoc{Shape: doc.Extent.Shape, Transform: doc.Extent.Transform},
		grids:      doc.Extent.Grids,
		time:       doc.Extent.Time,
	}
	if doc.Extent.ValidRegion != nil {
		b, err := json.Marshal(normalizeYAML(doc.Extent.ValidRegion))
		if err != nil {
			return rawDoc{}, fmt.Errorf("dataset decode valid_region: %w", err)
		}
		raw.validRegion = b
	}
	for _, item := range doc.Extent.Bands {
		name := fmt.Sprint(item.Key)
		var b bandDoc
		if item.Value != nil {
			// round-trip the untyped node into the band struct
			enc, err := yaml.Marshal(item.Value)
			if err != nil {
				return rawDoc{}, fmt.Errorf("band %s: %w", name, err)
			}
			if err := yaml.Unmarshal(enc, &b); err != nil {
				return rawDoc{}, fmt.Errorf("band %s: %w", name, err)
			}
		}
		raw.bands = append(raw.bands, namedBand{name: name, doc: b})
	}
	return raw, nil
}

// normalizeYAML converts yaml.v2 maps into JSON-compatible maps.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case nil:
		return map[string]any{}
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeNested(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeNested(val)
		}
		return out
	default:
		return normalizeNested(v)
	}
}

func normalizeNested(v any) any {
	switch t := v.(type) {
	case map[any]any, map[string]any:
		return normalizeYAML(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeNested(e)
		}
		return out
	default:
		return v
	}
}

func (r rawDoc) description() (Description, error) {
	d := Description{
		ID:         r.id,
		Product:    r.product,
		Archived:   r.archived,
		CRS:        strings.TrimSpace(r.crs),
		Properties: r.properties,
	}
	if d.Properties == nil {
		d.Properties = map[string]any{}
	}
	if len(r.def.Shape) > 0 || len(r.def.Transform) > 0 {
		g, err := r.def.grid(d.CRS)
		if err != nil {
			return Description{}, fmt.Errorf("default grid: %w", err)
		}
		d.Default = &g
	}
	if len(r.grids) > 0 {
		d.Grids = make(map[string]grid.PixelGrid, len(r.grids))
		for name, gd := range r.grids {
			if name == "default" && d.Default == nil {
				g, err := gd.grid(d.CRS)
				if err != nil {
					return Description{}, fmt.Errorf("grid %s: %w", name, err)
				}
				d.Default = &g
				continue
			}
			g, err := gd.grid(d.CRS)
			if err != nil {
				return Description{}, fmt.Errorf("grid %s: %w", name, err)
			}
			d.Grids[name] = g
		}
	}
	for _, nb := range r.bands {
		b := Band{Name: nb.name, Location: nb.doc.Path, Ref: grid.DefaultRef()}
		switch {
		case len(nb.doc.Shape) > 0 || len(nb.doc.Transform) > 0:
			g, err := gridDoc{Shape: nb.doc.Shape, Transform: nb.doc.Transform}.grid(d.CRS)
			if err != nil {
				return Description{}, fmt.Errorf("band %s: %w", nb.name, err)
			}
			b.Ref = grid.InlineRef(g)
		case nb.doc.Grid != "" && nb.doc.Grid != "default":
			b.Ref = grid.GroupRef(nb.doc.Grid)
		}
		d.Bands = append(d.Bands, b)
	}
	if r.validRegion != nil {
		g, err := geojson.UnmarshalGeometry(r.validRegion)
		if err != nil {
			return Description{}, fmt.Errorf("valid_region: %w", err)
		}
		switch geom := g.Geometry().(type) {
		case orb.Polygon, orb.MultiPolygon:
			d.ValidRegion = geom
		default:
			return Description{}, fmt.Errorf("%w: got %s", ErrBadValidRegion, g.Type)
		}
	}
	tr, err := parseTime(r.time)
	if err != nil {
		return Description{}, err
	}
	d.Time = tr
	if err := d.Validate(); err != nil {
		return Description{}, err
	}
	return d, nil
}

func (gd gridDoc) grid(crsID string) (grid.PixelGrid, error) {
	if len(gd.Shape) != 2 {
		return grid.PixelGrid{}, ErrBadShape
	}
	if len(gd.Transform) != 6 && len(gd.Transform) != 9 {
		return grid.PixelGrid{}, ErrBadTransform
	}
	var t grid.Affine
	copy(t[:], gd.Transform[:6])
	return grid.New(crsID, t, grid.Shape{Height: gd.Shape[0], Width: gd.Shape[1]})
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05", "2006-01-02"}

func parseInstant(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("%w: %v", ErrBadTime, v)
}

// parseTime accepts an instant, a [begin, end] pair, or {begin, end}.
func parseTime(v any) (model.TimeRange, error) {
	switch t := v.(type) {
	case nil:
		return model.TimeRange{}, fmt.Errorf("%w: missing", ErrBadTime)
	case []any:
		if len(t) != 2 {
			return model.TimeRange{}, fmt.Errorf("%w: expected 2 values, got %d", ErrBadTime, len(t))
		}
		b, err := parseInstant(t[0])
		if err != nil {
			return model.TimeRange{}, err
		}
		e, err := parseInstant(t[1])
		if err != nil {
			return model.TimeRange{}, err
		}
		return model.TimeRange{Begin: b, End: e}, nil
	case map[string]any, map[any]any:
		m := normalizeYAML(t).(map[string]any)
		return parseTime([]any{m["begin"], m["end"]})
	default:
		ts, err := parseInstant(v)
		if err != nil {
			return model.TimeRange{}, err
		}
		return model.Instant(ts), nil
	}
}
