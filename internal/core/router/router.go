// Package router holds the HTTP handlers of the extent server.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/raster-extent-index/internal/acquire"
	"github.com/mohammed-shakir/raster-extent-index/internal/cache/cellindex"
	"github.com/mohammed-shakir/raster-extent-index/internal/composer"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/executor"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/observability"
	"github.com/mohammed-shakir/raster-extent-index/internal/dataset"
	"github.com/mohammed-shakir/raster-extent-index/internal/engine"
	"github.com/mohammed-shakir/raster-extent-index/internal/extent"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
	"github.com/mohammed-shakir/raster-extent-index/internal/logger"
	"github.com/mohammed-shakir/raster-extent-index/internal/mapper"
	"github.com/mohammed-shakir/raster-extent-index/internal/store"
)

const (
	defaultMaxBody = 4 << 20
	flushEvery     = 64
)

type Records interface {
	Get(ctx context.Context, id string) (model.Record, error)
	GetMany(ctx context.Context, ids []string) ([]model.Record, error)
	Query(ctx context.Context, f model.Filters) (*store.Results, error)
}

type Indexer interface {
	Resolve(ctx context.Context, d dataset.Description) (model.Record, engine.Report, error)
	Index(ctx context.Context, d dataset.Description, mode executor.Mode) (model.Record, engine.Report, error)
}

type Options struct {
	Mapper  mapper.Interface
	Cells   cellindex.CellIndex
	CellRes int
	MaxBody int64
	Logger  *slog.Logger
}

type Handlers struct {
	recs    Records
	ix      Indexer
	mapper  mapper.Interface
	cells   cellindex.CellIndex
	cellRes int
	maxBody int64
	log     *slog.Logger
}

func New(recs Records, ix Indexer, opts Options) *Handlers {
	h := &Handlers{
		recs:    recs,
		ix:      ix,
		mapper:  opts.Mapper,
		cells:   opts.Cells,
		cellRes: opts.CellRes,
		maxBody: opts.MaxBody,
		log:     opts.Logger,
	}
	if h.maxBody <= 0 {
		h.maxBody = defaultMaxBody
	}
	if h.log == nil {
		h.log = logger.Discard()
	}
	return h
}

func (h *Handlers) Mount(r chi.Router) {
	r.Get("/datasets", h.ListDatasets)
	r.Get("/datasets/{id}", h.GetDataset)
	r.Post("/resolve", h.Resolve)
	r.Get("/cells/{cell}/datasets", h.CellDatasets)
}

func (h *Handlers) GetDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.recs.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListDatasets streams matching records, as NDJSON by default or as a GeoJSON
// FeatureCollection when asked for with format=geojson or the Accept header.
func (h *Handlers) ListDatasets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := ParseFilters(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	format := composer.NegotiateFormat(composer.NegotiationInput{
		AcceptHeader: r.Header.Get("Accept"),
		OutputFormat: q.Get("format"),
	})
	t0 := time.Now()
	res, err := h.recs.Query(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer func() { _ = res.Close() }()

	var out composer.Writer
	begin := func() {
		w.Header().Set("Content-Type", format.ContentType())
		w.WriteHeader(http.StatusOK)
		out = composer.NewWriter(w, format)
	}
	flusher, _ := w.(http.Flusher)
	n := 0
	for res.Next() {
		if out == nil {
			begin()
		}
		if err := out.Write(res.Record()); err != nil {
			h.log.WarnContext(r.Context(), "listing write aborted", "format", format.String(), "records", n, "err", err)
			return
		}
		n++
		if flusher != nil && n%flushEvery == 0 {
			flusher.Flush()
		}
	}
	if err := res.Err(); err != nil {
		if out == nil {
			h.fail(w, r, err)
			return
		}
		// headers are gone; the client sees a truncated stream
		h.log.ErrorContext(r.Context(), "dataset query failed mid-stream", "records", n, "err", err)
		return
	}
	if out == nil {
		begin()
	}
	if err := out.Close(); err != nil {
		h.log.WarnContext(r.Context(), "listing close failed", "err", err)
	}
	observability.ObserveListing(format.String(), n, time.Since(t0).Seconds())
}

type bandJSON struct {
	Band   string `json:"band"`
	Source string `json:"source"`
}

type failureJSON struct {
	Band     string `json:"band"`
	Location string `json:"location,omitempty"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

type reportJSON struct {
	Bands      []bandJSON    `json:"bands"`
	Failures   []failureJSON `json:"failures,omitempty"`
	Partial    bool          `json:"partial"`
	DurationMS float64       `json:"duration_ms"`
}

type resolveResponse struct {
	Record model.Record `json:"record"`
	Stored bool         `json:"stored"`
	Report reportJSON   `json:"report"`
}

func toReportJSON(rep engine.Report) reportJSON {
	out := reportJSON{Partial: rep.Partial(), DurationMS: float64(rep.Duration) / float64(time.Millisecond)}
	for _, b := range rep.Bands {
		out.Bands = append(out.Bands, bandJSON{Band: b.Band, Source: b.Source.String()})
	}
	for _, f := range rep.Failures {
		out.Failures = append(out.Failures, failureJSON{Band: f.Band, Location: f.Location, Attempts: f.Attempts, Error: f.Err.Error()})
	}
	return out
}

// Resolve decodes a dataset document (JSON or YAML) from the body and
// resolves it. store=true also persists the record; mode=insert then refuses
// datasets that are already indexed.
func (h *Handlers) Resolve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	d, err := dataset.Decode(body)
	if err != nil {
		http.Error(w, "invalid dataset document: "+err.Error(), http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	persist, _ := strconv.ParseBool(q.Get("store"))
	ctx := logger.WithDatasetID(r.Context(), d.ID)

	var (
		rec model.Record
		rep engine.Report
	)
	if persist {
		mode := executor.ModeUpsert
		if strings.EqualFold(q.Get("mode"), "insert") {
			mode = executor.ModeInsert
		}
		rec, rep, err = h.ix.Index(ctx, d, mode)
	} else {
		rec, rep, err = h.ix.Resolve(ctx, d)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Record: rec, Stored: persist, Report: toReportJSON(rep)})
}

type cellResponse struct {
	Cell    string         `json:"cell"`
	Res     int            `json:"res"`
	IDs     []string       `json:"ids"`
	Records []model.Record `json:"records,omitempty"`
}

// CellDatasets lists datasets whose footprint covers the cell. Cells at a
// different resolution than the index are mapped to parent or children.
func (h *Handlers) CellDatasets(w http.ResponseWriter, r *http.Request) {
	if h.cells == nil || h.mapper == nil || h.cellRes <= 0 {
		http.Error(w, "cell index is not enabled", http.StatusNotImplemented)
		return
	}
	cell := chi.URLParam(r, "cell")
	covering, err := h.mapper.Cover(cell, h.cellRes)
	if err != nil {
		http.Error(w, "invalid cell: "+err.Error(), http.StatusBadRequest)
		return
	}
	ids, err := h.cells.IDs(r.Context(), h.cellRes, covering)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := cellResponse{Cell: cell, Res: h.cellRes, IDs: ids}
	if out.IDs == nil {
		out.IDs = []string{}
	}

	if full, _ := strconv.ParseBool(r.URL.Query().Get("records")); full && len(ids) > 0 {
		recs, err := h.recs.GetMany(r.Context(), ids)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out.Records = recs
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	if code >= 500 {
		h.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	http.Error(w, err.Error(), code)
}

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	var (
		invalid    *grid.InvalidGridError
		acqErr     *acquire.GridAcquisitionError
		degenerate *extent.DegenerateFootprintError
	)
	switch {
	case acquire.IsCanceled(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, executor.ErrExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrEmptyID),
		errors.Is(err, dataset.ErrMissingID),
		errors.Is(err, dataset.ErrMissingCRS),
		errors.Is(err, dataset.ErrNoBands),
		errors.Is(err, dataset.ErrInvalidTime),
		errors.Is(err, dataset.ErrDuplicateBand):
		return http.StatusBadRequest
	case errors.As(err, &invalid), errors.As(err, &degenerate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrPartial), errors.As(err, &acqErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("encode response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(b, '\n'))
}
