package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/dataset"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
)

const testCRS = "EPSG:32755"

func testGrid(res float64) grid.PixelGrid {
	return grid.PixelGrid{
		CRS:       testCRS,
		Transform: grid.Affine{res, 0, 600000, 0, -res, 6100000},
		Shape:     grid.Shape{Height: int(3000 / res), Width: int(3000 / res)},
	}
}

func baseDescription(bands ...dataset.Band) dataset.Description {
	return dataset.Description{
		ID:    "ds",
		CRS:   testCRS,
		Bands: bands,
		Time:  model.Instant(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

// fakeProber serves grids by location and fails the first failures[loc] calls.
type fakeProber struct {
	mu       sync.Mutex
	grids    map[string]grid.PixelGrid
	failures map[string]int
	failWith error
	calls    map[string]int
}

func newFakeProber() *fakeProber {
	return &fakeProber{grids: map[string]grid.PixelGrid{}, failures: map[string]int{}, calls: map[string]int{}}
}

func (f *fakeProber) Probe(_ context.Context, loc string) (grid.PixelGrid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[loc]++
	if f.failures[loc] > 0 {
		f.failures[loc]--
		err := f.failWith
		if err == nil {
			err = fmt.Errorf("read %s: %w", loc, ErrTransient)
		}
		return grid.PixelGrid{}, err
	}
	g, ok := f.grids[loc]
	if !ok {
		return grid.PixelGrid{}, fmt.Errorf("open %s: no such file", loc)
	}
	return g, nil
}

func (f *fakeProber) count(loc string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[loc]
}

func newAcquirer(t *testing.T, p Prober) *Acquirer {
	t.Helper()
	a, err := New(p, Options{MaxAttempts: 3, Backoff: time.Millisecond, Concurrency: 2, CacheSize: 16})
	if err != nil {
		t.Fatalf("new acquirer: %v", err)
	}
	return a
}

func TestResolutionOrder(t *testing.T) {
	p := newFakeProber()
	p.grids["nir.tif"] = testGrid(60)
	def, pan, inline := testGrid(30), testGrid(15), testGrid(300)

	d := baseDescription(
		dataset.Band{Name: "qa", Ref: grid.InlineRef(inline), Location: "qa.tif"},
		dataset.Band{Name: "pan", Ref: grid.GroupRef("pan"), Location: "pan.tif"},
		dataset.Band{Name: "red", Ref: grid.DefaultRef(), Location: "red.tif"},
	)
	d.Default = &def
	d.Grids = map[string]grid.PixelGrid{"pan": pan}

	res, err := newAcquirer(t, p).Acquire(context.Background(), d)
	if err != nil || res.Err() != nil {
		t.Fatalf("acquire: %v / %v", err, res.Err())
	}
	want := []struct {
		band string
		g    grid.PixelGrid
		src  Source
	}{{"qa", inline, SourceInline}, {"pan", pan, SourceGroup}, {"red", def, SourceDefault}}
	for i, w := range want {
		got := res.Bands[i]
		if got.Band != w.band || !got.Grid.Equal(w.g) || got.Source != w.src {
			t.Fatalf("band %d = %+v, want %s from %v", i, got, w.band, w.src)
		}
	}
	for _, loc := range []string{"qa.tif", "pan.tif", "red.tif"} {
		if n := p.count(loc); n != 0 {
			t.Fatalf("%s probed %d times although a grid was declared", loc, n)
		}
	}

	d.Default = nil
	d.Bands = append(d.Bands, dataset.Band{Name: "nir", Ref: grid.DefaultRef(), Location: "nir.tif"})
	d.Bands[2].Location = ""
	res, err = newAcquirer(t, p).Acquire(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failures) != 1 || res.Failures[0].Band != "red" || !errors.Is(res.Failures[0], ErrNoGridSource) {
		t.Fatalf("failures = %v", res.Err())
	}
	if last := res.Bands[len(res.Bands)-1]; last.Band != "nir" || last.Source != SourceProbe {
		t.Fatalf("nir should come from the probe, got %+v", last)
	}
}

func TestProbeRetriesTransientErrors(t *testing.T) {
	p := newFakeProber()
	p.grids["a.tif"] = testGrid(30)
	p.failures["a.tif"] = 2

	res, err := newAcquirer(t, p).Acquire(context.Background(), baseDescription(dataset.Band{Name: "a", Location: "a.tif"}))
	if err != nil || res.Err() != nil {
		t.Fatalf("acquire: %v / %v", err, res.Err())
	}
	if n := p.count("a.tif"); n != 3 {
		t.Fatalf("probe calls = %d, want 3", n)
	}
}

func TestProbeExhaustsRetries(t *testing.T) {
	p := newFakeProber()
	p.grids["a.tif"] = testGrid(30)
	p.failures["a.tif"] = 10

	res, err := newAcquirer(t, p).Acquire(context.Background(), baseDescription(dataset.Band{Name: "a", Location: "a.tif"}))
	if err != nil {
		t.Fatalf("exhausted retries are a band failure, not an acquire error: %v", err)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("failures = %d", len(res.Failures))
	}
	f := res.Failures[0]
	if f.Band != "a" || f.Attempts != 3 || !errors.Is(f, ErrTransient) {
		t.Fatalf("failure = %v", f)
	}
	if n := p.count("a.tif"); n != 3 {
		t.Fatalf("probe calls = %d, want 3", n)
	}
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	p := newFakeProber()
	res, err := newAcquirer(t, p).Acquire(context.Background(), baseDescription(dataset.Band{Name: "a", Location: "missing.tif"}))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failures) != 1 || res.Failures[0].Attempts != 1 {
		t.Fatalf("failures = %v", res.Err())
	}
	if n := p.count("missing.tif"); n != 1 {
		t.Fatalf("probe calls = %d, want 1", n)
	}
}

func TestPartialFailureReportsExactlyOneError(t *testing.T) {
	p := newFakeProber()
	p.grids["b1.tif"] = testGrid(30)
	p.grids["b3.tif"] = testGrid(30)
	d := baseDescription(
		dataset.Band{Name: "b1", Location: "b1.tif"},
		dataset.Band{Name: "b2", Location: "b2.tif"},
		dataset.Band{Name: "b3", Location: "b3.tif"},
	)
	res, err := newAcquirer(t, p).Acquire(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Partial() || len(res.Bands) != 2 || len(res.Failures) != 1 {
		t.Fatalf("result = %+v", res)
	}
	var gae *GridAcquisitionError
	if !errors.As(res.Err(), &gae) || gae.Band != "b2" {
		t.Fatalf("err = %v", res.Err())
	}
	if res.Bands[0].Band != "b1" || res.Bands[1].Band != "b3" {
		t.Fatalf("resolved bands out of order: %+v", res.Bands)
	}
}

func TestCancellationIsDistinctFromFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started, release := make(chan struct{}), make(chan struct{})
	t.Cleanup(func() { close(release) })
	p := ProberFunc(func(ctx context.Context, _ string) (grid.PixelGrid, error) {
		close(started)
		<-release
		return grid.PixelGrid{}, errors.New("released")
	})
	go func() {
		<-started
		cancel()
	}()
	_, err := newAcquirer(t, p).Acquire(ctx, baseDescription(dataset.Band{Name: "a", Location: "a.tif"}))
	if !errors.Is(err, ErrProbeCanceled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	var gae *GridAcquisitionError
	if errors.As(err, &gae) {
		t.Fatalf("cancellation must not surface as a band failure")
	}
}

func TestProbeResultsAreCached(t *testing.T) {
	p := newFakeProber()
	p.grids["a.tif"] = testGrid(30)
	a := newAcquirer(t, p)
	d := baseDescription(dataset.Band{Name: "a", Location: "a.tif"}, dataset.Band{Name: "b", Location: "a.tif"})
	for i := 0; i < 3; i++ {
		if res, err := a.Acquire(context.Background(), d); err != nil || res.Err() != nil {
			t.Fatalf("acquire: %v / %v", err, res.Err())
		}
	}
	if n := p.count("a.tif"); n != 1 {
		t.Fatalf("probe calls = %d, want 1", n)
	}
}

func TestProbedCRSMustMatch(t *testing.T) {
	p := newFakeProber()
	g := testGrid(30)
	g.CRS = "EPSG:32756"
	p.grids["a.tif"] = g
	res, err := newAcquirer(t, p).Acquire(context.Background(), baseDescription(dataset.Band{Name: "a", Location: "a.tif"}))
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.Err(), ErrCRSMismatch) {
		t.Fatalf("err = %v", res.Err())
	}
}

func TestUnknownGroup(t *testing.T) {
	d := baseDescription(dataset.Band{Name: "a", Ref: grid.GroupRef("nope"), Location: "a.tif"})
	res, err := newAcquirer(t, newFakeProber()).Acquire(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.Err(), ErrUnknownGroup) {
		t.Fatalf("err = %v", res.Err())
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }

func TestIsTransient(t *testing.T) {
	if !IsTransient(fmt.Errorf("wrap: %w", timeoutErr{})) {
		t.Fatalf("timeout errors should be transient")
	}
	if IsTransient(errors.New("permission denied")) || IsTransient(nil) {
		t.Fatalf("plain errors are permanent")
	}
}

func TestConcurrencyLimit(t *testing.T) {
	var inflight, peak atomic.Int32
	p := ProberFunc(func(_ context.Context, loc string) (grid.PixelGrid, error) {
		n := inflight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		return testGrid(30), nil
	})
	var bands []dataset.Band
	for i := 0; i < 8; i++ {
		bands = append(bands, dataset.Band{Name: fmt.Sprintf("b%d", i), Location: fmt.Sprintf("b%d.tif", i)})
	}
	if _, err := newAcquirer(t, p).Acquire(context.Background(), baseDescription(bands...)); err != nil {
		t.Fatal(err)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeds limit 2", peak.Load())
	}
}

func TestCanceledCallerLeavesSharedLookupRunning(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	var calls atomic.Int32
	p := ProberFunc(func(ctx context.Context, _ string) (grid.PixelGrid, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return testGrid(30), nil
		case <-ctx.Done():
			return grid.PixelGrid{}, ctx.Err()
		}
	})
	a := newAcquirer(t, p)
	d := baseDescription(dataset.Band{Name: "a", Location: "shared.tif"})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := a.Acquire(ctxA, d)
		errA <- err
	}()
	<-started

	type outcome struct {
		res Result
		err error
	}
	doneB := make(chan outcome, 1)
	go func() {
		res, err := a.Acquire(context.Background(), d)
		doneB <- outcome{res, err}
	}()

	cancelA()
	if err := <-errA; !IsCanceled(err) {
		t.Fatalf("canceled caller err = %v", err)
	}
	close(release)

	select {
	case o := <-doneB:
		if o.err != nil || o.res.Err() != nil {
			t.Fatalf("second caller: %v / %v", o.err, o.res.Err())
		}
		if len(o.res.Bands) != 1 || o.res.Bands[0].Source != SourceProbe {
			t.Fatalf("bands = %+v", o.res.Bands)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("second caller never finished")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("prober calls = %d, want 1", n)
	}
	if _, ok := a.cache.Get("shared.tif"); !ok {
		t.Fatalf("shared grid was not cached")
	}
}
