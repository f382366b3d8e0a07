package hrrr_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/geal-ai/ninjagrid/internal/grib2"
	"github.com/geal-ai/ninjagrid/internal/gribtest"
	"github.com/geal-ai/ninjagrid/internal/hrrr"
	"github.com/geal-ai/ninjagrid/internal/observability"
)

// fakeBucket serves GRIB2 files and their .idx inventories by URL path.
type fakeBucket struct {
	mu       sync.Mutex
	files    map[string][]byte
	requests []string
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.requests = append(b.requests, r.URL.Path+" "+r.Header.Get("Range"))
	data, ok := b.files[r.URL.Path]
	b.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

func (b *fakeBucket) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

// add publishes fields as the run's wrfsfc file, one message per field,
// with a matching wgrib2 inventory.
func (b *fakeBucket) add(run time.Time, fxx int, fields []gribtest.Field, labels []string) {
	var (
		file []byte
		idx  strings.Builder
	)
	for k, f := range fields {
		fmt.Fprintf(&idx, "%d:%d:d=%s:%s:%d hour fcst:\n", k+1, len(file), run.Format("2006010215"), labels[k], fxx)
		file = append(file, gribtest.Message(f)...)
	}
	base := fmt.Sprintf("/hrrr.%s/conus/hrrr.t%02dz.wrfsfcf%02d.grib2", run.Format("20060102"), run.Hour(), fxx)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.files == nil {
		b.files = map[string][]byte{}
	}
	b.files[base] = file
	b.files[base+".idx"] = []byte(idx.String())
}

// newTestClient points a client at b. Callers defer the returned close
// after goleak.VerifyNone so the server is gone before the leak check.
func newTestClient(t *testing.T, b *fakeBucket, clock clockwork.Clock) (*hrrr.Client, func()) {
	t.Helper()
	srv := httptest.NewServer(b)
	c := hrrr.NewClient()
	c.HTTPClient = srv.Client()
	c.BaseURL = srv.URL
	c.Logger = zaptest.NewLogger(t)
	c.Metrics = observability.NewMetricsForTesting()
	if clock != nil {
		c.Clock = clock
	}
	return c, srv.Close
}

var run = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// publishRun stores a wrfsfc file whose field order differs from the
// subset order, with unrelated fields around them.
func publishRun(b *fakeBucket, run time.Time) grib2.LambertGrid {
	g := gribtest.Grid(5, 4)
	fields := []gribtest.Field{
		gribtest.Filler(g),
		gribtest.UWind10m(g, gribtest.Const(g, 3)).Hours(6),
		gribtest.VWind10m(g, gribtest.Const(g, -4)).Hours(6),
		gribtest.Temperature2m(g, gribtest.Ramp(g, 250)).Hours(6),
		gribtest.Filler(g),
		gribtest.CloudTopHeight(g, gribtest.Const(g, 7000)).Hours(6),
	}
	labels := []string{
		"PRES:surface",
		"UGRD:10 m above ground",
		"VGRD:10 m above ground",
		"TMP:2 m above ground",
		"PRES:surface",
		"HGT:cloud top",
	}
	b.add(run, 6, fields, labels)
	return g
}

func TestFetchSurface(t *testing.T) {
	defer goleak.VerifyNone(t)

	var b fakeBucket
	g := publishRun(&b, run)
	c, done := newTestClient(t, &b, nil)
	defer done()

	var buf bytes.Buffer
	require.NoError(t, c.FetchSurface(context.Background(), run, 6, &buf))

	ds, err := grib2.Parse(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, 4, ds.BandCount())
	l, err := hrrr.DetectLayout(ds)
	require.NoError(t, err)
	assert.Equal(t, "subset", l.Name)

	want := []string{"TMP", "VGRD", "UGRD", "HGT"}
	for k, elem := range want {
		band, err := ds.Band(k + 1)
		require.NoError(t, err)
		assert.Equal(t, elem, band.Metadata(grib2.MetaElement))
	}
	temp, err := ds.Band(1)
	require.NoError(t, err)
	f, err := temp.Field()
	require.NoError(t, err)
	assert.InDelta(t, 250, f.Vals[0], 1e-9)
	assert.Equal(t, g, f.Grid)

	// One index request plus four ranges, the last record to EOF.
	assert.Equal(t, 5.0, testutil.ToFloat64(c.Metrics.FetchRequests.WithLabelValues("idx", "success"))+
		testutil.ToFloat64(c.Metrics.FetchRequests.WithLabelValues("grib", "success")))
	assert.Positive(t, testutil.ToFloat64(c.Metrics.FetchBytes))
	var openEnded int
	for _, r := range b.seen() {
		if strings.HasSuffix(r, "-") {
			openEnded++
		}
	}
	assert.Equal(t, 1, openEnded, "requests: %v", b.seen())
}

func TestFetchSurfaceMissingField(t *testing.T) {
	defer goleak.VerifyNone(t)

	var b fakeBucket
	g := gribtest.Grid(3, 3)
	b.add(run, 0, []gribtest.Field{gribtest.Filler(g)}, []string{"PRES:surface"})
	c, done := newTestClient(t, &b, nil)
	defer done()

	err := c.FetchSurface(context.Background(), run, 0, &bytes.Buffer{})
	assert.ErrorContains(t, err, "TMP:2 m above ground")
}

func TestFetchField(t *testing.T) {
	defer goleak.VerifyNone(t)

	var b fakeBucket
	publishRun(&b, run)
	c, done := newTestClient(t, &b, nil)
	defer done()

	f, err := c.FetchField(context.Background(), run, 6, "VGRD:10 m above ground")
	require.NoError(t, err)
	assert.InDelta(t, -4, f.Vals[3], 1e-9)

	_, err = c.FetchField(context.Background(), run, 6, "REFC:entire atmosphere")
	assert.ErrorContains(t, err, "not found in index")

	_, err = c.FetchField(context.Background(), run, 7, "TMP:2 m above ground")
	assert.ErrorContains(t, err, "HTTP 404")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Metrics.FetchRequests.WithLabelValues("idx", "error")))
}

func TestInventory(t *testing.T) {
	defer goleak.VerifyNone(t)

	var b fakeBucket
	publishRun(&b, run)
	c, done := newTestClient(t, &b, nil)
	defer done()

	inv, err := c.Inventory(context.Background(), run, 6)
	require.NoError(t, err)
	require.Len(t, inv, 6)
	assert.True(t, inv[0].When.Equal(run))
	assert.Equal(t, int64(-1), inv[5].Extent)
	item, ok := inv.Find("HGT:cloud top")
	require.True(t, ok)
	assert.Equal(t, 6, item.RecordNumber)
}

func TestBodyLimits(t *testing.T) {
	defer goleak.VerifyNone(t)

	var b fakeBucket
	publishRun(&b, run)
	c, done := newTestClient(t, &b, nil)
	defer done()

	c.MaxIdxBytes = 16
	_, err := c.Inventory(context.Background(), run, 6)
	assert.ErrorIs(t, err, hrrr.ErrBodyTooLarge)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Metrics.FetchRequests.WithLabelValues("idx", "error")))

	c.MaxIdxBytes = 0
	c.MaxGRIBBytes = 64
	var buf bytes.Buffer
	err = c.FetchSurface(context.Background(), run, 6, &buf)
	assert.ErrorIs(t, err, hrrr.ErrBodyTooLarge)
	assert.Zero(t, buf.Len(), "nothing is written from a truncated message")
}

func TestLatestRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	var b fakeBucket
	publishRun(&b, run)
	clock := clockwork.NewFakeClockAt(run.Add(3*time.Hour + 20*time.Minute))
	c, done := newTestClient(t, &b, clock)
	defer done()

	got, err := c.LatestRun(context.Background(), 6)
	require.NoError(t, err)
	assert.True(t, got.Equal(run), "got %s", got)
	assert.Len(t, b.seen(), 3, "14z and 13z are tried first")
}

func TestLatestRunGivesUp(t *testing.T) {
	defer goleak.VerifyNone(t)

	var b fakeBucket
	publishRun(&b, run)
	c, done := newTestClient(t, &b, clockwork.NewFakeClockAt(run.Add(10*time.Hour)))
	defer done()
	c.MaxLagHours = 2

	_, err := c.LatestRun(context.Background(), 6)
	assert.ErrorContains(t, err, "could not find a recent HRRR run")
	assert.Len(t, b.seen(), 2)
}

func TestLatestRunCanceled(t *testing.T) {
	defer goleak.VerifyNone(t)

	var b fakeBucket
	c, done := newTestClient(t, &b, clockwork.NewFakeClockAt(run))
	defer done()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.LatestRun(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
