package hrrr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geal-ai/ninjagrid/internal/grib2"
	"github.com/geal-ai/ninjagrid/internal/observability"
)

// Default response body limits. Real HRRR .idx files are ~200 KB; single
// fields are ~600 KB.
const (
	DefaultMaxIdxBytes  = 10 << 20 // 10 MB
	DefaultMaxGRIBBytes = 50 << 20 // 50 MB
)

// ErrBodyTooLarge is returned when a response exceeds the client's limit.
var ErrBodyTooLarge = errors.New("hrrr: response body exceeds limit")

// DefaultBaseURL is the NOAA HRRR bucket on AWS.
const DefaultBaseURL = "https://noaa-hrrr-bdp-pds.s3.amazonaws.com"

// SurfaceFields are the .idx search strings of the fields FetchSurface
// downloads, in the band order of the subset layout.
var SurfaceFields = []string{
	"TMP:2 m above ground",
	"VGRD:10 m above ground",
	"UGRD:10 m above ground",
	"HGT:cloud top",
}

// Client fetches HRRR GRIB2 messages from the NOAA S3 bucket.
type Client struct {
	HTTPClient  *http.Client
	BaseURL     string
	Clock       clockwork.Clock
	MaxLagHours int // runs LatestRun tries before giving up
	Concurrency int // parallel range requests in FetchSurface
	Logger      *zap.Logger
	Metrics     *observability.Metrics

	// Body limits; zero means the package default.
	MaxIdxBytes  int64
	MaxGRIBBytes int64
}

// NewClient returns a client with sensible defaults.
func NewClient() *Client {
	return &Client{
		HTTPClient:   &http.Client{Timeout: 120 * time.Second},
		BaseURL:      DefaultBaseURL,
		Clock:        clockwork.NewRealClock(),
		MaxLagHours:  6,
		Concurrency:  4,
		MaxIdxBytes:  DefaultMaxIdxBytes,
		MaxGRIBBytes: DefaultMaxGRIBBytes,
	}
}

func orDefault(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}

func (c *Client) log() *zap.Logger { return observability.OrNop(c.Logger) }

// urls returns the index and GRIB2 S3 URLs for a given model run.
func (c *Client) urls(run time.Time, fxx int) (idxURL, gribURL string) {
	run = run.UTC()
	base := fmt.Sprintf("%s/hrrr.%s/conus/hrrr.t%02dz.wrfsfcf%02d",
		c.BaseURL, run.Format("20060102"), run.Hour(), fxx)
	return base + ".grib2.idx", base + ".grib2"
}

// observe records one request in the metrics.
func (c *Client) observe(kind string, start time.Time, n int, err error) {
	if c.Metrics == nil {
		return
	}
	c.Metrics.FetchRequests.WithLabelValues(kind, observability.Outcome(err)).Inc()
	c.Metrics.FetchDuration.WithLabelValues(kind).Observe(c.clock().Since(start).Seconds())
	c.Metrics.FetchBytes.Add(float64(n))
}

func (c *Client) clock() clockwork.Clock {
	if c.Clock == nil {
		return clockwork.NewRealClock()
	}
	return c.Clock
}

// get performs a GET, optionally with a Range header. A body longer than
// limit bytes fails with ErrBodyTooLarge.
func (c *Client) get(ctx context.Context, kind, url, rangeHdr string, limit int64) (body []byte, err error) {
	start := c.clock().Now()
	defer func() { c.observe(kind, start, len(body), err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if rangeHdr != "" {
		req.Header.Set("Range", rangeHdr)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && !(rangeHdr != "" && resp.StatusCode == http.StatusPartialContent) {
		return nil, fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, url)
	}
	body, err = io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: %s is over %d bytes", ErrBodyTooLarge, url, limit)
	}
	return body, nil
}

// Inventory fetches and parses the .idx file of a model run.
func (c *Client) Inventory(ctx context.Context, run time.Time, fxx int) (grib2.Inventory, error) {
	idxURL, _ := c.urls(run, fxx)
	body, err := c.get(ctx, "idx", idxURL, "", orDefault(c.MaxIdxBytes, DefaultMaxIdxBytes))
	if err != nil {
		return nil, fmt.Errorf("index fetch: %w", err)
	}
	inv, err := grib2.ParseInventory(bytes.NewReader(body), -1)
	if err != nil {
		return nil, fmt.Errorf("index parse %s: %w", idxURL, err)
	}
	return inv, nil
}

// fetchRange fetches bytes start..end inclusive; end < 0 reads to EOF.
func (c *Client) fetchRange(ctx context.Context, url string, start, end int64) ([]byte, error) {
	rng := fmt.Sprintf("bytes=%d-", start)
	if end >= 0 {
		rng = fmt.Sprintf("bytes=%d-%d", start, end)
	}
	return c.get(ctx, "grib", url, rng, orDefault(c.MaxGRIBBytes, DefaultMaxGRIBBytes))
}

// FetchRaw fetches raw bytes using pre-known byte offsets.
func (c *Client) FetchRaw(ctx context.Context, gribURL string, byteStart, byteEnd int64) ([]byte, error) {
	return c.fetchRange(ctx, gribURL, byteStart, byteEnd)
}

// fetchItem downloads the GRIB2 message of one inventory record.
func (c *Client) fetchItem(ctx context.Context, gribURL string, item *grib2.InventoryItem) ([]byte, error) {
	raw, err := c.fetchRange(ctx, gribURL, item.Offset, item.End())
	if err != nil {
		return nil, fmt.Errorf("fetching GRIB2 bytes: %w", err)
	}
	return raw, nil
}

// FetchField fetches and decodes a single GRIB2 field by variable/level.
// run is the model run time (UTC), fxx the forecast hour (0-48) and
// varLevel an index search string, e.g. "TMP:700 mb".
func (c *Client) FetchField(ctx context.Context, run time.Time, fxx int, varLevel string) (*grib2.Field, error) {
	inv, err := c.Inventory(ctx, run, fxx)
	if err != nil {
		return nil, err
	}
	item, ok := inv.Find(varLevel)
	if !ok {
		return nil, fmt.Errorf("index lookup %q: variable not found in index", varLevel)
	}
	_, gribURL := c.urls(run, fxx)
	raw, err := c.fetchItem(ctx, gribURL, item)
	if err != nil {
		return nil, err
	}
	return grib2.DecodeMessage(raw)
}

// FetchSurface downloads the four fields a surface initialization needs and
// writes them to w as one GRIB2 file in SurfaceFields order.
func (c *Client) FetchSurface(ctx context.Context, run time.Time, fxx int, w io.Writer) error {
	inv, err := c.Inventory(ctx, run, fxx)
	if err != nil {
		return err
	}
	items := make([]*grib2.InventoryItem, len(SurfaceFields))
	for k, key := range SurfaceFields {
		item, ok := inv.Find(key)
		if !ok {
			return fmt.Errorf("index lookup %q: variable not found in index", key)
		}
		items[k] = item
	}

	_, gribURL := c.urls(run, fxx)
	parts := make([][]byte, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, c.Concurrency))
	for k, item := range items {
		k, item := k, item
		g.Go(func() error {
			raw, err := c.fetchItem(gctx, gribURL, item)
			if err != nil {
				return fmt.Errorf("%s: %w", SurfaceFields[k], err)
			}
			parts[k] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, p := range parts {
		if _, err := w.Write(p); err != nil {
			return err
		}
	}
	c.log().Debug("fetched surface subset",
		zap.Time("run", run), zap.Int("fxx", fxx), zap.Int("messages", len(parts)))
	return nil
}

// LatestRun returns the newest model run, from one to MaxLagHours hours
// before now, whose forecast hour fxx has an index file.
func (c *Client) LatestRun(ctx context.Context, fxx int) (time.Time, error) {
	base := c.clock().Now().UTC().Truncate(time.Hour)
	lastErr := fmt.Errorf("no run tried (max lag %d h)", c.MaxLagHours)
	for lag := 1; lag <= c.MaxLagHours; lag++ {
		run := base.Add(-time.Duration(lag) * time.Hour)
		c.log().Debug("trying run", zap.Time("run", run), zap.Int("lag_hours", lag))
		if _, err := c.Inventory(ctx, run, fxx); err != nil {
			if ctx.Err() != nil {
				return time.Time{}, ctx.Err()
			}
			c.log().Debug("run not available", zap.Time("run", run), zap.Error(err))
			lastErr = err
			continue
		}
		return run, nil
	}
	return time.Time{}, fmt.Errorf("could not find a recent HRRR run: %w", lastErr)
}
