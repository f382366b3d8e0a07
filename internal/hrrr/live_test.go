package hrrr_test

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/geal-ai/ninjagrid/internal/grib2"
	"github.com/geal-ai/ninjagrid/internal/hrrr"
)

// Reference: herbie/cfgrib, HRRR 2026-02-19 T12Z F00, TMP:700 mb
// Nearest-neighbour lookup at each point.
const (
	refGRIBURL   = "https://noaa-hrrr-bdp-pds.s3.amazonaws.com/hrrr.20260219/conus/hrrr.t12z.wrfsfcf00.grib2"
	refByteStart = int64(11928132)
	refByteEnd   = int64(12500283)
)

// refPoints are (lat°N, lon°E signed, expected_K, description).
var refPoints = []struct {
	lat, lon float64
	want     float64
	name     string
	i, j     int // herbie nearest-neighbour indices
}{
	{39.54, -106.19, 259.061798, "Vail Pass CO", 651, 579},
	{39.74, -104.98, 261.374298, "Denver CO", 686, 584},
	{47.61, -122.33, 256.686798, "Seattle WA", 278, 953},
}

func fetchReference(t *testing.T) *grib2.Field {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping: requires network access to NOAA S3")
	}
	c := hrrr.NewClient()
	raw, err := c.FetchRaw(context.Background(), refGRIBURL, refByteStart, refByteEnd)
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	field, err := grib2.DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	return field
}

// TestLiveGridParams verifies the HRRR CONUS grid constants.
func TestLiveGridParams(t *testing.T) {
	g := fetchReference(t).Grid
	check := func(name string, got, want, tol float64) {
		t.Helper()
		if math.Abs(got-want) > tol {
			t.Errorf("%s: got %.6f, want %.6f (diff=%.6f)", name, got, want, math.Abs(got-want))
		}
	}
	if g.Ni != 1799 || g.Nj != 1059 {
		t.Errorf("size: got %dx%d, want 1799x1059", g.Ni, g.Nj)
	}
	check("La1", g.La1, 21.138123, 1e-5)
	check("Lo1", grib2.NormLon(g.Lo1), -122.719528, 1e-4)
	check("LoV", grib2.NormLon(g.LoV), -97.5, 1e-4)
	check("Latin1", g.Latin1, 38.5, 1e-4)
	check("Dx", g.Dx, 3000.0, 1.0)
	if g.ScanMode != 0x40 {
		t.Errorf("ScanMode: got 0x%02X, want 0x40", g.ScanMode)
	}
}

// TestLiveIndicesAndValues checks LatLonToIJ and decoded values against herbie.
func TestLiveIndicesAndValues(t *testing.T) {
	field := fetchReference(t)
	const tol = 0.01 // K; quantisation is about 0.001 K
	for _, rp := range refPoints {
		gi, gj := field.Grid.LatLonToIJ(rp.lat, rp.lon)
		if abs(gi-rp.i) > 1 || abs(gj-rp.j) > 1 {
			t.Errorf("%s: LatLonToIJ(%.2f,%.2f)=(%d,%d), want (%d,%d)", rp.name, rp.lat, rp.lon, gi, gj, rp.i, rp.j)
		}
		got := field.Lookup(rp.lat, rp.lon)
		if diff := math.Abs(got - rp.want); math.IsNaN(got) || diff > tol {
			t.Errorf("%s: got %.6f K, want %.6f K", rp.name, got, rp.want)
		}
	}
}

// TestLiveFetchSurface downloads the four-band subset of a recent run and
// initializes a small grid around Denver from it.
func TestLiveFetchSurface(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c := hrrr.NewClient()
	run, err := c.LatestRun(ctx, 1)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	var buf bytes.Buffer
	if err := c.FetchSurface(ctx, run, 1, &buf); err != nil {
		t.Fatalf("FetchSurface: %v", err)
	}
	path := filepath.Join(t.TempDir(), "hrrr.wrfsfcf01.grib2")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if !hrrr.Identify(path) {
		t.Fatal("downloaded subset not identified as HRRR")
	}

	dst := denverHeader()
	s, err := hrrr.SurfaceGrids(path, run.Add(time.Hour), dst)
	if err != nil {
		t.Fatalf("SurfaceGrids: %v", err)
	}
	for _, v := range s.Air.Data {
		if v < 200 || v > 330 {
			t.Fatalf("air temperature %.2f K out of range", v)
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
