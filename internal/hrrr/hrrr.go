// Package hrrr initializes simulation surface grids from NCEP HRRR surface
// forecasts (wrfsfc GRIB2 files) and downloads those forecasts from NOAA.
//
// HRRR files are recognised, and their bands located, by position: three
// historical band orders are known, each identified by the comment of its
// 10 m u-wind band.
package hrrr

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/geal-ai/ninjagrid/internal/grib2"
	"github.com/geal-ai/ninjagrid/internal/grid"
	"github.com/geal-ai/ninjagrid/internal/observability"
	"github.com/geal-ai/ninjagrid/internal/warp"
)

// Forecast product constants.
const (
	Identifier = "NCEP-HRRR-3km-SURFACE"
	StartHour  = 0
	EndHour    = 48
	WindHeight = 10.0 // metres
	Path       = ""   // no fixed download path; Client builds run URLs

	// UComment is the GRIB_COMMENT of the 10 m u-wind band.
	UComment = "u-component of wind [m/s]"
)

// Variables lists the forecast variables in warp band order.
var Variables = []string{"2t", "10v", "10u", "gh"}

var (
	ErrNotHRRR       = errors.New("hrrr: not an HRRR surface forecast")
	ErrUnknownLayout = errors.New("hrrr: no known HRRR band layout matches")
	ErrTimeNotFound  = errors.New("hrrr: could not match time with a band in the forecast file")
	ErrBandMismatch  = errors.New("hrrr: forecast bands are on different grids")
)

// Layout gives the 1-based band numbers of the variables in one file vintage.
type Layout struct {
	Name        string
	Probe       int // band whose comment identifies the layout
	Temperature int // 2 m temperature
	VWind       int // 10 m v-component
	UWind       int // 10 m u-component
	CloudTop    int // geopotential height of the cloud top
	Bands       int // exact band count required, 0 for any
}

// bandList returns the variable bands in Variables order.
func (l Layout) bandList() []int {
	return []int{l.Temperature, l.VWind, l.UWind, l.CloudTop}
}

// Layouts are tried in order.
var Layouts = []Layout{
	{Name: "2010", Probe: 33, Temperature: 29, VWind: 34, UWind: 33, CloudTop: 52},
	{Name: "2011", Probe: 49, Temperature: 44, VWind: 50, UWind: 49, CloudTop: 73},
	{Name: "2012", Probe: 50, Temperature: 45, VWind: 51, UWind: 50, CloudTop: 78},
	// Written by Client.FetchSurface.
	{Name: "subset", Probe: 3, Temperature: 1, VWind: 2, UWind: 3, CloudTop: 4, Bands: 4},
}

// minBands is the fewest bands a full wrfsfc file can have.
const minBands = 8

// DetectLayout returns the first layout whose probe band carries UComment.
func DetectLayout(ds *grib2.Dataset) (Layout, error) {
	n := ds.BandCount()
	for _, l := range Layouts {
		if l.Bands != 0 && n != l.Bands {
			continue
		}
		if l.Probe > n {
			continue
		}
		b, err := ds.Band(l.Probe)
		if err != nil {
			return Layout{}, err
		}
		if strings.Contains(b.Metadata(grib2.MetaComment), UComment) {
			return l, nil
		}
	}
	return Layout{}, ErrUnknownLayout
}

// TimeList returns the valid times in ds. HRRR surface files hold a single
// time step, taken from the u-wind band.
func TimeList(ds *grib2.Dataset) ([]time.Time, error) {
	l, err := DetectLayout(ds)
	if err != nil {
		return nil, err
	}
	b, err := ds.Band(l.UWind)
	if err != nil {
		return nil, err
	}
	return []time.Time{b.Product.ValidTime()}, nil
}

// Surface holds the grids a forecast initializes.
type Surface struct {
	Air   *grid.Grid // 2 m temperature, K
	Cloud *grid.Grid // 1 where a cloud top exists, else 0
	U, V  *grid.Grid // 10 m wind components, m/s
	W     *grid.Grid // zero
}

// Initializer reads HRRR forecasts. The zero value is ready to use.
type Initializer struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Identify reports whether path is an HRRR surface forecast.
func Identify(path string) bool { return (&Initializer{}).Identify(path) }

// SurfaceGrids is Initializer.SurfaceGrids with no logging.
func SurfaceGrids(path string, at time.Time, dst grid.Header) (*Surface, error) {
	return (&Initializer{}).SurfaceGrids(path, at, dst)
}

// Identify reports whether path is an HRRR surface forecast.
func (in *Initializer) Identify(path string) bool {
	_, err := in.Check(path)
	result := "hrrr"
	if err != nil {
		result = "other"
	}
	if in.Metrics != nil {
		in.Metrics.ForecastsIdentified.WithLabelValues(result).Inc()
	}
	return err == nil
}

// Check opens path and returns its layout, or an error wrapping ErrNotHRRR
// that says why the file was rejected.
func (in *Initializer) Check(path string) (Layout, error) {
	log := observability.OrNop(in.Logger)
	if strings.Contains(filepath.Base(path), "nam") {
		return Layout{}, fmt.Errorf("%w: %s is a NAM file name", ErrNotHRRR, path)
	}
	ds, err := grib2.Open(path)
	if err != nil {
		log.Debug("bad forecast file", zap.String("path", path), zap.Error(err))
		return Layout{}, fmt.Errorf("%w: %v", ErrNotHRRR, err)
	}
	l, err := DetectLayout(ds)
	if err != nil || (ds.BandCount() < minBands && l.Bands == 0) {
		return Layout{}, fmt.Errorf("%w: %s has %d bands and no u-wind probe band", ErrNotHRRR, path, ds.BandCount())
	}
	return l, nil
}

// SurfaceGrids warps the forecast's temperature, wind and cloud-top bands
// at time at onto dst with nearest-neighbour resampling.
func (in *Initializer) SurfaceGrids(path string, at time.Time, dst grid.Header) (*Surface, error) {
	log := observability.OrNop(in.Logger)
	ds, err := grib2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hrrr: open forecast: %w", err)
	}
	layout, err := DetectLayout(ds)
	if err != nil {
		return nil, err
	}
	times, err := TimeList(ds)
	if err != nil {
		return nil, err
	}
	found := false
	for _, t := range times {
		if t.Equal(at) {
			found = true
			break
		}
	}
	if !found {
		log.Debug("time not in forecast", zap.Time("want", at), zap.Times("have", times))
		return nil, fmt.Errorf("%w: %s", ErrTimeNotFound, at.UTC().Format(time.RFC3339))
	}

	var (
		src  *grib2.LambertGrid
		vals [][]float64
	)
	for k, n := range layout.bandList() {
		b, err := ds.Band(n)
		if err != nil {
			return nil, err
		}
		f, err := b.Field()
		if err != nil {
			return nil, fmt.Errorf("hrrr: band %d (%s): %w", n, Variables[k], err)
		}
		if src == nil {
			src = &f.Grid
		} else if f.Grid != *src {
			return nil, fmt.Errorf("%w: band %d", ErrBandMismatch, n)
		}
		vals = append(vals, f.Vals)
	}
	log.Debug("warping forecast bands",
		zap.String("layout", layout.Name),
		zap.Ints("bands", layout.bandList()),
		zap.Int("ni", src.Ni), zap.Int("nj", src.Nj))

	w, err := warp.New(src, dst, warp.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("hrrr: %w", err)
	}
	gs, err := w.Bands(vals...)
	if err != nil {
		return nil, fmt.Errorf("hrrr: %w", err)
	}
	if in.Metrics != nil {
		in.Metrics.BandsWarped.Add(float64(len(gs)))
	}

	s := &Surface{}
	for k, g := range gs {
		g.NoData = grid.DefaultNoData
		g.ReplaceNaN(grid.DefaultNoData)
		switch Variables[k] {
		case "2t":
			s.Air = g
		case "10v":
			s.V = g
		case "10u":
			s.U = g
		case "gh":
			s.Cloud = g
		}
	}
	s.Cloud.Map(func(h float64) float64 {
		if h < 0 {
			return 0
		}
		return 1
	})
	// The decoder yields Kelvin already.
	s.W = &grid.Grid{}
	s.W.SetHeaderFrom(s.U)
	return s, nil
}
