// Package warp resamples model grids onto simulation grids. A Warper maps
// every destination cell centre to geographic coordinates, then to the
// nearest source grid point, once; each band after that is a table lookup.
package warp

import (
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom/proj"

	"github.com/geal-ai/ninjagrid/internal/grid"
)

// ErrUnsupportedResampling is returned for any resampling other than
// nearest neighbour.
var ErrUnsupportedResampling = errors.New("warp: unsupported resampling")

// SourceGrid is a grid of points addressed by (i, j) with i eastward and j
// northward, stored row-major as vals[j*ni+i].
type SourceGrid interface {
	Size() (ni, nj int)
	LatLonToIJ(lat, lon float64) (i, j int)
	IjToLatLon(i, j int) (lat, lon float64)
}

// Resampling selects how destination cells take source values.
type Resampling int

// NearestNeighbour is the only resampling a Warper supports.
const NearestNeighbour Resampling = 0

func (r Resampling) String() string {
	if r == NearestNeighbour {
		return "near"
	}
	return fmt.Sprintf("Resampling(%d)", int(r))
}

// Options control a Warper.
type Options struct {
	Resampling Resampling
	DstNoData  float64
}

// DefaultOptions returns nearest-neighbour resampling with a -9999 NoData.
func DefaultOptions() Options {
	return Options{Resampling: NearestNeighbour, DstNoData: grid.DefaultNoData}
}

// Warper warps bands of one source grid onto one destination header.
type Warper struct {
	dst    grid.Header
	opts   Options
	srcLen int
	index  []int // source index per destination cell, -1 outside the source
}

// New precomputes the destination-to-source index map.
func New(src SourceGrid, dst grid.Header, opts Options) (*Warper, error) {
	if opts.Resampling != NearestNeighbour {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedResampling, opts.Resampling)
	}
	if err := dst.Validate(); err != nil {
		return nil, err
	}
	toGeo, err := geographicTransform(dst.Prj)
	if err != nil {
		return nil, err
	}
	ni, nj := src.Size()
	w := &Warper{dst: dst, opts: opts, srcLen: ni * nj, index: make([]int, dst.Len())}
	for r := 0; r < dst.NRows; r++ {
		for c := 0; c < dst.NCols; c++ {
			k := r*dst.NCols + c
			w.index[k] = -1
			x, y := dst.CellCenter(r, c)
			lon, lat, err := toGeo(x, y)
			if err != nil || math.IsNaN(lon) || math.IsNaN(lat) {
				continue
			}
			i, j := src.LatLonToIJ(lat, lon)
			if i < 0 || i >= ni || j < 0 || j >= nj {
				continue
			}
			w.index[k] = j*ni + i
		}
	}
	return w, nil
}

// Header returns the destination header with NoData set to DstNoData.
func (w *Warper) Header() grid.Header {
	h := w.dst
	h.NoData = w.opts.DstNoData
	return h
}

// Covered returns the number of destination cells inside the source grid.
func (w *Warper) Covered() int {
	n := 0
	for _, si := range w.index {
		if si >= 0 {
			n++
		}
	}
	return n
}

// Band warps one source band. NaN source points and cells outside the
// source grid become DstNoData.
func (w *Warper) Band(vals []float64) (*grid.Grid, error) {
	if len(vals) != w.srcLen {
		return nil, fmt.Errorf("warp: source band has %d values, want %d", len(vals), w.srcLen)
	}
	g, err := grid.New(w.Header())
	if err != nil {
		return nil, err
	}
	for k, si := range w.index {
		if si < 0 || math.IsNaN(vals[si]) {
			g.Data[k] = w.opts.DstNoData
			continue
		}
		g.Data[k] = vals[si]
	}
	return g, nil
}

// Bands warps several bands that share the source grid.
func (w *Warper) Bands(bands ...[]float64) ([]*grid.Grid, error) {
	out := make([]*grid.Grid, 0, len(bands))
	for n, vals := range bands {
		g, err := w.Band(vals)
		if err != nil {
			return nil, fmt.Errorf("band %d: %w", n+1, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// SuggestHeader returns a header in dstPrj covering the source grid's edge
// points at cell size dx.
func SuggestHeader(src SourceGrid, dx float64, dstPrj string) (grid.Header, error) {
	if !(dx > 0) {
		return grid.Header{}, fmt.Errorf("%w: cell size %g", grid.ErrInvalidHeader, dx)
	}
	fromGeo, err := projectedTransform(dstPrj)
	if err != nil {
		return grid.Header{}, err
	}
	ni, nj := src.Size()
	if ni <= 0 || nj <= 0 {
		return grid.Header{}, fmt.Errorf("warp: empty source grid %dx%d", ni, nj)
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	add := func(i, j int) error {
		lat, lon := src.IjToLatLon(i, j)
		x, y, err := fromGeo(lon, lat)
		if err != nil {
			return fmt.Errorf("warp: transform point (%d, %d): %w", i, j, err)
		}
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		return nil
	}
	for i := 0; i < ni; i++ {
		if err := add(i, 0); err != nil {
			return grid.Header{}, err
		}
		if err := add(i, nj-1); err != nil {
			return grid.Header{}, err
		}
	}
	for j := 0; j < nj; j++ {
		if err := add(0, j); err != nil {
			return grid.Header{}, err
		}
		if err := add(ni-1, j); err != nil {
			return grid.Header{}, err
		}
	}
	h := grid.Header{
		NCols:     max(1, int(math.Ceil((maxX-minX)/dx))),
		NRows:     max(1, int(math.Ceil((maxY-minY)/dx))),
		XLLCorner: minX,
		YLLCorner: minY,
		CellSize:  dx,
		NoData:    grid.DefaultNoData,
		Prj:       dstPrj,
	}
	return h, h.Validate()
}

// geographicTransform returns a transform from prj coordinates to
// longitude/latitude degrees.
func geographicTransform(prj string) (proj.Transformer, error) {
	src, err := ParseSRS(prj)
	if err != nil {
		return nil, err
	}
	ll, err := proj.Parse(LongLat)
	if err != nil {
		return nil, err
	}
	t, err := src.NewTransform(ll)
	if err != nil {
		return nil, fmt.Errorf("warp: %w", err)
	}
	return t, nil
}

// projectedTransform is the inverse of geographicTransform.
func projectedTransform(prj string) (proj.Transformer, error) {
	dst, err := ParseSRS(prj)
	if err != nil {
		return nil, err
	}
	ll, err := proj.Parse(LongLat)
	if err != nil {
		return nil, err
	}
	t, err := ll.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("warp: %w", err)
	}
	return t, nil
}
