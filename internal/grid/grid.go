// Package grid holds the regular raster grids a simulation reads and writes:
// a header describing the georeferencing and row-major cell values.
package grid

import (
	"errors"
	"fmt"
	"math"
)

// DefaultNoData is the no-data marker written to every output grid.
const DefaultNoData = -9999.0

// ErrInvalidHeader reports dimensions or cell sizes that cannot describe a grid.
var ErrInvalidHeader = errors.New("grid: invalid header")

// maxCells bounds NCols*NRows; 1<<27 float64 cells is 1 GiB.
const maxCells = 1 << 27

// Header describes a grid's shape and georeferencing.
type Header struct {
	NCols, NRows int
	XLLCorner    float64 // west edge
	YLLCorner    float64 // south edge
	CellSize     float64
	NoData       float64
	Prj          string // WKT or PROJ.4; empty when unknown
}

// Validate checks the header describes at least one cell.
func (h Header) Validate() error {
	if h.NCols <= 0 || h.NRows <= 0 {
		return fmt.Errorf("%w: %dx%d cells", ErrInvalidHeader, h.NCols, h.NRows)
	}
	if h.NCols > maxCells || h.NRows > maxCells || int64(h.NCols)*int64(h.NRows) > maxCells {
		return fmt.Errorf("%w: %dx%d cells exceeds limit %d", ErrInvalidHeader, h.NCols, h.NRows, maxCells)
	}
	if !(h.CellSize > 0) || math.IsInf(h.CellSize, 0) {
		return fmt.Errorf("%w: cell size %g", ErrInvalidHeader, h.CellSize)
	}
	return nil
}

// Len is the number of cells.
func (h Header) Len() int { return h.NCols * h.NRows }

// CellCenter returns the centre of cell (r, c); row 0 is the southern row.
func (h Header) CellCenter(r, c int) (x, y float64) {
	return h.XLLCorner + (float64(c)+0.5)*h.CellSize, h.YLLCorner + (float64(r)+0.5)*h.CellSize
}

// Extent returns the bounding box of the grid edges.
func (h Header) Extent() (minX, minY, maxX, maxY float64) {
	return h.XLLCorner, h.YLLCorner,
		h.XLLCorner + float64(h.NCols)*h.CellSize,
		h.YLLCorner + float64(h.NRows)*h.CellSize
}

// GeoTransform returns the GDAL affine transform of the grid, whose origin
// is the north-west corner.
func (h Header) GeoTransform() [6]float64 {
	return [6]float64{
		h.XLLCorner, h.CellSize, 0,
		h.YLLCorner + float64(h.NRows)*h.CellSize, 0, -h.CellSize,
	}
}

// Grid is a header plus values. Data[r*NCols+c] holds cell (r, c) and row 0
// is the southernmost row.
type Grid struct {
	Header
	Data []float64
}

// New allocates a zero-valued grid.
func New(h Header) (*Grid, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &Grid{Header: h, Data: make([]float64, h.Len())}, nil
}

// NewFilled allocates a grid with every cell set to v.
func NewFilled(h Header, v float64) (*Grid, error) {
	g, err := New(h)
	if err != nil {
		return nil, err
	}
	g.Fill(v)
	return g, nil
}

// At returns cell (r, c). It panics when out of range.
func (g *Grid) At(r, c int) float64 { return g.Data[g.index(r, c)] }

// Set stores v at cell (r, c). It panics when out of range.
func (g *Grid) Set(r, c int, v float64) { g.Data[g.index(r, c)] = v }

func (g *Grid) index(r, c int) int {
	if r < 0 || r >= g.NRows || c < 0 || c >= g.NCols {
		panic(fmt.Sprintf("grid: cell (%d, %d) outside %dx%d", r, c, g.NRows, g.NCols))
	}
	return r*g.NCols + c
}

// SameShape reports whether o covers the same cells as g.
func (g *Grid) SameShape(o *Grid) bool {
	return g.NCols == o.NCols && g.NRows == o.NRows &&
		g.XLLCorner == o.XLLCorner && g.YLLCorner == o.YLLCorner &&
		g.CellSize == o.CellSize
}

// SetHeaderFrom copies o's header and reallocates g's data to match.
func (g *Grid) SetHeaderFrom(o *Grid) {
	g.Header = o.Header
	g.Data = make([]float64, o.Len())
}

// Fill sets every cell to v.
func (g *Grid) Fill(v float64) {
	for i := range g.Data {
		g.Data[i] = v
	}
}

// ReplaceNaN sets every NaN cell to v.
func (g *Grid) ReplaceNaN(v float64) {
	for i, x := range g.Data {
		if math.IsNaN(x) {
			g.Data[i] = v
		}
	}
}

// Map replaces every cell with f(cell).
func (g *Grid) Map(f func(float64) float64) {
	for i, x := range g.Data {
		g.Data[i] = f(x)
	}
}

// MinMax returns the extreme values, skipping NoData and NaN cells. ok is
// false when no cell holds data.
func (g *Grid) MinMax() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, x := range g.Data {
		if math.IsNaN(x) || x == g.NoData {
			continue
		}
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
		ok = true
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}

// NorthUp returns the values with the northern row first, the order raster
// files store them in.
func (g *Grid) NorthUp() []float64 {
	out := make([]float64, 0, len(g.Data))
	for r := g.NRows - 1; r >= 0; r-- {
		out = append(out, g.Data[r*g.NCols:(r+1)*g.NCols]...)
	}
	return out
}

// FromNorthUp builds a grid from values stored northern row first.
func FromNorthUp(h Header, vals []float64) (*Grid, error) {
	g, err := New(h)
	if err != nil {
		return nil, err
	}
	if len(vals) != h.Len() {
		return nil, fmt.Errorf("grid: %d values for %dx%d cells", len(vals), h.NCols, h.NRows)
	}
	for r := 0; r < h.NRows; r++ {
		src := (h.NRows - 1 - r) * h.NCols
		copy(g.Data[r*h.NCols:(r+1)*h.NCols], vals[src:src+h.NCols])
	}
	return g, nil
}
