package grid

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/geal-ai/ninjagrid/internal/geotiff"
)

// ReadFile reads a grid, choosing the format from the file extension:
// .asc is an Esri ASCII grid, .tif and .tiff are GeoTIFFs (band 1).
func ReadFile(path string) (*Grid, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asc":
		return ReadASCIIFile(path)
	case ".tif", ".tiff":
		img, err := geotiff.ReadFile(path)
		if err != nil {
			return nil, err
		}
		g, err := FromImage(img, 1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return g, nil
	}
	return nil, fmt.Errorf("%s: unrecognized grid file extension", path)
}

// HeaderFromGeoTransform builds a header for a north-up raster of the given
// size. Rotated rasters and non-square cells cannot be represented.
func HeaderFromGeoTransform(gt [6]float64, width, height int) (Header, error) {
	if gt[2] != 0 || gt[4] != 0 {
		return Header{}, fmt.Errorf("%w: rotated geotransform", ErrInvalidHeader)
	}
	dx, dy := gt[1], -gt[5]
	if dx <= 0 || dy <= 0 {
		return Header{}, fmt.Errorf("%w: raster is not north-up", ErrInvalidHeader)
	}
	if math.Abs(dx-dy) > 1e-9*dx {
		return Header{}, fmt.Errorf("%w: cells are %gx%g, not square", ErrInvalidHeader, dx, dy)
	}
	h := Header{
		NCols:     width,
		NRows:     height,
		XLLCorner: gt[0],
		YLLCorner: gt[3] - float64(height)*dy,
		CellSize:  dx,
		NoData:    DefaultNoData,
	}
	return h, h.Validate()
}

// FromImage returns band n (1-based) of img as a grid.
func FromImage(img *geotiff.Image, n int) (*Grid, error) {
	if n < 1 || n > len(img.Bands) {
		return nil, fmt.Errorf("grid: band %d out of range 1..%d", n, len(img.Bands))
	}
	h, err := HeaderFromGeoTransform(img.GeoTransform, img.Width, img.Height)
	if err != nil {
		return nil, err
	}
	if img.HasNoData {
		h.NoData = img.NoData
	}
	h.Prj = img.Projection
	return FromNorthUp(h, img.Bands[n-1].Data)
}

// Image returns a single-band GeoTIFF image of g.
func (g *Grid) Image() (*geotiff.Image, error) {
	img, err := geotiff.New(g.NCols, g.NRows)
	if err != nil {
		return nil, err
	}
	img.GeoTransform = g.GeoTransform()
	img.Projection = g.Prj
	img.NoData, img.HasNoData = g.NoData, true
	if _, err := img.AddBand(g.NorthUp()); err != nil {
		return nil, err
	}
	return img, nil
}
