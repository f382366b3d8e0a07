package output

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/geal-ai/ninjagrid/internal/geotiff"
	"github.com/geal-ai/ninjagrid/internal/grid"
	"github.com/geal-ai/ninjagrid/internal/observability"
)

// MetaDT is the band metadata key holding a band's offset in hours from the
// file's TIFFTAG_DATETIME.
const MetaDT = "DT"

// SeriesPath inserts suffix before the ".tif" of filename.
func SeriesPath(filename, suffix string) (string, error) {
	i := strings.LastIndex(filename, ".tif")
	if i < 0 {
		return "", fmt.Errorf("output: GeoTIFF file name %q has no .tif extension", filename)
	}
	return filename[:i] + suffix + filename[i:], nil
}

// writeGTiffs writes one series file per grid: _spd, _dir and, when set, _dust.
func (w *Writer) writeGTiffs(filename string) error {
	series := []struct {
		suffix string
		g      *grid.Grid
	}{
		{"_spd", w.spd},
		{"_dir", w.dir},
		{"_dust", w.dust},
	}
	for _, s := range series {
		if s.g == nil {
			continue
		}
		path, err := SeriesPath(filename, s.suffix)
		if err != nil {
			return err
		}
		if err := w.writeGTiff(path, s.g); err != nil {
			return fmt.Errorf("output: %s: %w", path, err)
		}
	}
	return nil
}

// bandData returns g north-up with its nodata cells set to w.NoData.
func (w *Writer) bandData(g *grid.Grid) []float64 {
	vals := g.NorthUp()
	for i, v := range vals {
		if math.IsNaN(v) || v == g.NoData {
			vals[i] = w.NoData
		}
	}
	return vals
}

// writeGTiff creates path with g as band 1, or appends g as a new band when
// path already exists.
func (w *Writer) writeGTiff(path string, g *grid.Grid) error {
	log := observability.OrNop(w.Logger)
	img, err := geotiff.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		img, err = g.Image()
		if err != nil {
			return err
		}
		if ts := w.timeString(); ts != "" {
			img.Metadata[geotiff.MetaDateTime] = ts
		}
		b := img.Bands[0]
		b.Data = w.bandData(g)
		b.Metadata[MetaDT] = "0"
		log.Debug("created GeoTIFF series", zap.String("path", path))
	case err != nil:
		return err
	default:
		if img.Width != g.NCols || img.Height != g.NRows {
			return fmt.Errorf("%w: file is %dx%d, grid is %dx%d",
				ErrGridMismatch, img.Width, img.Height, g.NCols, g.NRows)
		}
		b, err := img.AddBand(w.bandData(g))
		if err != nil {
			return err
		}
		b.Metadata[MetaDT] = w.offset(img.Metadata[geotiff.MetaDateTime])
		log.Debug("appended GeoTIFF band",
			zap.String("path", path), zap.Int("band", len(img.Bands)), zap.String("dt", b.Metadata[MetaDT]))
	}
	img.NoData, img.HasNoData = w.NoData, true
	return geotiff.WriteFile(path, img)
}

// offset returns the hours between start and the simulation time. When
// either time is unknown the simulation time string is returned as is.
func (w *Writer) offset(start string) string {
	t0, err := time.Parse(tiffTime, start)
	if err != nil || w.ninjaTime.IsZero() {
		return w.timeString()
	}
	return strconv.FormatFloat(w.ninjaTime.Sub(t0).Hours(), 'g', -1, 64)
}
