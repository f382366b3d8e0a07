// Package output writes simulated wind grids as GeoTIFF time series, GeoJSON
// point layers, or PDF maps over a DEM background.
package output

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/geal-ai/ninjagrid/internal/grid"
	"github.com/geal-ai/ninjagrid/internal/observability"
)

// Format selects the kind of file Write produces.
type Format int

const (
	GTiff Format = iota
	PDF
	GeoJSON
)

var formatNames = []string{"GTiff", "PDF", "GeoJSON"}

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

var (
	ErrUnsupportedFormat = errors.New("output: unrecognized output format")
	ErrGridMismatch      = errors.New("output: grid dimensions do not match")
	ErrMissingGrid       = errors.New("output: speed and direction grids are required")
)

// ParseFormat returns the format with the given driver name. Matching is
// case-insensitive.
func ParseFormat(s string) (Format, error) {
	for k, name := range formatNames {
		if strings.EqualFold(s, name) {
			return Format(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// tiffTime is the layout of the TIFF DateTime tag.
const tiffTime = "2006:01:02 15:04:05"

// Writer turns one time step of speed and direction grids into files. Set
// the grids before calling Write; a Writer may be reused across time steps.
type Writer struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	NoData  float64
	PDF     PDFOptions

	spd, dir, dust *grid.Grid
	demFile        string
	ninjaTime      time.Time
}

// NewWriter returns a writer with -9999 nodata and a landscape Letter page.
func NewWriter() *Writer {
	return &Writer{NoData: grid.DefaultNoData, PDF: DefaultPDFOptions()}
}

func (w *Writer) SetSpeedGrid(g *grid.Grid) { w.spd = g }
func (w *Writer) SetDirGrid(g *grid.Grid)   { w.dir = g }
func (w *Writer) SetDustGrid(g *grid.Grid)  { w.dust = g }

// SetDEMFile names the elevation grid drawn under PDF maps.
func (w *Writer) SetDEMFile(path string) { w.demFile = path }

// SetNinjaTime sets the simulation time of the grids.
func (w *Writer) SetNinjaTime(t time.Time) { w.ninjaTime = t }

// timeString is the simulation time as stored in TIFF tags, or "" when unset.
func (w *Writer) timeString() string {
	if w.ninjaTime.IsZero() {
		return ""
	}
	return w.ninjaTime.UTC().Format(tiffTime)
}

// check validates the speed and direction grids.
func (w *Writer) check() error {
	if w.spd == nil || w.dir == nil {
		return ErrMissingGrid
	}
	if !w.spd.SameShape(w.dir) {
		return fmt.Errorf("%w: speed is %dx%d, direction is %dx%d",
			ErrGridMismatch, w.spd.NCols, w.spd.NRows, w.dir.NCols, w.dir.NRows)
	}
	if w.dust != nil && !w.spd.SameShape(w.dust) {
		return fmt.Errorf("%w: dust is %dx%d", ErrGridMismatch, w.dust.NCols, w.dust.NRows)
	}
	return nil
}

// Write writes the current grids to filename in format f.
func (w *Writer) Write(filename string, f Format) (err error) {
	defer func() {
		if w.Metrics != nil {
			w.Metrics.OutputsWritten.WithLabelValues(f.String(), observability.Outcome(err)).Inc()
		}
	}()
	if err := w.check(); err != nil {
		return err
	}
	switch f {
	case GTiff:
		err = w.writeGTiffs(filename)
	case PDF:
		err = w.writePDF(filename)
	case GeoJSON:
		err = w.writeGeoJSON(filename)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return err
	}
	observability.OrNop(w.Logger).Debug("wrote output",
		zap.String("path", filename), zap.Stringer("format", f), zap.Time("time", w.ninjaTime))
	return nil
}
