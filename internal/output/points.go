package output

import (
	"fmt"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/geal-ai/ninjagrid/internal/grid"
)

// Point layer field names.
const (
	FieldSpeed   = "speed"
	FieldDir     = "dir"
	FieldAVDir   = "AV_dir"
	FieldAMDir   = "AM_dir"
	FieldQGISDir = "QGIS_dir"
)

// Bearings are the integer arrow directions stored with each point.
type Bearings struct {
	Dir  int // direction the wind blows from
	QGIS int // direction the wind blows to
	AV   int // counter-clockwise from north, for ArcView symbol rotation
	AM   int // QGIS rotated a quarter turn, for ArcMap symbol rotation
}

// wrap maps deg into [0, 360).
func wrap(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// round rounds to the nearest integer bearing, with 360 folded to 0.
func round(deg float64) int {
	return int(math.Round(deg)) % 360
}

// BearingsFor derives the stored bearings from a wind direction in degrees.
func BearingsFor(d float64) Bearings {
	to := wrap(d + 180)
	return Bearings{
		Dir:  int(math.Round(d)),
		QGIS: round(to),
		AV:   round(wrap(360 - to)),
		AM:   round(wrap(to - 90)),
	}
}

// PointLayer returns one feature per cell centre holding the speed and the
// direction bearings.
func PointLayer(spd, dir *grid.Grid) (*geojson.FeatureCollection, error) {
	if !spd.SameShape(dir) {
		return nil, ErrGridMismatch
	}
	fc := geojson.NewFeatureCollection()
	for r := 0; r < spd.NRows; r++ {
		for c := 0; c < spd.NCols; c++ {
			s, d := spd.At(r, c), dir.At(r, c)
			x, y := spd.CellCenter(r, c)
			b := BearingsFor(d)
			f := geojson.NewFeature(orb.Point{x, y})
			f.Properties[FieldSpeed] = s
			f.Properties[FieldDir] = b.Dir
			f.Properties[FieldAVDir] = b.AV
			f.Properties[FieldAMDir] = b.AM
			f.Properties[FieldQGISDir] = b.QGIS
			fc.Append(f)
		}
	}
	return fc, nil
}

// writeGeoJSON writes the point layer to filename and the speed grid's
// projection to its .prj sidecar.
func (w *Writer) writeGeoJSON(filename string) error {
	fc, err := PointLayer(w.spd, w.dir)
	if err != nil {
		return err
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("output: encode point layer: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if w.spd.Prj != "" {
		if err := os.WriteFile(grid.PrjPath(filename), []byte(w.spd.Prj), 0o644); err != nil {
			return fmt.Errorf("output: %w", err)
		}
	}
	return nil
}
