package output

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/go-pdf/fpdf"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/geal-ai/ninjagrid/internal/grid"
	"github.com/geal-ai/ninjagrid/internal/observability"
)

// PDFOptions controls the page and symbology of PDF maps.
type PDFOptions struct {
	PageSize    string // fpdf size name: Letter, Legal, A4, A3, ...
	Orientation string // "L" or "P"
	Classes     int    // speed classes in the legend
	MaxArrows   int    // arrows along the longer side of the grid
}

// DefaultPDFOptions returns a landscape Letter page with five speed classes.
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{PageSize: "Letter", Orientation: "L", Classes: 5, MaxArrows: 40}
}

// Page layout, in points.
const (
	margin    = 36.0
	titleH    = 40.0
	legendW   = 140.0
	legendGap = 18.0
	legendRow = 14.0
	demImage  = "dem"
)

// speedRamp runs from calm to strong.
var speedRamp = [][3]float64{
	{0, 0, 255},
	{0, 255, 0},
	{255, 255, 0},
	{255, 127, 0},
	{255, 0, 0},
}

// classColor returns the colour of class k of n.
func classColor(k, n int) (r, g, b int) {
	t := 0.0
	if n > 1 {
		t = float64(k) / float64(n-1) * float64(len(speedRamp)-1)
	}
	i := min(int(t), len(speedRamp)-2)
	f := t - float64(i)
	lo, hi := speedRamp[i], speedRamp[i+1]
	mix := func(j int) int { return int(math.Round(lo[j] + f*(hi[j]-lo[j]))) }
	return mix(0), mix(1), mix(2)
}

// speedClasses splits [lo, hi] into n equal intervals.
type speedClasses struct {
	lo, hi float64
	n      int
}

func (sc speedClasses) of(s float64) int {
	if sc.hi <= sc.lo {
		return 0
	}
	k := int((s - sc.lo) / (sc.hi - sc.lo) * float64(sc.n))
	return max(0, min(k, sc.n-1))
}

func (sc speedClasses) bounds(k int) (float64, float64) {
	step := (sc.hi - sc.lo) / float64(sc.n)
	return sc.lo + float64(k)*step, sc.lo + float64(k+1)*step
}

// writePDF renders the point layer over the DEM background to filename.
func (w *Writer) writePDF(filename string) error {
	if w.demFile == "" {
		return fmt.Errorf("output: failed to open background file: no DEM set")
	}
	dem, err := grid.ReadFile(w.demFile)
	if err != nil {
		return fmt.Errorf("output: failed to open background file: %w", err)
	}
	fc, err := PointLayer(w.spd, w.dir)
	if err != nil {
		return err
	}
	pdf, err := w.renderPDF(dem, fc)
	if err != nil {
		return err
	}
	if err := pdf.OutputFileAndClose(filename); err != nil {
		return fmt.Errorf("output: error creating output file: %w", err)
	}
	return nil
}

// renderPDF lays out the map and legend.
func (w *Writer) renderPDF(dem *grid.Grid, fc *geojson.FeatureCollection) (*fpdf.Fpdf, error) {
	log := observability.OrNop(w.Logger)
	o := w.PDF
	if o.Classes < 1 {
		o.Classes = 1
	}
	if o.MaxArrows < 1 {
		o.MaxArrows = DefaultPDFOptions().MaxArrows
	}

	pdf := fpdf.New(o.Orientation, "pt", o.PageSize, "")
	if pdf.Err() {
		return nil, fmt.Errorf("output: %w", pdf.Error())
	}
	pdf.SetTitle("Wind speed and direction", false)
	pdf.SetCreator("ninjagrid", false)
	if !w.ninjaTime.IsZero() {
		pdf.SetCreationDate(w.ninjaTime)
		pdf.SetModificationDate(w.ninjaTime)
	}
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)
	pdf.AddPage()
	pw, ph := pdf.GetPageSize()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetXY(margin, margin)
	pdf.CellFormat(pw-2*margin, 20, "Wind speed and direction", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	when := "Time: unknown"
	if !w.ninjaTime.IsZero() {
		when = "Time: " + w.ninjaTime.Format("2006-01-02 15:04 MST")
	}
	pdf.CellFormat(pw-2*margin, 14, when, "", 1, "L", false, 0, "")

	// Map frame, fitted to the speed grid's extent.
	minX, minY, maxX, maxY := w.spd.Extent()
	x0, y0 := margin, margin+titleH
	availW := pw - 2*margin - legendW - legendGap
	availH := ph - y0 - margin
	scale := math.Min(availW/(maxX-minX), availH/(maxY-minY))
	mapW, mapH := (maxX-minX)*scale, (maxY-minY)*scale
	page := func(x, y float64) (float64, float64) {
		return x0 + (x-minX)*scale, y0 + (maxY-y)*scale
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, shade(dem)); err != nil {
		return nil, fmt.Errorf("output: shade background: %w", err)
	}
	pdf.RegisterImageOptionsReader(demImage, fpdf.ImageOptions{ImageType: "PNG"}, &buf)
	dMinX, dMinY, dMaxX, dMaxY := dem.Extent()
	dx, dy := page(dMinX, dMaxY)
	pdf.ClipRect(x0, y0, mapW, mapH, false)
	pdf.ImageOptions(demImage, dx, dy, (dMaxX-dMinX)*scale, (dMaxY-dMinY)*scale,
		false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")

	lo, hi, _ := w.spd.MinMax()
	classes := speedClasses{lo: lo, hi: hi, n: o.Classes}
	stride := int(math.Ceil(float64(max(w.spd.NCols, w.spd.NRows)) / float64(o.MaxArrows)))
	stride = max(stride, 1)
	length := 0.8 * float64(stride) * w.spd.CellSize * scale
	pdf.SetLineWidth(0.8)
	var drawn int
	for k, f := range fc.Features {
		r, c := k/w.spd.NCols, k%w.spd.NCols
		if r%stride != 0 || c%stride != 0 {
			continue
		}
		s := f.Properties.MustFloat64(FieldSpeed)
		if s == w.spd.NoData || math.IsNaN(s) || w.dir.At(r, c) == w.dir.NoData {
			continue
		}
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		cr, cg, cb := classColor(classes.of(s), classes.n)
		pdf.SetDrawColor(cr, cg, cb)
		pdf.SetFillColor(cr, cg, cb)
		px, py := page(pt.X(), pt.Y())
		arrow(pdf, px, py, float64(f.Properties.MustInt(FieldQGISDir)), length)
		drawn++
	}
	pdf.ClipEnd()
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(0.5)
	pdf.Rect(x0, y0, mapW, mapH, "D")

	// Legend, continued on new pages when it runs past the bottom margin.
	lx, ly := pw-margin-legendW, y0
	legendHeader := func(title string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.SetTextColor(0, 0, 0)
		pdf.Text(lx, ly+10, title)
		ly += legendRow + 4
		pdf.SetFont("Helvetica", "", 9)
	}
	legendHeader("Speed (m/s)")
	for k := classes.n - 1; k >= 0; k-- {
		if ly+legendRow > ph-margin {
			pdf.AddPage()
			ly = margin
			legendHeader("Speed (m/s), continued")
		}
		cr, cg, cb := classColor(k, classes.n)
		pdf.SetFillColor(cr, cg, cb)
		pdf.Rect(lx, ly, 10, 10, "F")
		a, b := classes.bounds(k)
		pdf.Text(lx+16, ly+9, fmt.Sprintf("%.1f - %.1f", a, b))
		ly += legendRow
	}

	if pdf.Err() {
		return nil, fmt.Errorf("output: render PDF: %w", pdf.Error())
	}
	log.Debug("rendered PDF map",
		zap.Int("arrows", drawn), zap.Int("stride", stride), zap.Int("pages", pdf.PageCount()))
	return pdf, nil
}

// arrow draws an arrow centred on (x, y) pointing toward bearing degrees
// clockwise from north.
func arrow(pdf *fpdf.Fpdf, x, y, bearing, length float64) {
	rad := bearing * math.Pi / 180
	ux, uy := math.Sin(rad), -math.Cos(rad)
	tx, ty := x-ux*length/2, y-uy*length/2
	hx, hy := x+ux*length/2, y+uy*length/2
	pdf.Line(tx, ty, hx, hy)
	head := length / 3
	bx, by := hx-ux*head, hy-uy*head
	pdf.Polygon([]fpdf.PointType{
		{X: hx, Y: hy},
		{X: bx - uy*head/2, Y: by + ux*head/2},
		{X: bx + uy*head/2, Y: by - ux*head/2},
	}, "F")
}

// Light source of the background shading.
const (
	sunAzimuth  = 315.0
	sunAltitude = 45.0
)

// shade returns a grey hillshade of dem, northern row first. No-data cells
// are white.
func shade(dem *grid.Grid) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, dem.NCols, dem.NRows))
	lo, hi, ok := dem.MinMax()
	if !ok || hi <= lo {
		hi = lo + 1
	}
	az, alt := sunAzimuth*math.Pi/180, sunAltitude*math.Pi/180
	lx, ly, lz := math.Sin(az)*math.Cos(alt), math.Cos(az)*math.Cos(alt), math.Sin(alt)
	z := func(r, c int) float64 {
		r = max(0, min(r, dem.NRows-1))
		c = max(0, min(c, dem.NCols-1))
		v := dem.At(r, c)
		if v == dem.NoData || math.IsNaN(v) {
			return lo
		}
		return v
	}
	for r := 0; r < dem.NRows; r++ {
		for c := 0; c < dem.NCols; c++ {
			v := dem.At(r, c)
			if v == dem.NoData || math.IsNaN(v) {
				img.SetGray(c, dem.NRows-1-r, color.Gray{Y: 255})
				continue
			}
			dzdx := (z(r, c+1) - z(r, c-1)) / (2 * dem.CellSize)
			dzdy := (z(r+1, c) - z(r-1, c)) / (2 * dem.CellSize)
			n := math.Sqrt(dzdx*dzdx + dzdy*dzdy + 1)
			light := math.Max(0, (-dzdx*lx-dzdy*ly+lz)/n)
			elev := (v - lo) / (hi - lo)
			y := 80 + 175*(0.7*light+0.3*elev)
			img.SetGray(c, dem.NRows-1-r, color.Gray{Y: uint8(math.Min(255, y))})
		}
	}
	return img
}
