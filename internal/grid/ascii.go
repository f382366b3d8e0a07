package grid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
)

// ReadASCII parses an Esri ASCII grid. The first data row in the file is the
// northern row. xllcenter/yllcenter headers are converted to corners.
func ReadASCII(r io.Reader) (*Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64<<20)
	sc.Split(bufio.ScanLines)

	var (
		h        = Header{NoData: DefaultNoData}
		lineNo   int
		seen     = map[string]bool{}
		xCenter  bool
		yCenter  bool
		firstRow []string
	)
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		key := strings.ToLower(fields[0])
		if len(key) == 0 || !(key[0] >= 'a' && key[0] <= 'z') {
			firstRow = fields
			break
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: header %q: want key and value", lineNo, fields[0])
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: header %q: %w", lineNo, fields[0], err)
		}
		switch key {
		case "ncols", "nrows":
			if v != math.Trunc(v) || v < 1 || v > maxCells {
				return nil, fmt.Errorf("line %d: %w: %s %s", lineNo, ErrInvalidHeader, fields[0], fields[1])
			}
			if key == "ncols" {
				h.NCols = int(v)
			} else {
				h.NRows = int(v)
			}
		case "xllcorner":
			h.XLLCorner = v
		case "yllcorner":
			h.YLLCorner = v
		case "xllcenter":
			h.XLLCorner, xCenter = v, true
		case "yllcenter":
			h.YLLCorner, yCenter = v, true
		case "cellsize":
			h.CellSize = v
		case "nodata_value":
			h.NoData = v
		default:
			return nil, fmt.Errorf("line %d: unknown header %q", lineNo, fields[0])
		}
		seen[key] = true
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for _, k := range []string{"ncols", "nrows", "cellsize"} {
		if !seen[k] {
			return nil, fmt.Errorf("missing header %q", k)
		}
	}
	if xCenter {
		h.XLLCorner -= h.CellSize / 2
	}
	if yCenter {
		h.YLLCorner -= h.CellSize / 2
	}

	g, err := New(h)
	if err != nil {
		return nil, err
	}

	// Values may wrap across lines; count them rather than lines.
	n := 0
	total := h.Len()
	put := func(tok string) error {
		if n >= total {
			return fmt.Errorf("line %d: more than %d values", lineNo, total)
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		row := h.NRows - 1 - n/h.NCols
		g.Data[row*h.NCols+n%h.NCols] = v
		n++
		return nil
	}
	for _, tok := range firstRow {
		if err := put(tok); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		lineNo++
		for _, tok := range strings.Fields(sc.Text()) {
			if err := put(tok); err != nil {
				return nil, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if n != total {
		return nil, fmt.Errorf("got %d values, want %d (%d rows x %d cols)", n, total, h.NRows, h.NCols)
	}
	return g, nil
}

// WriteASCII writes g as an Esri ASCII grid, northern row first.
func (g *Grid) WriteASCII(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols         %d\n", g.NCols)
	fmt.Fprintf(bw, "nrows         %d\n", g.NRows)
	fmt.Fprintf(bw, "xllcorner     %s\n", formatFloat(g.XLLCorner))
	fmt.Fprintf(bw, "yllcorner     %s\n", formatFloat(g.YLLCorner))
	fmt.Fprintf(bw, "cellsize      %s\n", formatFloat(g.CellSize))
	fmt.Fprintf(bw, "NODATA_value  %s\n", formatFloat(g.NoData))
	for r := g.NRows - 1; r >= 0; r-- {
		row := g.Data[r*g.NCols : (r+1)*g.NCols]
		for c, v := range row {
			if c > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(formatFloat(v))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// PrjPath returns the projection sidecar path for a grid file.
func PrjPath(path string) string {
	if i := strings.LastIndexByte(path, '.'); i > strings.LastIndexByte(path, os.PathSeparator) {
		return path[:i] + ".prj"
	}
	return path + ".prj"
}

// ReadASCIIFile reads an Esri ASCII grid and its optional .prj sidecar.
func ReadASCIIFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	g, err := ReadASCII(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	prj, err := os.ReadFile(PrjPath(path))
	switch {
	case err == nil:
		g.Prj = strings.TrimSpace(string(prj))
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	return g, nil
}

// WriteASCIIFile writes g to path and, when g has a projection, a .prj sidecar.
func (g *Grid) WriteASCIIFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := g.WriteASCII(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if g.Prj == "" {
		return nil
	}
	return os.WriteFile(PrjPath(path), []byte(g.Prj+"\n"), 0o644)
}
