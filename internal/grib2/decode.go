package grib2

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Field is a decoded GRIB2 field: a Lambert conformal grid + float64 values.
// Values are row-major, vals[j*Grid.Ni + i], with j=0 the southern row.
// Points masked by a bitmap are NaN.
type Field struct {
	Grid LambertGrid
	Vals []float64
}

// Lookup returns the nearest-neighbour value at (lat°N, lon°E).
func (f *Field) Lookup(lat, lon float64) float64 {
	return f.Grid.Lookup(lat, lon, f.Vals)
}

// rawField is one Section 7 together with the sections in force when it was
// read. Sections 2-7 may repeat inside a message; sections that do not
// repeat carry over to the next field.
type rawField struct {
	product Product
	grid    *LambertGrid
	sec5    []byte
	bitmap  []byte // nil when every point has data
	sec7    []byte
}

// DecodeMessage decodes the first field of a raw GRIB2 message.
func DecodeMessage(raw []byte) (*Field, error) {
	fields, _, err := splitMessage(raw)
	if err != nil {
		return nil, err
	}
	return fields[0].decode()
}

// splitMessage walks one message at the start of raw and returns its fields
// along with the message length.
func splitMessage(raw []byte) ([]rawField, int, error) {
	s0, err := parseSection0(raw)
	if err != nil {
		return nil, 0, err
	}
	if s0.TotalLength < 16 {
		return nil, 0, fmt.Errorf("section 0: total length %d shorter than indicator", s0.TotalLength)
	}
	if s0.TotalLength > uint64(len(raw)) {
		return nil, 0, fmt.Errorf("section 0: message length %d exceeds available %d bytes (truncated)",
			s0.TotalLength, len(raw))
	}
	msg := raw[:s0.TotalLength]

	var (
		fields  []rawField
		refTime time.Time
		cur     = rawField{product: Product{Discipline: s0.Discipline}}
		prevMap []byte
		hasDRS  bool
	)

	for off := 16; off < len(msg); {
		_, sNum, sec, next, err := sectionAt(msg, off)
		if err != nil {
			return nil, 0, err
		}
		if sNum == 8 {
			break
		}

		switch sNum {
		case 1:
			refTime, err = parseSection1(sec)
			if err != nil {
				return nil, 0, err
			}
		case 2:
			// local use
		case 3:
			s3, err := parseSection3HRRR(sec)
			if err != nil {
				return nil, 0, fmt.Errorf("section 3: %w", err)
			}
			g := s3.Grid
			cur.grid = &g
		case 4:
			if err := parseSection4(sec, &cur.product); err != nil {
				return nil, 0, err
			}
		case 5:
			if len(sec) < 11 {
				return nil, 0, fmt.Errorf("section 5 too short")
			}
			switch tmpl := binary.BigEndian.Uint16(sec[9:11]); tmpl {
			case 0, 3:
			default:
				return nil, 0, fmt.Errorf("unsupported DRS template %d (supported: 5.0, 5.3)", tmpl)
			}
			cur.sec5 = sec
			hasDRS = true
		case 6:
			if len(sec) < 6 {
				return nil, 0, fmt.Errorf("section 6 too short")
			}
			switch sec[5] {
			case 255:
				cur.bitmap = nil
			case 0:
				cur.bitmap = sec[6:]
				prevMap = cur.bitmap
			case 254:
				if prevMap == nil {
					return nil, 0, fmt.Errorf("bitmap section: indicator 254 with no previous bitmap")
				}
				cur.bitmap = prevMap
			default:
				return nil, 0, fmt.Errorf("bitmap section: unsupported indicator %d", sec[5])
			}
		case 7:
			if cur.grid == nil {
				return nil, 0, fmt.Errorf("no Section 3 found in message")
			}
			if !hasDRS {
				return nil, 0, fmt.Errorf("no Section 5 found in message")
			}
			cur.sec7 = sec
			cur.product.RefTime = refTime
			fields = append(fields, cur)
		default:
			return nil, 0, fmt.Errorf("unexpected section %d at offset %d", sNum, off)
		}
		off = next
	}

	if len(fields) == 0 {
		if cur.grid == nil {
			return nil, 0, fmt.Errorf("no Section 3 found in message")
		}
		if !hasDRS {
			return nil, 0, fmt.Errorf("no Section 5 found in message")
		}
		return nil, 0, fmt.Errorf("no Section 7 found in message")
	}
	return fields, len(msg), nil
}

// decode unpacks the data section and expands the bitmap.
func (rf rawField) decode() (*Field, error) {
	grid := rf.grid
	var (
		vals []float64
		err  error
	)
	switch tmpl := binary.BigEndian.Uint16(rf.sec5[9:11]); tmpl {
	case 0:
		p, perr := parseDRS0(rf.sec5)
		if perr != nil {
			return nil, fmt.Errorf("section 5: %w", perr)
		}
		vals, err = unpackDRS0(rf.sec7, p)
		if err != nil {
			return nil, fmt.Errorf("unpack DRS 5.0: %w", err)
		}
	case 3:
		p, perr := parseDRS53(rf.sec5)
		if perr != nil {
			return nil, fmt.Errorf("section 5: %w", perr)
		}
		vals, err = unpackDRS53(rf.sec7, p)
		if err != nil {
			return nil, fmt.Errorf("unpack DRS 5.3: %w", err)
		}
	}

	// int64 keeps the product from overflowing on 32-bit platforms.
	expected64 := int64(grid.Ni) * int64(grid.Nj)
	if expected64 > maxTotal {
		return nil, fmt.Errorf("grid %dx%d exceeds maximum %d points", grid.Ni, grid.Nj, maxTotal)
	}
	if rf.bitmap != nil {
		vals, err = applyBitmap(vals, rf.bitmap, int(expected64))
		if err != nil {
			return nil, fmt.Errorf("applying bitmap: %w", err)
		}
	}
	if int64(len(vals)) != expected64 {
		return nil, fmt.Errorf("decoded %d values, expected %d (%dx%d)",
			len(vals), expected64, grid.Ni, grid.Nj)
	}
	return &Field{Grid: *grid, Vals: vals}, nil
}
