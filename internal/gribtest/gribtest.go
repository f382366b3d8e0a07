// Package gribtest builds small synthetic GRIB2 files for tests: a Lambert
// conformal grid, simple packing and an optional bitmap for NaN points.
package gribtest

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/geal-ai/ninjagrid/internal/grib2"
)

// Surface types used by HRRR surface files (Code Table 4.5).
const (
	SurfaceGround    = 1
	SurfaceCloudTop  = 3
	SurfaceAboveGnd  = 103
	SurfaceAtmosWide = 10
)

// Field describes one GRIB2 field to encode.
type Field struct {
	Discipline byte
	Category   byte
	Number     byte

	SurfaceType  byte
	SurfaceValue int32
	SurfaceScale int8
	NoSurfaceVal bool // encode scale and value as missing

	RefTime       time.Time
	ForecastHours uint32

	Grid   grib2.LambertGrid
	Values []float64 // len Ni*Nj, row-major south to north; NaN is masked
}

// Grid returns an ni×nj 3 km Lambert grid near the HRRR central meridian.
func Grid(ni, nj int) grib2.LambertGrid {
	return grib2.LambertGrid{
		Ni:       ni,
		Nj:       nj,
		La1:      35,
		Lo1:      262,
		LaD:      38.5,
		LoV:      262.5,
		Latin1:   38.5,
		Latin2:   38.5,
		Dx:       3000,
		Dy:       3000,
		ScanMode: 0x40,
	}
}

// RefTime is the default model run used by the helpers.
var RefTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Temperature2m is TMP at 2 m above ground.
func Temperature2m(g grib2.LambertGrid, vals []float64) Field {
	return Field{Category: 0, Number: 0, SurfaceType: SurfaceAboveGnd, SurfaceValue: 2, Grid: g, Values: vals, RefTime: RefTime}
}

// UWind10m is UGRD at 10 m above ground.
func UWind10m(g grib2.LambertGrid, vals []float64) Field {
	return Field{Category: 2, Number: 2, SurfaceType: SurfaceAboveGnd, SurfaceValue: 10, Grid: g, Values: vals, RefTime: RefTime}
}

// VWind10m is VGRD at 10 m above ground.
func VWind10m(g grib2.LambertGrid, vals []float64) Field {
	return Field{Category: 2, Number: 3, SurfaceType: SurfaceAboveGnd, SurfaceValue: 10, Grid: g, Values: vals, RefTime: RefTime}
}

// CloudTopHeight is HGT at the cloud top.
func CloudTopHeight(g grib2.LambertGrid, vals []float64) Field {
	return Field{Category: 3, Number: 5, SurfaceType: SurfaceCloudTop, NoSurfaceVal: true, Grid: g, Values: vals, RefTime: RefTime}
}

// Filler is a constant surface pressure field used to pad band layouts.
func Filler(g grib2.LambertGrid) Field {
	return Field{Category: 3, Number: 0, SurfaceType: SurfaceGround, Grid: g, Values: Const(g, 101325), RefTime: RefTime}
}

// Const returns a field of ni*nj copies of v.
func Const(g grib2.LambertGrid, v float64) []float64 {
	out := make([]float64, g.Ni*g.Nj)
	for i := range out {
		out[i] = v
	}
	return out
}

// Ramp returns base + k for point k.
func Ramp(g grib2.LambertGrid, base float64) []float64 {
	out := make([]float64, g.Ni*g.Nj)
	for i := range out {
		out[i] = base + float64(i)
	}
	return out
}

// Hours sets the forecast offset.
func (f Field) Hours(h uint32) Field {
	f.ForecastHours = h
	return f
}

// Message encodes all fields into one GRIB2 message, repeating Sections 3-7
// for each field. The discipline and reference time come from the first.
func Message(fields ...Field) []byte {
	first := fields[0]
	msg := make([]byte, 16, 1024)
	copy(msg, "GRIB")
	msg[6] = first.Discipline
	msg[7] = 2
	msg = append(msg, section1(first.RefTime)...)
	for _, f := range fields {
		msg = append(msg, section3(f.Grid)...)
		msg = append(msg, section4(f)...)
		s5, s6, s7 := pack(f.Values)
		msg = append(msg, s5...)
		msg = append(msg, s6...)
		msg = append(msg, s7...)
	}
	msg = append(msg, "7777"...)
	binary.BigEndian.PutUint64(msg[8:16], uint64(len(msg)))
	return msg
}

// File encodes each field as its own message, the layout NOAA uses.
func File(fields ...Field) []byte {
	var out []byte
	for _, f := range fields {
		out = append(out, Message(f)...)
	}
	return out
}

// Layout returns total fields where position n (1-based) holds placed[n]
// and every other position holds filler.
func Layout(total int, placed map[int]Field, filler Field) []Field {
	out := make([]Field, total)
	for i := range out {
		if f, ok := placed[i+1]; ok {
			out[i] = f
		} else {
			out[i] = filler
		}
	}
	return out
}

func header(n int, num byte) []byte {
	b := make([]byte, n)
	binary.BigEndian.PutUint32(b[0:4], uint32(n))
	b[4] = num
	return b
}

func section1(t time.Time) []byte {
	s := header(21, 1)
	binary.BigEndian.PutUint16(s[5:7], 7) // NCEP
	s[9] = 2
	s[10] = 1
	s[11] = 1 // start of forecast
	t = t.UTC()
	binary.BigEndian.PutUint16(s[12:14], uint16(t.Year()))
	s[14] = byte(t.Month())
	s[15] = byte(t.Day())
	s[16] = byte(t.Hour())
	s[17] = byte(t.Minute())
	s[18] = byte(t.Second())
	s[20] = 1
	return s
}

func section3(g grib2.LambertGrid) []byte {
	s := header(81, 3)
	binary.BigEndian.PutUint32(s[6:10], uint32(g.Ni*g.Nj))
	binary.BigEndian.PutUint16(s[12:14], 30)
	t := s[14:]
	t[0] = 6
	lon := func(v float64) uint32 {
		if v < 0 {
			v += 360
		}
		return uint32(math.Round(v * 1e6))
	}
	lat := func(v float64) uint32 { return uint32(int32(math.Round(v * 1e6))) }
	binary.BigEndian.PutUint32(t[16:20], uint32(g.Ni))
	binary.BigEndian.PutUint32(t[20:24], uint32(g.Nj))
	binary.BigEndian.PutUint32(t[24:28], lat(g.La1))
	binary.BigEndian.PutUint32(t[28:32], lon(g.Lo1))
	binary.BigEndian.PutUint32(t[33:37], lat(g.LaD))
	binary.BigEndian.PutUint32(t[37:41], lon(g.LoV))
	binary.BigEndian.PutUint32(t[41:45], uint32(math.Round(g.Dx*1e3)))
	binary.BigEndian.PutUint32(t[45:49], uint32(math.Round(g.Dy*1e3)))
	t[50] = g.ScanMode
	binary.BigEndian.PutUint32(t[51:55], lat(g.Latin1))
	binary.BigEndian.PutUint32(t[55:59], lat(g.Latin2))
	return s
}

func signMag8(v int8) byte {
	if v < 0 {
		return 0x80 | byte(-v)
	}
	return byte(v)
}

func signMag32(v int32) uint32 {
	if v < 0 {
		return 0x80000000 | uint32(-v)
	}
	return uint32(v)
}

func section4(f Field) []byte {
	s := header(34, 4)
	// template 4.0 at s[7:9] is already zero
	s[9] = f.Category
	s[10] = f.Number
	s[11] = 2 // forecast
	s[17] = 1 // hours
	binary.BigEndian.PutUint32(s[18:22], f.ForecastHours)
	s[22] = f.SurfaceType
	if f.NoSurfaceVal {
		s[23] = 0xFF
		binary.BigEndian.PutUint32(s[24:28], 0xFFFFFFFF)
	} else {
		s[23] = signMag8(f.SurfaceScale)
		binary.BigEndian.PutUint32(s[24:28], signMag32(f.SurfaceValue))
	}
	s[28] = 255
	s[29] = 0xFF
	binary.BigEndian.PutUint32(s[30:34], 0xFFFFFFFF)
	return s
}

// decimalScale is D in Y = (R + X) / 10^D; values keep two decimals.
const decimalScale = 2

// pack returns Sections 5, 6 and 7 for simple packing of vals.
func pack(vals []float64) (s5, s6, s7 []byte) {
	var present []float64
	hasNaN := false
	for _, v := range vals {
		if math.IsNaN(v) {
			hasNaN = true
			continue
		}
		present = append(present, v)
	}

	scale := math.Pow(10, decimalScale)
	ref := 0.0
	if len(present) > 0 {
		ref = math.Inf(1)
		for _, v := range present {
			ref = math.Min(ref, math.Round(v*scale))
		}
	}
	xs := make([]uint64, len(present))
	var maxX uint64
	for i, v := range present {
		xs[i] = uint64(math.Round(v*scale) - ref)
		if xs[i] > maxX {
			maxX = xs[i]
		}
	}
	nBits := 0
	for maxX>>uint(nBits) != 0 {
		nBits++
	}

	s5 = header(21, 5)
	binary.BigEndian.PutUint32(s5[5:9], uint32(len(present)))
	binary.BigEndian.PutUint32(s5[11:15], math.Float32bits(float32(ref)))
	binary.BigEndian.PutUint16(s5[17:19], decimalScale)
	s5[19] = byte(nBits)

	if hasNaN {
		bm := make([]byte, (len(vals)+7)/8)
		for i, v := range vals {
			if !math.IsNaN(v) {
				bm[i/8] |= 0x80 >> uint(i%8)
			}
		}
		s6 = header(6+len(bm), 6)
		s6[5] = 0
		copy(s6[6:], bm)
	} else {
		s6 = header(6, 6)
		s6[5] = 255
	}

	data := make([]byte, (len(xs)*nBits+7)/8)
	pos := 0
	for _, x := range xs {
		for b := nBits - 1; b >= 0; b-- {
			if (x>>uint(b))&1 == 1 {
				data[pos/8] |= 0x80 >> uint(pos%8)
			}
			pos++
		}
	}
	s7 = header(5+len(data), 7)
	copy(s7[5:], data)
	return s5, s6, s7
}
