package grib2

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Product describes what a field holds: its parameter, level and times.
// It is assembled from Sections 0, 1 and 4.
type Product struct {
	Discipline byte
	Category   byte
	Number     byte
	Template   int // product definition template number

	SurfaceType  byte
	SurfaceScale int8
	SurfaceValue int32 // scaled value of the first fixed surface

	TimeUnit     byte
	ForecastTime int32
	RefTime      time.Time
}

type paramInfo struct {
	element, desc, unit string
}

// params is keyed by discipline<<16 | category<<8 | number.
var params = map[uint32]paramInfo{
	paramKey(0, 0, 0):    {"TMP", "Temperature", "K"},
	paramKey(0, 0, 6):    {"DPT", "Dew point temperature", "K"},
	paramKey(0, 1, 0):    {"SPFH", "Specific humidity", "kg/kg"},
	paramKey(0, 1, 1):    {"RH", "Relative humidity", "%"},
	paramKey(0, 1, 7):    {"PRATE", "Precipitation rate", "kg/(m^2 s)"},
	paramKey(0, 1, 8):    {"APCP", "Total precipitation", "kg/(m^2)"},
	paramKey(0, 2, 0):    {"WDIR", "Wind direction (from which blowing)", "deg true"},
	paramKey(0, 2, 1):    {"WIND", "Wind speed", "m/s"},
	paramKey(0, 2, 2):    {"UGRD", "u-component of wind", "m/s"},
	paramKey(0, 2, 3):    {"VGRD", "v-component of wind", "m/s"},
	paramKey(0, 2, 22):   {"GUST", "Wind speed (gust)", "m/s"},
	paramKey(0, 3, 0):    {"PRES", "Pressure", "Pa"},
	paramKey(0, 3, 1):    {"PRMSL", "Pressure reduced to MSL", "Pa"},
	paramKey(0, 3, 5):    {"HGT", "Geopotential height", "gpm"},
	paramKey(0, 6, 1):    {"TCDC", "Total cloud cover", "%"},
	paramKey(0, 7, 6):    {"CAPE", "Convective available potential energy", "J/kg"},
	paramKey(0, 16, 196): {"REFC", "Composite reflectivity", "dB"},
	paramKey(0, 19, 0):   {"VIS", "Visibility", "m"},
}

func paramKey(d, c, n byte) uint32 { return uint32(d)<<16 | uint32(c)<<8 | uint32(n) }

// surfaces maps first-fixed-surface types (Code Table 4.5) to GDAL short names.
var surfaces = map[byte]string{
	1:   "SFC",
	3:   "CTL",
	10:  "EATM",
	100: "ISBL",
	101: "MSL",
	103: "HTGL",
	215: "CEIL",
}

// Element is the parameter abbreviation, e.g. "UGRD".
func (p Product) Element() string {
	if info, ok := params[paramKey(p.Discipline, p.Category, p.Number)]; ok {
		return info.element
	}
	return fmt.Sprintf("var%d_%d_%d", p.Discipline, p.Category, p.Number)
}

// Comment is the description with its unit, e.g. "u-component of wind [m/s]".
func (p Product) Comment() string {
	if info, ok := params[paramKey(p.Discipline, p.Category, p.Number)]; ok {
		return info.desc + " [" + info.unit + "]"
	}
	return fmt.Sprintf("Unknown parameter (discipline %d, category %d, number %d) [-]",
		p.Discipline, p.Category, p.Number)
}

// Unit is the bracketed unit, e.g. "[m/s]".
func (p Product) Unit() string {
	if info, ok := params[paramKey(p.Discipline, p.Category, p.Number)]; ok {
		return "[" + info.unit + "]"
	}
	return "[-]"
}

// Level returns the first fixed surface value with its scale applied.
func (p Product) Level() float64 {
	return float64(p.SurfaceValue) / math.Pow(10, float64(p.SurfaceScale))
}

// ShortName is the level plus surface code, e.g. "10-HTGL".
func (p Product) ShortName() string {
	name, ok := surfaces[p.SurfaceType]
	if !ok {
		name = "SFC" + strconv.Itoa(int(p.SurfaceType))
	}
	return strconv.FormatFloat(p.Level(), 'g', -1, 64) + "-" + name
}

// ForecastOffset converts the forecast time to a duration. Unknown units
// yield zero.
func (p Product) ForecastOffset() time.Duration {
	var unit time.Duration
	switch p.TimeUnit {
	case 0:
		unit = time.Minute
	case 1:
		unit = time.Hour
	case 2:
		unit = 24 * time.Hour
	case 10:
		unit = 3 * time.Hour
	case 11:
		unit = 6 * time.Hour
	case 12:
		unit = 12 * time.Hour
	case 13:
		unit = time.Second
	default:
		return 0
	}
	return time.Duration(p.ForecastTime) * unit
}

// ValidTime is the reference time plus the forecast offset.
func (p Product) ValidTime() time.Time {
	return p.RefTime.Add(p.ForecastOffset())
}

// parseSection1 reads the reference time from the identification section.
func parseSection1(sec []byte) (time.Time, error) {
	if len(sec) < 21 {
		return time.Time{}, fmt.Errorf("section 1: too short (%d bytes)", len(sec))
	}
	year := int(binary.BigEndian.Uint16(sec[12:14]))
	month, day := int(sec[14]), int(sec[15])
	hour, minute, second := int(sec[16]), int(sec[17]), int(sec[18])
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 60 {
		return time.Time{}, fmt.Errorf("section 1: invalid reference time %04d-%02d-%02d %02d:%02d:%02d",
			year, month, day, hour, minute, second)
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), nil
}

// parseSection4 reads the product definition header. Templates 4.0 through
// 4.15 share the leading octets used here (4.8 adds its statistical block
// after them).
func parseSection4(sec []byte, p *Product) error {
	if len(sec) < 34 {
		return fmt.Errorf("section 4: too short (%d bytes)", len(sec))
	}
	tmpl := int(binary.BigEndian.Uint16(sec[7:9]))
	if tmpl > 15 {
		return fmt.Errorf("section 4: unsupported product definition template %d", tmpl)
	}
	p.Template = tmpl
	p.Category = sec[9]
	p.Number = sec[10]
	p.TimeUnit = sec[17]
	p.ForecastTime = int32(binary.BigEndian.Uint32(sec[18:22]))
	p.SurfaceType = sec[22]
	// Scale and value are sign-magnitude; all-ones marks them missing.
	if sec[23] != 0xFF {
		p.SurfaceScale = int8(readSignMagOctets(sec[23:24]))
	}
	if binary.BigEndian.Uint32(sec[24:28]) != 0xFFFFFFFF {
		p.SurfaceValue = int32(readSignMagOctets(sec[24:28]))
	}
	return nil
}
