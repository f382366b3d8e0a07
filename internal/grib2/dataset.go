package grib2

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
)

// maxFileBytes bounds Open. A full HRRR wrfsfc file is ~150 MB.
const maxFileBytes = 2 << 30

// GDAL-compatible band metadata keys.
const (
	MetaComment         = "GRIB_COMMENT"
	MetaElement         = "GRIB_ELEMENT"
	MetaShortName       = "GRIB_SHORT_NAME"
	MetaUnit            = "GRIB_UNIT"
	MetaDiscipline      = "GRIB_DISCIPLINE"
	MetaRefTime         = "GRIB_REF_TIME"
	MetaValidTime       = "GRIB_VALID_TIME"
	MetaForecastSeconds = "GRIB_FORECAST_SECONDS"
)

var metaKeys = []string{
	MetaComment, MetaElement, MetaShortName, MetaUnit,
	MetaDiscipline, MetaRefTime, MetaValidTime, MetaForecastSeconds,
}

// Band is one field of a GRIB2 file. Values are decoded on first use.
type Band struct {
	Index   int // 1-based
	Product Product
	Grid    LambertGrid

	raw   rawField
	once  sync.Once
	field *Field
	err   error
}

// Metadata returns a GDAL-style metadata item, or "" for unknown keys.
func (b *Band) Metadata(key string) string {
	p := b.Product
	switch key {
	case MetaComment:
		return p.Comment()
	case MetaElement:
		return p.Element()
	case MetaShortName:
		return p.ShortName()
	case MetaUnit:
		return p.Unit()
	case MetaDiscipline:
		return strconv.Itoa(int(p.Discipline))
	case MetaRefTime:
		return strconv.FormatInt(p.RefTime.Unix(), 10)
	case MetaValidTime:
		return strconv.FormatInt(p.ValidTime().Unix(), 10)
	case MetaForecastSeconds:
		return strconv.FormatInt(int64(p.ForecastOffset().Seconds()), 10)
	}
	return ""
}

// MetadataMap returns every metadata item of the band.
func (b *Band) MetadataMap() map[string]string {
	m := make(map[string]string, len(metaKeys))
	for _, k := range metaKeys {
		m[k] = b.Metadata(k)
	}
	return m
}

// Field decodes the band's values, caching the result.
func (b *Band) Field() (*Field, error) {
	b.once.Do(func() {
		b.field, b.err = b.raw.decode()
		if b.err != nil {
			b.err = fmt.Errorf("band %d: %w", b.Index, b.err)
		}
	})
	return b.field, b.err
}

// NoData reports the value used for missing points.
func (b *Band) NoData() (float64, bool) { return math.NaN(), true }

// Dataset is the ordered list of fields in a GRIB2 file, numbered like GDAL
// numbers raster bands.
type Dataset struct {
	bands []*Band
}

// Open reads and indexes a GRIB2 file.
func Open(path string) (*Dataset, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxFileBytes {
		return nil, fmt.Errorf("%s: %d bytes exceeds maximum %d", path, fi.Size(), int64(maxFileBytes))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ds, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// Parse indexes every message in raw. Bytes between messages are skipped.
func Parse(raw []byte) (*Dataset, error) {
	ds := &Dataset{}
	off := 0
	for {
		rel := bytes.Index(raw[off:], []byte("GRIB"))
		if rel < 0 {
			break
		}
		off += rel
		fields, n, err := splitMessage(raw[off:])
		if err != nil {
			return nil, fmt.Errorf("message at offset %d: %w", off, err)
		}
		for _, rf := range fields {
			ds.bands = append(ds.bands, &Band{
				Index:   len(ds.bands) + 1,
				Product: rf.product,
				Grid:    *rf.grid,
				raw:     rf,
			})
		}
		off += n
	}
	if len(ds.bands) == 0 {
		return nil, fmt.Errorf("no GRIB2 messages found")
	}
	return ds, nil
}

// BandCount returns the number of fields.
func (d *Dataset) BandCount() int { return len(d.bands) }

// Band returns band n (1-based).
func (d *Dataset) Band(n int) (*Band, error) {
	if n < 1 || n > len(d.bands) {
		return nil, fmt.Errorf("band %d out of range [1, %d]", n, len(d.bands))
	}
	return d.bands[n-1], nil
}
