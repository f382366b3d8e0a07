// Package geotiff reads and writes the uncompressed, strip-organised GeoTIFF
// files GDAL produces and consumes for DEMs and simulation output: float64
// bands, a geotransform, a projection carried as an ESRI PE citation, and
// GDAL's metadata and nodata tags.
package geotiff

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// ErrUnsupported is returned for TIFF features outside what this package
// decodes (compression, tiles, exotic sample types).
var ErrUnsupported = errors.New("geotiff: unsupported TIFF layout")

// MetaDateTime is the dataset metadata key stored in the TIFF DateTime tag.
const MetaDateTime = "TIFFTAG_DATETIME"

// Image is a georeferenced raster with one or more bands.
type Image struct {
	Width, Height int
	// GeoTransform follows GDAL: x = gt[0] + col*gt[1] + row*gt[2],
	// y = gt[3] + col*gt[4] + row*gt[5].
	GeoTransform [6]float64
	Projection   string
	NoData       float64
	HasNoData    bool
	Metadata     map[string]string
	Bands        []*Band
}

// Band holds Width*Height samples, northern row first.
type Band struct {
	Data     []float64
	Metadata map[string]string
}

// New returns an empty image of the given size.
func New(width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("geotiff: invalid size %dx%d", width, height)
	}
	return &Image{Width: width, Height: height, Metadata: map[string]string{}}, nil
}

// AddBand appends a band holding data.
func (img *Image) AddBand(data []float64) (*Band, error) {
	if len(data) != img.Width*img.Height {
		return nil, fmt.Errorf("geotiff: band has %d samples, want %d", len(data), img.Width*img.Height)
	}
	b := &Band{Data: data, Metadata: map[string]string{}}
	img.Bands = append(img.Bands, b)
	return b, nil
}

// ReadFile decodes the GeoTIFF at path.
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	img, err := Decode(f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// WriteFile encodes img to a temporary file next to path and renames it
// into place, so readers never observe a partial file.
func WriteFile(path string, img *Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// gdalMetadata is the XML document GDAL stores in tag 42112.
type gdalMetadata struct {
	XMLName xml.Name   `xml:"GDALMetadata"`
	Items   []gdalItem `xml:"Item"`
}

type gdalItem struct {
	Name   string `xml:"name,attr"`
	Sample *int   `xml:"sample,attr,omitempty"`
	Role   string `xml:"role,attr,omitempty"`
	Value  string `xml:",chardata"`
}

func (img *Image) marshalMetadata() (string, error) {
	var doc gdalMetadata
	for _, k := range sortedKeys(img.Metadata) {
		if k == MetaDateTime {
			continue
		}
		doc.Items = append(doc.Items, gdalItem{Name: k, Value: img.Metadata[k]})
	}
	for i, b := range img.Bands {
		for _, k := range sortedKeys(b.Metadata) {
			sample := i
			doc.Items = append(doc.Items, gdalItem{Name: k, Sample: &sample, Value: b.Metadata[k]})
		}
	}
	if len(doc.Items) == 0 {
		return "", nil
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (img *Image) unmarshalMetadata(s string) error {
	var doc gdalMetadata
	if err := xml.Unmarshal([]byte(s), &doc); err != nil {
		return fmt.Errorf("GDAL_METADATA: %w", err)
	}
	for _, it := range doc.Items {
		if it.Role != "" {
			continue // scale, offset and similar band roles
		}
		if it.Sample == nil {
			img.Metadata[it.Name] = it.Value
			continue
		}
		if *it.Sample < 0 || *it.Sample >= len(img.Bands) {
			return fmt.Errorf("GDAL_METADATA: item %q for sample %d of %d", it.Name, *it.Sample, len(img.Bands))
		}
		img.Bands[*it.Sample].Metadata[it.Name] = it.Value
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatNoData(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
