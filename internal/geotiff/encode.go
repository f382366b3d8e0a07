package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// TIFF field types.
const (
	typeByte   = 1
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeSByte  = 6
	typeSShort = 8
	typeSLong  = 9
	typeFloat  = 11
	typeDouble = 12
)

// Tags written or read by this package.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagDateTime        = 306
	tagTileWidth       = 322
	tagExtraSamples    = 338
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGeoDoubleParams = 34736
	tagGeoASCIIParams  = 34737
	tagGDALMetadata    = 42112
	tagGDALNoData      = 42113
)

// GeoKeys.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyCitation       = 1026
	keyGeographicType = 2048
	keyProjectedType  = 3072
)

const esriCitationPrefix = "ESRI PE String = "

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte // little-endian value bytes
}

func shorts(vs ...uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return b
}

func longs(vs ...uint32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return b
}

func doubles(vs ...float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

func asciiEntry(tag uint16, s string) entry {
	return entry{tag: tag, typ: typeASCII, count: uint32(len(s) + 1), data: append([]byte(s), 0)}
}

// isGeographic guesses whether a projection definition is a lon/lat system.
func isGeographic(prj string) bool {
	p := strings.TrimSpace(prj)
	return strings.HasPrefix(p, "GEOGCS") || strings.HasPrefix(p, "GEOGCRS") ||
		strings.Contains(p, "+proj=longlat") || strings.Contains(p, "+proj=latlong")
}

// Encode writes img as a little-endian classic TIFF with float64 samples,
// one plane per band and one strip per row.
func Encode(w io.Writer, img *Image) error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("geotiff: invalid size %dx%d", img.Width, img.Height)
	}
	nb := len(img.Bands)
	if nb == 0 {
		return fmt.Errorf("geotiff: image has no bands")
	}
	if nb > math.MaxUint16 {
		return fmt.Errorf("geotiff: %d bands exceeds %d", nb, math.MaxUint16)
	}
	for i, b := range img.Bands {
		if len(b.Data) != img.Width*img.Height {
			return fmt.Errorf("geotiff: band %d has %d samples, want %d", i+1, len(b.Data), img.Width*img.Height)
		}
	}
	rowBytes := uint64(img.Width) * 8
	pixelBytes := rowBytes * uint64(img.Height) * uint64(nb)
	if 8+pixelBytes > math.MaxUint32-1<<20 {
		return fmt.Errorf("geotiff: %d bytes of samples exceeds classic TIFF limits", pixelBytes)
	}

	nStrips := img.Height * nb
	offsets := make([]uint32, nStrips)
	counts := make([]uint32, nStrips)
	for s := range offsets {
		offsets[s] = uint32(8 + uint64(s)*rowBytes)
		counts[s] = uint32(rowBytes)
	}

	bps := make([]uint16, nb)
	fmts := make([]uint16, nb)
	for i := range bps {
		bps[i], fmts[i] = 64, 3 // IEEE float
	}

	gt := img.GeoTransform
	entries := []entry{
		{tag: tagImageWidth, typ: typeLong, count: 1, data: longs(uint32(img.Width))},
		{tag: tagImageLength, typ: typeLong, count: 1, data: longs(uint32(img.Height))},
		{tag: tagBitsPerSample, typ: typeShort, count: uint32(nb), data: shorts(bps...)},
		{tag: tagCompression, typ: typeShort, count: 1, data: shorts(1)},
		{tag: tagPhotometric, typ: typeShort, count: 1, data: shorts(1)},
		{tag: tagStripOffsets, typ: typeLong, count: uint32(nStrips), data: longs(offsets...)},
		{tag: tagSamplesPerPixel, typ: typeShort, count: 1, data: shorts(uint16(nb))},
		{tag: tagRowsPerStrip, typ: typeLong, count: 1, data: longs(1)},
		{tag: tagStripByteCounts, typ: typeLong, count: uint32(nStrips), data: longs(counts...)},
		{tag: tagPlanarConfig, typ: typeShort, count: 1, data: shorts(2)},
		{tag: tagSampleFormat, typ: typeShort, count: uint32(nb), data: shorts(fmts...)},
		{tag: tagModelPixelScale, typ: typeDouble, count: 3, data: doubles(gt[1], -gt[5], 0)},
		{tag: tagModelTiepoint, typ: typeDouble, count: 6, data: doubles(0, 0, 0, gt[0], gt[3], 0)},
	}
	if nb > 1 {
		extra := make([]uint16, nb-1)
		entries = append(entries, entry{tag: tagExtraSamples, typ: typeShort, count: uint32(nb - 1), data: shorts(extra...)})
	}
	if gt[2] != 0 || gt[4] != 0 {
		entries = append(entries, entry{tag: tagModelTransform, typ: typeDouble, count: 16, data: doubles(
			gt[1], gt[2], 0, gt[0],
			gt[4], gt[5], 0, gt[3],
			0, 0, 0, 0,
			0, 0, 0, 1,
		)})
	}
	if dt, ok := img.Metadata[MetaDateTime]; ok {
		entries = append(entries, asciiEntry(tagDateTime, dt))
	}

	modelType := uint16(1)
	if isGeographic(img.Projection) {
		modelType = 2
	}
	keys := []uint16{1, 1, 0, 2,
		keyModelType, 0, 1, modelType,
		keyRasterType, 0, 1, 1,
	}
	if img.Projection != "" {
		citation := esriCitationPrefix + img.Projection + "|"
		if len(citation) > math.MaxUint16 {
			return fmt.Errorf("geotiff: projection of %d bytes is too long", len(img.Projection))
		}
		keys[3] = 3
		keys = append(keys, keyCitation, tagGeoASCIIParams, uint16(len(citation)), 0)
		entries = append(entries, asciiEntry(tagGeoASCIIParams, citation))
	}
	entries = append(entries, entry{tag: tagGeoKeyDirectory, typ: typeShort, count: uint32(len(keys)), data: shorts(keys...)})

	md, err := img.marshalMetadata()
	if err != nil {
		return fmt.Errorf("geotiff: %w", err)
	}
	if md != "" {
		entries = append(entries, asciiEntry(tagGDALMetadata, md))
	}
	if img.HasNoData {
		entries = append(entries, asciiEntry(tagGDALNoData, formatNoData(img.NoData)))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Layout: header, samples, out-of-line values, IFD.
	var buf bytes.Buffer
	buf.Grow(int(8 + pixelBytes))
	buf.Write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0})
	row := make([]byte, rowBytes)
	for _, b := range img.Bands {
		for y := 0; y < img.Height; y++ {
			for x, v := range b.Data[y*img.Width : (y+1)*img.Width] {
				binary.LittleEndian.PutUint64(row[8*x:], math.Float64bits(v))
			}
			buf.Write(row)
		}
	}

	valueOff := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.data) <= 4 {
			continue
		}
		if buf.Len()%2 == 1 {
			buf.WriteByte(0)
		}
		valueOff[i] = uint32(buf.Len())
		buf.Write(e.data)
	}
	if buf.Len()%2 == 1 {
		buf.WriteByte(0)
	}
	ifdOff := uint32(buf.Len())
	binary.LittleEndian.PutUint32(buf.Bytes()[4:8], ifdOff)

	buf.Write(shorts(uint16(len(entries))))
	for i, e := range entries {
		var rec [12]byte
		binary.LittleEndian.PutUint16(rec[0:], e.tag)
		binary.LittleEndian.PutUint16(rec[2:], e.typ)
		binary.LittleEndian.PutUint32(rec[4:], e.count)
		if len(e.data) <= 4 {
			copy(rec[8:], e.data)
		} else {
			binary.LittleEndian.PutUint32(rec[8:], valueOff[i])
		}
		buf.Write(rec[:])
	}
	buf.Write(longs(0))

	_, err = w.Write(buf.Bytes())
	return err
}
