package geotiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Decoding limits. maxSamples bounds width*height*bands before anything is
// allocated; 1<<27 float64 samples is 1 GiB.
const (
	maxDimension = 1 << 16
	maxEntries   = 4096
	maxBands     = 4096
	maxSamples   = 1 << 27
)

type ifdEntry struct {
	typ    uint16
	count  uint32
	raw    [4]byte // inline value or offset
	values []byte  // resolved value bytes
}

type decoder struct {
	r     io.ReaderAt
	size  int64
	order binary.ByteOrder
	tags  map[uint16]*ifdEntry
}

func typeSize(t uint16) int {
	switch t {
	case typeByte, typeASCII, typeSByte, 7: // 7 = UNDEFINED
		return 1
	case typeShort, typeSShort:
		return 2
	case typeLong, typeSLong, typeFloat:
		return 4
	case 5, 10, typeDouble: // RATIONAL, SRATIONAL
		return 8
	}
	return 0
}

func (d *decoder) readAt(off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off > d.size || n > d.size-off {
		return nil, fmt.Errorf("geotiff: %d bytes at offset %d outside file of %d bytes", n, off, d.size)
	}
	buf := make([]byte, n)
	if _, err := d.r.ReadAt(buf, off); err != nil && !(err == io.EOF && int64(len(buf)) == n) {
		return nil, fmt.Errorf("geotiff: read at %d: %w", off, err)
	}
	return buf, nil
}

// Decode reads the first image of a TIFF file of the given size.
func Decode(r io.ReaderAt, size int64) (*Image, error) {
	d := &decoder{r: r, size: size, tags: map[uint16]*ifdEntry{}}
	hdr, err := d.readAt(0, 8)
	if err != nil {
		return nil, err
	}
	switch string(hdr[0:2]) {
	case "II":
		d.order = binary.LittleEndian
	case "MM":
		d.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("geotiff: not a TIFF file")
	}
	switch magic := d.order.Uint16(hdr[2:4]); magic {
	case 42:
	case 43:
		return nil, fmt.Errorf("%w: BigTIFF", ErrUnsupported)
	default:
		return nil, fmt.Errorf("geotiff: bad TIFF magic %d", magic)
	}
	if err := d.readIFD(int64(d.order.Uint32(hdr[4:8]))); err != nil {
		return nil, err
	}
	return d.image()
}

func (d *decoder) readIFD(off int64) error {
	nb, err := d.readAt(off, 2)
	if err != nil {
		return err
	}
	n := int(d.order.Uint16(nb))
	if n == 0 || n > maxEntries {
		return fmt.Errorf("geotiff: IFD with %d entries", n)
	}
	recs, err := d.readAt(off+2, int64(n)*12)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		rec := recs[i*12 : i*12+12]
		e := &ifdEntry{typ: d.order.Uint16(rec[2:4]), count: d.order.Uint32(rec[4:8])}
		copy(e.raw[:], rec[8:12])
		sz := typeSize(e.typ)
		if sz == 0 {
			continue // TIFF 6.0 readers skip unknown field types
		}
		total := int64(sz) * int64(e.count)
		if total <= 4 {
			e.values = e.raw[:total]
		} else {
			if e.values, err = d.readAt(int64(d.order.Uint32(e.raw[:])), total); err != nil {
				return fmt.Errorf("tag %d: %w", d.order.Uint16(rec[0:2]), err)
			}
		}
		d.tags[d.order.Uint16(rec[0:2])] = e
	}
	return nil
}

// uints returns an integer tag as uint64 values.
func (d *decoder) uints(tag uint16) ([]uint64, bool) {
	e, ok := d.tags[tag]
	if !ok {
		return nil, false
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case typeByte:
			out[i] = uint64(e.values[i])
		case typeShort:
			out[i] = uint64(d.order.Uint16(e.values[2*i:]))
		case typeLong:
			out[i] = uint64(d.order.Uint32(e.values[4*i:]))
		default:
			return nil, false
		}
	}
	return out, true
}

func (d *decoder) uint(tag uint16, def uint64) (uint64, error) {
	v, ok := d.uints(tag)
	if !ok {
		if _, present := d.tags[tag]; present {
			return 0, fmt.Errorf("geotiff: tag %d has a non-integer type", tag)
		}
		return def, nil
	}
	if len(v) == 0 {
		return def, nil
	}
	return v[0], nil
}

func (d *decoder) floats(tag uint16) []float64 {
	e, ok := d.tags[tag]
	if !ok || e.typ != typeDouble {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(d.order.Uint64(e.values[8*i:]))
	}
	return out
}

func (d *decoder) ascii(tag uint16) (string, bool) {
	e, ok := d.tags[tag]
	if !ok || e.typ != typeASCII {
		return "", false
	}
	return strings.TrimRight(string(e.values), "\x00"), true
}

type sampleKind struct {
	bits   int
	format uint64 // 1 unsigned, 2 signed, 3 float
}

func (k sampleKind) decode(order binary.ByteOrder, b []byte) float64 {
	switch {
	case k.format == 3 && k.bits == 64:
		return math.Float64frombits(order.Uint64(b))
	case k.format == 3 && k.bits == 32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case k.format == 2 && k.bits == 16:
		return float64(int16(order.Uint16(b)))
	case k.format == 2 && k.bits == 32:
		return float64(int32(order.Uint32(b)))
	case k.format == 1 && k.bits == 16:
		return float64(order.Uint16(b))
	case k.format == 1 && k.bits == 32:
		return float64(order.Uint32(b))
	case k.bits == 8 && k.format == 2:
		return float64(int8(b[0]))
	default:
		return float64(b[0])
	}
}

func (d *decoder) image() (*Image, error) {
	if _, tiled := d.tags[tagTileWidth]; tiled {
		return nil, fmt.Errorf("%w: tiled layout", ErrUnsupported)
	}
	if c, err := d.uint(tagCompression, 1); err != nil {
		return nil, err
	} else if c != 1 {
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, c)
	}
	width, err := d.uint(tagImageWidth, 0)
	if err != nil {
		return nil, err
	}
	height, err := d.uint(tagImageLength, 0)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 || width > maxDimension || height > maxDimension {
		return nil, fmt.Errorf("geotiff: invalid size %dx%d", width, height)
	}
	spp, err := d.uint(tagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	if spp == 0 || spp > maxBands {
		return nil, fmt.Errorf("geotiff: %d samples per pixel", spp)
	}
	planar, err := d.uint(tagPlanarConfig, 1)
	if err != nil {
		return nil, err
	}
	if planar != 1 && planar != 2 {
		return nil, fmt.Errorf("%w: planar configuration %d", ErrUnsupported, planar)
	}
	rps, err := d.uint(tagRowsPerStrip, height)
	if err != nil {
		return nil, err
	}
	if rps == 0 || rps > height {
		rps = height
	}

	bps, _ := d.uints(tagBitsPerSample)
	sf, _ := d.uints(tagSampleFormat)
	kind := sampleKind{bits: 1, format: 1}
	if len(bps) > 0 {
		kind.bits = int(bps[0])
	}
	if len(sf) > 0 {
		kind.format = sf[0]
	}
	for i := 1; i < len(bps); i++ {
		if int(bps[i]) != kind.bits {
			return nil, fmt.Errorf("%w: mixed bits per sample", ErrUnsupported)
		}
	}
	switch kind {
	case sampleKind{64, 3}, sampleKind{32, 3}, sampleKind{16, 2}, sampleKind{32, 2},
		sampleKind{16, 1}, sampleKind{32, 1}, sampleKind{8, 1}, sampleKind{8, 2}:
	default:
		return nil, fmt.Errorf("%w: %d-bit samples of format %d", ErrUnsupported, kind.bits, kind.format)
	}

	offsets, ok := d.uints(tagStripOffsets)
	if !ok {
		return nil, fmt.Errorf("geotiff: missing strip offsets")
	}
	counts, ok := d.uints(tagStripByteCounts)
	if !ok || len(counts) != len(offsets) {
		return nil, fmt.Errorf("geotiff: missing or mismatched strip byte counts")
	}
	stripsPerPlane := int((height + rps - 1) / rps)
	planes := 1
	if planar == 2 {
		planes = int(spp)
	}
	if len(offsets) != stripsPerPlane*planes {
		return nil, fmt.Errorf("geotiff: %d strips, want %d", len(offsets), stripsPerPlane*planes)
	}

	w, h, nb := int(width), int(height), int(spp)
	if n := int64(w) * int64(h) * int64(nb); n > maxSamples {
		return nil, fmt.Errorf("geotiff: %d samples exceeds limit %d", n, int64(maxSamples))
	}
	sb := kind.bits / 8
	perRow := w
	if planar == 1 {
		perRow = w * nb
	}
	// Every strip must be present before the bands are allocated.
	var total int64
	for p := 0; p < planes; p++ {
		for s := 0; s < stripsPerPlane; s++ {
			idx := p*stripsPerPlane + s
			rows := min(int(rps), h-s*int(rps))
			need := int64(rows) * int64(perRow) * int64(sb)
			if counts[idx] < uint64(need) {
				return nil, fmt.Errorf("geotiff: strip %d holds %d bytes, want %d", idx, counts[idx], need)
			}
			if offsets[idx] > uint64(d.size) || uint64(need) > uint64(d.size)-offsets[idx] {
				return nil, fmt.Errorf("geotiff: strip %d of %d bytes at offset %d outside file of %d bytes",
					idx, need, offsets[idx], d.size)
			}
			if total += need; total > d.size {
				return nil, fmt.Errorf("geotiff: strips need more than the %d bytes in the file", d.size)
			}
		}
	}

	img := &Image{Width: w, Height: h, Metadata: map[string]string{}}
	for b := 0; b < nb; b++ {
		img.Bands = append(img.Bands, &Band{Data: make([]float64, w*h), Metadata: map[string]string{}})
	}

	for p := 0; p < planes; p++ {
		for s := 0; s < stripsPerPlane; s++ {
			idx := p*stripsPerPlane + s
			row0 := s * int(rps)
			rows := min(int(rps), h-row0)
			need := int64(rows) * int64(perRow) * int64(sb)
			data, err := d.readAt(int64(offsets[idx]), need)
			if err != nil {
				return nil, err
			}
			for k := 0; k < rows*perRow; k++ {
				v := kind.decode(d.order, data[k*sb:])
				if planar == 2 {
					img.Bands[p].Data[row0*w+k] = v
				} else {
					img.Bands[k%nb].Data[row0*w+k/nb] = v
				}
			}
		}
	}

	if err := d.georef(img); err != nil {
		return nil, err
	}
	if dt, ok := d.ascii(tagDateTime); ok {
		img.Metadata[MetaDateTime] = dt
	}
	if md, ok := d.ascii(tagGDALMetadata); ok && md != "" {
		if err := img.unmarshalMetadata(md); err != nil {
			return nil, fmt.Errorf("geotiff: %w", err)
		}
	}
	if nd, ok := d.ascii(tagGDALNoData); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(nd), 64)
		if err != nil {
			return nil, fmt.Errorf("geotiff: GDAL_NODATA %q: %w", nd, err)
		}
		img.NoData, img.HasNoData = v, true
	}
	return img, nil
}

// georef fills the geotransform and projection from the GeoTIFF tags.
func (d *decoder) georef(img *Image) error {
	keys, _ := d.uints(tagGeoKeyDirectory)
	geoKey := func(id uint64) (loc, count, val uint64, ok bool) {
		if len(keys) < 4 {
			return 0, 0, 0, false
		}
		n := int(keys[3])
		for i := 0; i < n && 4+4*i+3 < len(keys); i++ {
			k := keys[4+4*i : 8+4*i]
			if k[0] == id {
				return k[1], k[2], k[3], true
			}
		}
		return 0, 0, 0, false
	}

	pixelIsPoint := false
	if _, _, v, ok := geoKey(keyRasterType); ok && v == 2 {
		pixelIsPoint = true
	}

	if m := d.floats(tagModelTransform); len(m) >= 8 {
		img.GeoTransform = [6]float64{m[3], m[0], m[1], m[7], m[4], m[5]}
	} else if scale, tie := d.floats(tagModelPixelScale), d.floats(tagModelTiepoint); len(scale) >= 2 && len(tie) >= 6 {
		sx, sy := scale[0], scale[1]
		img.GeoTransform = [6]float64{tie[3] - tie[0]*sx, sx, 0, tie[4] + tie[1]*sy, 0, -sy}
	} else {
		img.GeoTransform = [6]float64{0, 1, 0, 0, 0, 1}
	}
	if pixelIsPoint {
		gt := &img.GeoTransform
		gt[0] -= gt[1]/2 + gt[2]/2
		gt[3] -= gt[4]/2 + gt[5]/2
	}

	if loc, count, val, ok := geoKey(keyCitation); ok && loc == tagGeoASCIIParams {
		if params, ok := d.ascii(tagGeoASCIIParams); ok && val+count <= uint64(len(params))+1 {
			cit := params[val:min(val+count, uint64(len(params)))]
			cit = strings.TrimRight(cit, "|")
			if p, found := strings.CutPrefix(cit, esriCitationPrefix); found {
				img.Projection = p
				return nil
			}
		}
	}
	if _, _, v, ok := geoKey(keyProjectedType); ok && v != 0 && v != 32767 {
		img.Projection = fmt.Sprintf("EPSG:%d", v)
	} else if _, _, v, ok := geoKey(keyGeographicType); ok && v != 0 && v != 32767 {
		img.Projection = fmt.Sprintf("EPSG:%d", v)
	}
	return nil
}
