package grib2

import (
	"encoding/binary"
	"fmt"
	"math"
)

// bitReader reads unsigned integers of arbitrary bit width from a byte slice.
// Bits are consumed MSB-first within each byte.
type bitReader struct {
	buf []byte
	pos int // bit position
}

func newBitReader(b []byte) *bitReader { return &bitReader{buf: b} }

// read returns the next n bits (0 ≤ n ≤ 64). It never panics on short input.
func (r *bitReader) read(n int) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	if n < 0 || n > 64 {
		return 0, fmt.Errorf("bitReader: invalid width %d", n)
	}
	end := r.pos + n
	if end > len(r.buf)*8 {
		return 0, fmt.Errorf("bitReader: read %d bits at pos %d overflows buffer (%d bytes)",
			n, r.pos, len(r.buf))
	}
	if r.pos%8 == 0 {
		off := r.pos / 8
		switch n {
		case 8:
			r.pos = end
			return uint64(r.buf[off]), nil
		case 16:
			r.pos = end
			return uint64(binary.BigEndian.Uint16(r.buf[off:])), nil
		case 32:
			r.pos = end
			return uint64(binary.BigEndian.Uint32(r.buf[off:])), nil
		case 64:
			r.pos = end
			return binary.BigEndian.Uint64(r.buf[off:]), nil
		}
	}
	var v uint64
	for i := 0; i < n; i++ {
		byteIdx := (r.pos + i) / 8
		bitIdx := 7 - ((r.pos + i) % 8)
		v = (v << 1) | uint64((r.buf[byteIdx]>>bitIdx)&1)
	}
	r.pos = end
	return v, nil
}

// align advances to the next byte boundary.
func (r *bitReader) align() {
	if r.pos%8 != 0 {
		r.pos += 8 - (r.pos % 8)
	}
}

func (r *bitReader) bytePos() int { return r.pos / 8 }

// applyBitmap expands packed values (one per set bitmap bit) to totalPoints.
// Positions whose bit is 0 become NaN. Bit 7 of byte 0 is grid point 0.
func applyBitmap(vals []float64, bitmap []byte, totalPoints int) ([]float64, error) {
	if setBits := countSetBits(bitmap, totalPoints); setBits != len(vals) {
		return nil, fmt.Errorf("bitmap: %d set bits but %d packed values", setBits, len(vals))
	}
	out := make([]float64, totalPoints)
	vi := 0
	for i := range out {
		if bitmapBit(bitmap, i) {
			out[i] = vals[vi]
			vi++
		} else {
			out[i] = math.NaN()
		}
	}
	return out, nil
}

func bitmapBit(bitmap []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(bitmap) {
		return false
	}
	return (bitmap[byteIdx]>>uint(7-(i%8)))&1 == 1
}

func countSetBits(bitmap []byte, totalPoints int) int {
	n := 0
	for i := 0; i < totalPoints; i++ {
		if bitmapBit(bitmap, i) {
			n++
		}
	}
	return n
}
