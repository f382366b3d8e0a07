package grib2

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DRS0Params holds parameters from DRS Template 5.0 (grid point, simple packing).
type DRS0Params struct {
	ReferenceValue     float64
	BinaryScaleFactor  int
	DecimalScaleFactor int
	Nbits              int
	TypeOfValue        byte
	N                  int // packed values, sec[5:9]
}

func parseDRS0(sec []byte) (DRS0Params, error) {
	if len(sec) < 11+10 {
		return DRS0Params{}, fmt.Errorf("section 5 DRS 5.0: too short (%d bytes)", len(sec))
	}
	nRaw := binary.BigEndian.Uint32(sec[5:9])
	if nRaw > maxTotal {
		return DRS0Params{}, fmt.Errorf("section 5: N=%d exceeds maximum %d", nRaw, maxTotal)
	}
	t := sec[11:]
	nBits := int(t[8])
	if nBits > maxBitWidth {
		return DRS0Params{}, fmt.Errorf("section 5: Nbits=%d exceeds %d", nBits, maxBitWidth)
	}
	return DRS0Params{
		ReferenceValue:     float64(math.Float32frombits(binary.BigEndian.Uint32(t[0:4]))),
		BinaryScaleFactor:  decodeScaleFactor(binary.BigEndian.Uint16(t[4:6])),
		DecimalScaleFactor: decodeScaleFactor(binary.BigEndian.Uint16(t[6:8])),
		Nbits:              nBits,
		TypeOfValue:        t[9],
		N:                  int(nRaw),
	}, nil
}

// unpackDRS0 decodes a simple-packed Section 7: Y = (R + X·2^E) / 10^D.
func unpackDRS0(sec7 []byte, p DRS0Params) ([]float64, error) {
	if len(sec7) < 5 {
		return nil, fmt.Errorf("drs0: section 7 too short")
	}
	data := sec7[5:]

	scaleE := math.Ldexp(1.0, p.BinaryScaleFactor)
	scaleD := math.Pow(10, float64(p.DecimalScaleFactor))
	out := make([]float64, p.N)

	if p.Nbits == 0 {
		v := p.ReferenceValue / scaleD
		for i := range out {
			out[i] = v
		}
		return out, nil
	}
	br := newBitReader(data)
	for i := range out {
		x, err := br.read(p.Nbits)
		if err != nil {
			return nil, fmt.Errorf("drs0: reading value %d: %w", i, err)
		}
		out[i] = (p.ReferenceValue + scaleE*float64(x)) / scaleD
	}
	return out, nil
}

// unpackDRS53 decodes a DRS Template 5.3 Section 7 (complex packing with
// spatial differencing). sec7 includes the 5-byte section header.
func unpackDRS53(sec7 []byte, p DRS53Params) ([]float64, error) {
	if len(sec7) < 5 {
		return nil, fmt.Errorf("drs53: section 7 too short")
	}
	data := sec7[5:]

	m := p.NOctetsExtra
	order := p.OrderSpatialDiff
	if order < 1 || order > 2 {
		return nil, fmt.Errorf("drs53: unsupported spatial differencing order %d", order)
	}
	if m < 1 || m > 4 {
		return nil, fmt.Errorf("drs53: unsupported extra descriptor octets %d", m)
	}

	extraBytes := (order + 1) * m
	if len(data) < extraBytes {
		return nil, fmt.Errorf("drs53: data too short for extra descriptors (%d < %d)", len(data), extraBytes)
	}
	initVals := make([]int64, order)
	for i := range initVals {
		initVals[i] = readSignMagOctets(data[i*m : i*m+m])
	}
	yMin := readSignMagOctets(data[order*m : order*m+m])

	br := newBitReader(data[extraBytes:])
	ng := p.NG

	grefs := make([]int64, ng)
	for i := range grefs {
		v, err := br.read(p.Nbits)
		if err != nil {
			return nil, fmt.Errorf("drs53: reading gref[%d]: %w", i, err)
		}
		grefs[i] = int64(v)
	}
	br.align()

	widths := make([]int, ng)
	for i := range widths {
		v, err := br.read(p.BitsGroupWidth)
		if err != nil {
			return nil, fmt.Errorf("drs53: reading width[%d]: %w", i, err)
		}
		widths[i] = p.RefGroupWidth + int(v)
		if widths[i] > maxBitWidth {
			return nil, fmt.Errorf("drs53: group %d width %d exceeds %d", i, widths[i], maxBitWidth)
		}
	}
	br.align()

	lengths := make([]int, ng)
	total := 0
	for i := range lengths {
		v, err := br.read(p.BitsGroupLength)
		if err != nil {
			return nil, fmt.Errorf("drs53: reading length[%d]: %w", i, err)
		}
		if i == ng-1 {
			// The last group's true length comes from the DRS header.
			lengths[i] = int(p.LenLastGroup)
		} else {
			lengths[i] = int(v)*int(p.LengthIncrement) + int(p.RefGroupLength)
		}
		total += lengths[i]
		if total > maxTotal {
			return nil, fmt.Errorf("drs53: total points %d exceeds maximum %d", total, maxTotal)
		}
	}
	br.align()

	if total < order {
		return nil, fmt.Errorf("drs53: %d values cannot seed order-%d differencing", total, order)
	}

	vals := make([]int64, 0, total)
	for g := 0; g < ng; g++ {
		w := widths[g]
		for k := 0; k < lengths[g]; k++ {
			if w == 0 {
				vals = append(vals, grefs[g]+yMin)
				continue
			}
			v, err := br.read(w)
			if err != nil {
				return nil, fmt.Errorf("drs53: reading group %d val %d: %w", g, k, err)
			}
			vals = append(vals, grefs[g]+int64(v)+yMin)
		}
	}

	// Undo spatial differencing in place.
	switch order {
	case 1:
		vals[0] = initVals[0]
		for i := 1; i < total; i++ {
			vals[i] += vals[i-1]
		}
	case 2:
		vals[0] = initVals[0]
		vals[1] = initVals[1]
		for i := 2; i < total; i++ {
			vals[i] += 2*vals[i-1] - vals[i-2]
		}
	}

	scaleE := math.Ldexp(1.0, p.BinaryScaleFactor)
	scaleD := math.Pow(10, float64(p.DecimalScaleFactor))
	out := make([]float64, total)
	for i, x := range vals {
		out[i] = (p.ReferenceValue + scaleE*float64(x)) / scaleD
	}
	return out, nil
}

// readSignMagOctets reads an m-byte sign-magnitude integer; the MSB is the sign.
func readSignMagOctets(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	raw := readUintOctets(b)
	signBit := uint64(1) << (uint64(len(b))*8 - 1)
	if raw&signBit != 0 {
		return -int64(raw &^ signBit)
	}
	return int64(raw)
}

func readUintOctets(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
