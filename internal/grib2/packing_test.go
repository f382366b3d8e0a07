package grib2

import (
	"encoding/binary"
	"math"
	"testing"
)

// buildDRS0Section builds a Section 5 for DRS Template 5.0.
func buildDRS0Section(n int, R float32, E, D int16, nBits int) []byte {
	sec := make([]byte, 21)
	binary.BigEndian.PutUint32(sec[0:4], 21)
	sec[4] = 5
	binary.BigEndian.PutUint32(sec[5:9], uint32(n))
	binary.BigEndian.PutUint32(sec[11:15], math.Float32bits(R))
	sm := func(v int16) uint16 {
		if v < 0 {
			return 0x8000 | uint16(-v)
		}
		return uint16(v)
	}
	binary.BigEndian.PutUint16(sec[15:17], sm(E))
	binary.BigEndian.PutUint16(sec[17:19], sm(D))
	sec[19] = byte(nBits)
	return sec
}

// buildSec7 packs vals MSB-first at nBits each behind a section header.
func buildSec7(vals []uint64, nBits int) []byte {
	data := make([]byte, (len(vals)*nBits+7)/8)
	pos := 0
	for _, v := range vals {
		for b := nBits - 1; b >= 0; b-- {
			if (v>>uint(b))&1 == 1 {
				data[pos/8] |= 0x80 >> uint(pos%8)
			}
			pos++
		}
	}
	sec := make([]byte, 5+len(data))
	binary.BigEndian.PutUint32(sec[0:4], uint32(len(sec)))
	sec[4] = 7
	copy(sec[5:], data)
	return sec
}

// makeDRS53Sec builds a minimal DRS 5.3 section with the given group count.
func makeDRS53Sec(ng uint32, orderSD, nOctetsExtra byte) []byte {
	sec := make([]byte, 49)
	binary.BigEndian.PutUint32(sec[0:4], 49)
	sec[4] = 5
	binary.BigEndian.PutUint16(sec[9:11], 3)
	t := sec[11:]
	binary.BigEndian.PutUint32(t[20:24], ng)
	t[36] = orderSD
	t[37] = nOctetsExtra
	return sec
}

// emptySec7 holds only the extra descriptors for (order, m).
func emptySec7(order, m int) []byte {
	n := 5 + (order+1)*m
	sec := make([]byte, n)
	binary.BigEndian.PutUint32(sec[0:4], uint32(n))
	sec[4] = 7
	return sec
}

func TestParseDRS0(t *testing.T) {
	p, err := parseDRS0(buildDRS0Section(4, 273.5, -1, 2, 12))
	if err != nil {
		t.Fatal(err)
	}
	if p.N != 4 || p.ReferenceValue != 273.5 || p.BinaryScaleFactor != -1 ||
		p.DecimalScaleFactor != 2 || p.Nbits != 12 {
		t.Errorf("parseDRS0 = %+v", p)
	}
}

func TestParseDRS0Rejects(t *testing.T) {
	cases := map[string][]byte{
		"too short":  make([]byte, 15),
		"nbits 65":   buildDRS0Section(4, 0, 0, 0, 65),
		"N too high": buildDRS0Section(maxTotal+1, 0, 0, 0, 8),
	}
	for name, sec := range cases {
		if _, err := parseDRS0(sec); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestUnpackDRS0(t *testing.T) {
	cases := []struct {
		name string
		p    DRS0Params
		sec7 []byte
		want []float64
	}{
		{
			name: "plain",
			p:    DRS0Params{N: 4, Nbits: 8},
			sec7: buildSec7([]uint64{1, 2, 3, 4}, 8),
			want: []float64{1, 2, 3, 4},
		},
		{
			name: "constant field",
			p:    DRS0Params{N: 3, ReferenceValue: 2931, DecimalScaleFactor: 1},
			sec7: buildSec7(nil, 0),
			want: []float64{293.1, 293.1, 293.1},
		},
		{
			name: "binary and decimal scale",
			p:    DRS0Params{N: 2, ReferenceValue: 100, BinaryScaleFactor: 1, DecimalScaleFactor: 1, Nbits: 5},
			sec7: buildSec7([]uint64{0, 5}, 5),
			want: []float64{10, 11},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := unpackDRS0(tc.sec7, tc.p)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if math.Abs(got[i]-tc.want[i]) > 1e-9 {
					t.Errorf("[%d] = %g, want %g", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestUnpackDRS0Truncated(t *testing.T) {
	if _, err := unpackDRS0([]byte{0, 0, 0}, DRS0Params{}); err == nil {
		t.Error("3-byte section 7: expected error")
	}
	if _, err := unpackDRS0(buildSec7([]uint64{1}, 8), DRS0Params{N: 5, Nbits: 8}); err == nil {
		t.Error("5 values in 1 byte: expected error")
	}
}

func TestReadOctets(t *testing.T) {
	cases := []struct {
		b        []byte
		unsigned uint64
		signed   int64
	}{
		{nil, 0, 0},
		{[]byte{0x0A}, 10, 10},
		{[]byte{0x8A}, 0x8A, -10},
		{[]byte{0x01, 0x00}, 256, 256},
		{[]byte{0x80, 0x01}, 0x8001, -1},
		{[]byte{0x01, 0x02, 0x03}, 0x010203, 0x010203},
		{[]byte{0xFF, 0xFF, 0xFF, 0xFF}, 0xFFFFFFFF, -0x7FFFFFFF},
	}
	for _, tc := range cases {
		if got := readUintOctets(tc.b); got != tc.unsigned {
			t.Errorf("readUintOctets(%x) = %d, want %d", tc.b, got, tc.unsigned)
		}
		if got := readSignMagOctets(tc.b); got != tc.signed {
			t.Errorf("readSignMagOctets(%x) = %d, want %d", tc.b, got, tc.signed)
		}
	}
}

func TestParseDRS53GroupCount(t *testing.T) {
	for _, ng := range []uint32{0, maxNG + 1, 0xFFFFFFFF} {
		if _, err := parseDRS53(makeDRS53Sec(ng, 2, 2)); err == nil {
			t.Errorf("ng=%d: expected error", ng)
		}
	}
	p, err := parseDRS53(makeDRS53Sec(1, 2, 2))
	if err != nil {
		t.Fatal(err)
	}
	if p.NG != 1 || p.OrderSpatialDiff != 2 || p.NOctetsExtra != 2 {
		t.Errorf("parseDRS53 = %+v", p)
	}
}

func TestParseDRS53BitWidths(t *testing.T) {
	for _, off := range []int{8, 25, 35} {
		sec := makeDRS53Sec(1, 1, 1)
		sec[11+off] = maxBitWidth + 1
		if _, err := parseDRS53(sec); err == nil {
			t.Errorf("width at template octet %d = 65: expected error", off)
		}
	}
	if _, err := parseDRS53(make([]byte, 30)); err == nil {
		t.Error("short section: expected error")
	}
}

func TestUnpackDRS53Rejects(t *testing.T) {
	cases := []struct {
		name string
		sec7 []byte
		p    DRS53Params
	}{
		{"short section", []byte{0, 0, 7}, DRS53Params{OrderSpatialDiff: 1, NOctetsExtra: 1}},
		{"order 0", emptySec7(1, 1), DRS53Params{OrderSpatialDiff: 0, NOctetsExtra: 1, NG: 1}},
		{"order 3", emptySec7(1, 1), DRS53Params{OrderSpatialDiff: 3, NOctetsExtra: 1, NG: 1}},
		{"extra octets 0", emptySec7(1, 1), DRS53Params{OrderSpatialDiff: 1, NOctetsExtra: 0, NG: 1}},
		{"extra octets 5", emptySec7(1, 1), DRS53Params{OrderSpatialDiff: 1, NOctetsExtra: 5, NG: 1}},
		{"truncated descriptors", make([]byte, 7), DRS53Params{OrderSpatialDiff: 2, NOctetsExtra: 4, NG: 1}},
		{"total above limit", emptySec7(2, 1), DRS53Params{OrderSpatialDiff: 2, NOctetsExtra: 1, NG: 1, LenLastGroup: 20_000_000}},
		{"order 2 total 0", emptySec7(2, 1), DRS53Params{OrderSpatialDiff: 2, NOctetsExtra: 1, NG: 1}},
		{"order 2 total 1", emptySec7(2, 1), DRS53Params{OrderSpatialDiff: 2, NOctetsExtra: 1, NG: 1, LenLastGroup: 1}},
		{"order 1 total 0", emptySec7(1, 1), DRS53Params{OrderSpatialDiff: 1, NOctetsExtra: 1, NG: 1}},
	}
	for _, tc := range cases {
		if _, err := unpackDRS53(tc.sec7, tc.p); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

// One group, first-order differencing, three values.
//
//	descriptors: initial value 10, minimum 0
//	group ref 0 (4 bits), width delta 0 (RefGroupWidth 4), length ignored
//	packed values 0, 1, 2 → differences restore 10, 11, 13
func TestUnpackDRS53Order1(t *testing.T) {
	sec7 := []byte{0, 0, 0, 12, 7,
		0x0A, 0x00,
		0x00,
		0x00,
		0x00,
		0x01, 0x20,
	}
	p := DRS53Params{
		Nbits:            4,
		NG:               1,
		RefGroupWidth:    4,
		BitsGroupWidth:   4,
		LengthIncrement:  1,
		LenLastGroup:     3,
		BitsGroupLength:  4,
		OrderSpatialDiff: 1,
		NOctetsExtra:     1,
	}
	got, err := unpackDRS53(sec7, p)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{10, 11, 13}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %g, want %g", i, got[i], want[i])
		}
	}
}

// Second order with a negative minimum: descriptors 5, 7, min -1 and one
// zero-width group with reference 1, so every difference is 0 and the
// series continues linearly.
func TestUnpackDRS53Order2(t *testing.T) {
	sec7 := []byte{0, 0, 0, 12, 7,
		0x05, 0x07, 0x81, // init 5, 7; min -1
		0x10, // gref 1 in 4 bits
		0x00, // width 0
		0x00, // length
	}
	p := DRS53Params{
		Nbits:            4,
		NG:               1,
		BitsGroupWidth:   4,
		BitsGroupLength:  4,
		LenLastGroup:     4,
		OrderSpatialDiff: 2,
		NOctetsExtra:     1,
	}
	got, err := unpackDRS53(sec7, p)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{5, 7, 9, 11}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %g, want %g", i, got[i], want[i])
		}
	}
}
