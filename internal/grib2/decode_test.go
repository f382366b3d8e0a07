package grib2

// Malformed and adversarial messages must return errors, never panic.

import (
	"encoding/binary"
	"math"
	"testing"
)

func section(num byte, n int) []byte {
	s := make([]byte, n)
	binary.BigEndian.PutUint32(s[0:4], uint32(n))
	s[4] = num
	return s
}

func validSection1() []byte {
	s := section(1, 21)
	binary.BigEndian.PutUint16(s[12:14], 2024)
	s[14], s[15], s[16] = 1, 1, 12
	return s
}

func noBitmap() []byte {
	s := section(6, 6)
	s[5] = 255
	return s
}

// message joins Section 0 (discipline 0), the given sections and "7777",
// and fills in the total length.
func message(sections ...[]byte) []byte {
	msg := make([]byte, 16)
	copy(msg, "GRIB")
	msg[7] = 2
	for _, s := range sections {
		msg = append(msg, s...)
	}
	msg = append(msg, "7777"...)
	binary.BigEndian.PutUint64(msg[8:16], uint64(len(msg)))
	return msg
}

func TestDecodeMessageDRS0(t *testing.T) {
	msg := message(validSection1(), makeSection3(2, 2, 0x40), section(4, 34),
		buildDRS0Section(4, 0, 0, 0, 8), noBitmap(), buildSec7([]uint64{1, 2, 3, 4}, 8))
	f, err := DecodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if f.Grid.Ni != 2 || f.Grid.Nj != 2 {
		t.Errorf("grid = %dx%d", f.Grid.Ni, f.Grid.Nj)
	}
	for i, want := range []float64{1, 2, 3, 4} {
		if f.Vals[i] != want {
			t.Errorf("Vals[%d] = %g, want %g", i, f.Vals[i], want)
		}
	}
}

func TestDecodeMessageWithBitmap(t *testing.T) {
	bm := section(6, 7)
	bm[5] = 0
	bm[6] = 0xA0 // points 0 and 2
	msg := message(validSection1(), makeSection3(2, 2, 0x40), section(4, 34),
		buildDRS0Section(2, 0, 0, 0, 8), bm, buildSec7([]uint64{7, 9}, 8))
	f, err := DecodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if f.Vals[0] != 7 || f.Vals[2] != 9 || !math.IsNaN(f.Vals[1]) || !math.IsNaN(f.Vals[3]) {
		t.Errorf("Vals = %v, want [7 NaN 9 NaN]", f.Vals)
	}
}

func TestDecodeMessageValueCountMismatch(t *testing.T) {
	msg := message(makeSection3(3, 3, 0x40), section(4, 34),
		buildDRS0Section(4, 0, 0, 0, 8), noBitmap(), buildSec7([]uint64{1, 2, 3, 4}, 8))
	if _, err := DecodeMessage(msg); err == nil {
		t.Error("4 values for a 3x3 grid: expected error")
	}
}

func TestDecodeMessageRejects(t *testing.T) {
	drs5 := section(5, 21)
	binary.BigEndian.PutUint16(drs5[9:11], 40) // JPEG2000
	shortDRS0 := section(5, 11)
	predefined := section(6, 6)
	predefined[5] = 1
	reuse := section(6, 6)
	reuse[5] = 254

	truncated := message(makeSection3(2, 2, 0x40))
	binary.BigEndian.PutUint64(truncated[8:16], uint64(len(truncated)+100))

	tiny := message()
	binary.BigEndian.PutUint64(tiny[8:16], 8)

	sec3 := makeSection3(2, 2, 0x40)
	sec5 := buildDRS0Section(4, 0, 0, 0, 8)
	sec7 := buildSec7([]uint64{1, 2, 3, 4}, 8)

	cases := map[string][]byte{
		"empty":                 {},
		"bad magic":             []byte("NOPE\x00\x00\x00\x02\x00\x00\x00\x00\x00\x00\x00\x14"),
		"only section 0":        message(),
		"no section 3":          message(sec5, noBitmap(), sec7),
		"no section 5":          message(sec3, noBitmap(), sec7),
		"no section 7":          message(sec3, sec5, noBitmap()),
		"jpeg2000 template":     message(sec3, drs5, noBitmap(), sec7),
		"short DRS 5.0":         message(sec3, shortDRS0, noBitmap(), sec7),
		"predefined bitmap":     message(sec3, sec5, predefined, sec7),
		"254 without a bitmap":  message(sec3, sec5, reuse, sec7),
		"bad scan mode":         message(makeSection3(2, 2, 0x00), sec5, noBitmap(), sec7),
		"truncated":             truncated,
		"length below header":   tiny,
		"unknown section 9":     message(section(9, 6)),
		"bad reference time":    message(section(1, 21), sec3, sec5, noBitmap(), sec7),
		"short product section": message(sec3, section(4, 9), sec5, noBitmap(), sec7),
	}
	for name, msg := range cases {
		if _, err := DecodeMessage(msg); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDecodeMessageMultipleFieldsReturnsFirst(t *testing.T) {
	sec3 := makeSection3(2, 1, 0x40)
	msg := message(validSection1(), sec3, section(4, 34),
		buildDRS0Section(2, 0, 0, 0, 8), noBitmap(), buildSec7([]uint64{1, 2}, 8),
		buildDRS0Section(2, 0, 0, 0, 8), noBitmap(), buildSec7([]uint64{5, 6}, 8))
	f, err := DecodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if f.Vals[0] != 1 || f.Vals[1] != 2 {
		t.Errorf("Vals = %v, want [1 2]", f.Vals)
	}
	fields, n, err := splitMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 2 || n != len(msg) {
		t.Fatalf("splitMessage = %d fields, %d bytes", len(fields), n)
	}
	second, err := fields[1].decode()
	if err != nil {
		t.Fatal(err)
	}
	if second.Vals[0] != 5 || second.Vals[1] != 6 {
		t.Errorf("second field = %v, want [5 6]", second.Vals)
	}
}

func TestDecodeMessageDRS53(t *testing.T) {
	drs := makeDRS53Sec(1, 1, 1)
	tm := drs[11:]
	tm[8] = 4                                  // Nbits
	tm[24] = 4                                 // RefGroupWidth
	tm[25] = 4                                 // BitsGroupWidth
	tm[30] = 1                                 // LengthIncrement
	binary.BigEndian.PutUint32(tm[31:35], 3)   // LenLastGroup
	tm[35] = 4                                 // BitsGroupLength
	sec7 := []byte{0, 0, 0, 12, 7, 0x0A, 0x00, 0x00, 0x00, 0x00, 0x01, 0x20}

	msg := message(makeSection3(3, 1, 0x40), drs, noBitmap(), sec7)
	f, err := DecodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float64{10, 11, 13} {
		if f.Vals[i] != want {
			t.Errorf("Vals[%d] = %g, want %g", i, f.Vals[i], want)
		}
	}
}
