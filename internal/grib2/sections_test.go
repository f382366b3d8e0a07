package grib2

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

// makeSection3 builds a minimal GDT 3.30 section.
func makeSection3(ni, nj uint32, scanMode byte) []byte {
	sec := make([]byte, 81)
	binary.BigEndian.PutUint32(sec[0:4], 81)
	sec[4] = 3
	binary.BigEndian.PutUint16(sec[12:14], 30)
	g := sec[14:]
	binary.BigEndian.PutUint32(g[16:20], ni)
	binary.BigEndian.PutUint32(g[20:24], nj)
	binary.BigEndian.PutUint32(g[24:28], 35000000)
	binary.BigEndian.PutUint32(g[28:32], 262000000)
	binary.BigEndian.PutUint32(g[33:37], 38500000)
	binary.BigEndian.PutUint32(g[37:41], 262500000)
	binary.BigEndian.PutUint32(g[41:45], 3000000)
	binary.BigEndian.PutUint32(g[45:49], 3000000)
	g[50] = scanMode
	binary.BigEndian.PutUint32(g[51:55], 38500000)
	binary.BigEndian.PutUint32(g[55:59], 38500000)
	return sec
}

func TestDecodeScaleFactor(t *testing.T) {
	cases := []struct {
		raw  uint16
		want int
	}{
		{0x0000, 0},
		{0x0001, 1},
		{0x7FFF, 32767},
		{0x8001, -1},
		{0x8002, -2},
		{0xFFFF, -32767},
		{0x8000, 0}, // negative zero
	}
	for _, tc := range cases {
		if got := decodeScaleFactor(tc.raw); got != tc.want {
			t.Errorf("decodeScaleFactor(%#04x) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestParseSection0(t *testing.T) {
	b := make([]byte, 16)
	copy(b, "GRIB")
	b[6] = 10
	b[7] = 2
	binary.BigEndian.PutUint64(b[8:16], 123456)
	s0, err := parseSection0(b)
	if err != nil {
		t.Fatal(err)
	}
	if s0.Discipline != 10 || s0.Edition != 2 || s0.TotalLength != 123456 {
		t.Errorf("parseSection0 = %+v", s0)
	}
}

func TestParseSection0Errors(t *testing.T) {
	edition1 := make([]byte, 16)
	copy(edition1, "GRIB")
	edition1[7] = 1
	badMagic := make([]byte, 16)
	copy(badMagic, "GRIX")
	for name, b := range map[string][]byte{
		"empty":     nil,
		"short":     []byte("GRIB\x00\x00"),
		"bad magic": badMagic,
		"edition 1": edition1,
	} {
		if _, err := parseSection0(b); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestSectionAt(t *testing.T) {
	buf := []byte{
		0xDE, 0xAD, // prefix
		0x00, 0x00, 0x00, 0x09, 0x01, 0xAA, 0xBB, 0xCC, 0xDD,
		'7', '7', '7', '7',
	}
	sLen, sNum, sec, next, err := sectionAt(buf, 2)
	if err != nil {
		t.Fatal(err)
	}
	if sLen != 9 || sNum != 1 || len(sec) != 9 || next != 11 {
		t.Errorf("sectionAt = (%d, %d, len %d, %d)", sLen, sNum, len(sec), next)
	}
	sLen, sNum, _, next, err = sectionAt(buf, next)
	if err != nil {
		t.Fatal(err)
	}
	if sLen != 4 || sNum != 8 || next != len(buf) {
		t.Errorf("end marker = (%d, %d, %d)", sLen, sNum, next)
	}
}

func TestSectionAtErrors(t *testing.T) {
	cases := map[string][]byte{
		"truncated header":  {0x00, 0x00},
		"length overflows":  {0x00, 0x00, 0x00, 0x64, 0x03, 0x00},
		"max uint32 length": {0xFF, 0xFF, 0xFF, 0xFF, 0x03, 0x00},
		"length below 5":    {0x00, 0x00, 0x00, 0x02, 0x03, 0x00},
	}
	for name, buf := range cases {
		if _, _, _, _, err := sectionAt(buf, 0); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseSection3HRRR(t *testing.T) {
	s3, err := parseSection3HRRR(makeSection3(1799, 1059, 0x40))
	if err != nil {
		t.Fatal(err)
	}
	g := s3.Grid
	if g.Ni != 1799 || g.Nj != 1059 {
		t.Errorf("dims = %dx%d", g.Ni, g.Nj)
	}
	if g.La1 != 35 || g.Lo1 != 262 || g.LaD != 38.5 || g.LoV != 262.5 {
		t.Errorf("origin = %+v", g)
	}
	if g.Dx != 3000 || g.Dy != 3000 || g.Latin1 != 38.5 || g.Latin2 != 38.5 {
		t.Errorf("projection = %+v", g)
	}
}

func TestParseSection3Rejects(t *testing.T) {
	otherTemplate := makeSection3(10, 10, 0x40)
	binary.BigEndian.PutUint16(otherTemplate[12:14], 20)
	zeroDx := makeSection3(10, 10, 0x40)
	binary.BigEndian.PutUint32(zeroDx[14+41:14+45], 0)

	cases := map[string][]byte{
		"too short":        make([]byte, 40),
		"scan mode 0x00":   makeSection3(10, 10, 0x00),
		"scan mode 0x80":   makeSection3(10, 10, 0x80),
		"zero ni":          makeSection3(0, 10, 0x40),
		"huge nj":          makeSection3(10, maxGridDim+1, 0x40),
		"template 3.20":    otherTemplate,
		"zero grid length": zeroDx,
	}
	for name, sec := range cases {
		if _, err := parseSection3HRRR(sec); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseSection1(t *testing.T) {
	sec := make([]byte, 21)
	binary.BigEndian.PutUint16(sec[12:14], 2024)
	sec[14], sec[15], sec[16], sec[17], sec[18] = 7, 4, 18, 30, 0
	got, err := parseSection1(sec)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 7, 4, 18, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("parseSection1 = %v, want %v", got, want)
	}

	sec[14] = 13
	if _, err := parseSection1(sec); err == nil {
		t.Error("month 13: expected error")
	}
	if _, err := parseSection1(sec[:20]); err == nil {
		t.Error("20-byte section: expected error")
	}
}

func TestParseSection4(t *testing.T) {
	sec := make([]byte, 34)
	sec[9], sec[10] = 2, 2 // UGRD
	sec[17] = 1
	binary.BigEndian.PutUint32(sec[18:22], 6)
	sec[22] = 103
	sec[23] = 0
	binary.BigEndian.PutUint32(sec[24:28], 10)

	var p Product
	if err := parseSection4(sec, &p); err != nil {
		t.Fatal(err)
	}
	if p.Element() != "UGRD" || p.ShortName() != "10-HTGL" || p.ForecastOffset() != 6*time.Hour {
		t.Errorf("product = %s %s %v", p.Element(), p.ShortName(), p.ForecastOffset())
	}

	// 0.5 hPa expressed as scale 1, value -5 (sign-magnitude)
	sec[23] = 1
	binary.BigEndian.PutUint32(sec[24:28], 0x80000005)
	if err := parseSection4(sec, &p); err != nil {
		t.Fatal(err)
	}
	if math.Abs(p.Level()+0.5) > 1e-12 {
		t.Errorf("Level = %g, want -0.5", p.Level())
	}

	binary.BigEndian.PutUint16(sec[7:9], 40)
	if err := parseSection4(sec, &p); err == nil {
		t.Error("template 4.40: expected error")
	}
	if err := parseSection4(sec[:20], &p); err == nil {
		t.Error("short section: expected error")
	}
}
