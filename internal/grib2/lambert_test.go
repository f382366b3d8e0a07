package grib2

import (
	"math"
	"testing"
)

// conusGrid matches Section 3 of any HRRR CONUS message.
func conusGrid() LambertGrid {
	return LambertGrid{
		Ni:       1799,
		Nj:       1059,
		La1:      21.138123,
		Lo1:      237.280472,
		LaD:      38.5,
		LoV:      262.5,
		Latin1:   38.5,
		Latin2:   38.5,
		Dx:       3000.0,
		Dy:       3000.0,
		ScanMode: 0x40,
	}
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func TestNormLon(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-97.5, -97.5},
		{180, 180},
		{181, -179},
		{262.5, -97.5},
		{237.280472, -122.719528},
		{360, 0},
	}
	for _, tc := range cases {
		if got := NormLon(tc.in); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("NormLon(%g) = %g, want %g", tc.in, got, tc.want)
		}
	}
}

func TestSize(t *testing.T) {
	g := conusGrid()
	if ni, nj := g.Size(); ni != 1799 || nj != 1059 {
		t.Errorf("Size() = %d, %d", ni, nj)
	}
}

// Reference indices come from herbie/cfgrib nearest-neighbour lookups.
func TestLatLonToIJKnownPoints(t *testing.T) {
	g := conusGrid()
	cases := []struct {
		name         string
		lat, lon     float64
		wantI, wantJ int
	}{
		{"Vail Pass CO", 39.54, -106.19, 651, 579},
		{"Denver CO", 39.74, -104.98, 686, 584},
		{"Seattle WA", 47.61, -122.33, 278, 953},
	}
	for _, tc := range cases {
		i, j := g.LatLonToIJ(tc.lat, tc.lon)
		if absInt(i-tc.wantI) > 1 || absInt(j-tc.wantJ) > 1 {
			t.Errorf("%s: LatLonToIJ = (%d, %d), want (%d, %d) ±1", tc.name, i, j, tc.wantI, tc.wantJ)
		}
	}
}

func TestIjToLatLonOrigin(t *testing.T) {
	g := conusGrid()
	lat, lon := g.IjToLatLon(0, 0)
	if math.Abs(lat-g.La1) > 1e-3 || math.Abs(lon-NormLon(g.Lo1)) > 1e-3 {
		t.Errorf("IjToLatLon(0,0) = (%.6f, %.6f), want (%.6f, %.6f)", lat, lon, g.La1, NormLon(g.Lo1))
	}
}

func TestIJRoundtripSample(t *testing.T) {
	g := conusGrid()
	failures := 0
	for j := 0; j < g.Nj; j += 100 {
		for i := 0; i < g.Ni; i += 100 {
			lat, lon := g.IjToLatLon(i, j)
			i2, j2 := g.LatLonToIJ(lat, lon)
			if i2 != i || j2 != j {
				t.Errorf("(%d,%d) → (%.4f,%.4f) → (%d,%d)", i, j, lat, lon, i2, j2)
				if failures++; failures >= 5 {
					t.Fatal("too many roundtrip failures")
				}
			}
		}
	}
}

func TestLatLonRoundtripInterior(t *testing.T) {
	g := conusGrid()
	for _, pt := range []struct {
		name     string
		lat, lon float64
	}{
		{"Denver CO", 39.74, -104.98},
		{"Chicago IL", 41.88, -87.63},
		{"Miami FL", 25.77, -80.19},
	} {
		i, j := g.LatLonToIJ(pt.lat, pt.lon)
		lat, lon := g.IjToLatLon(i, j)
		// half a 3 km cell is ~0.014°
		if math.Abs(lat-pt.lat) > 0.02 || math.Abs(lon-pt.lon) > 0.02 {
			t.Errorf("%s: (%.4f, %.4f) → (%.4f, %.4f)", pt.name, pt.lat, pt.lon, lat, lon)
		}
	}
}

func TestLookup(t *testing.T) {
	g := conusGrid()
	vals := make([]float64, g.Ni*g.Nj)
	i, j := g.LatLonToIJ(39.54, -106.19)
	vals[j*g.Ni+i] = 259.061798

	if got := g.Lookup(39.54, -106.19, vals); got != 259.061798 {
		t.Errorf("Lookup(Vail Pass) = %g, want 259.061798", got)
	}
	if got := g.Lookup(10, -170, vals); !math.IsNaN(got) {
		t.Errorf("Lookup outside grid = %g, want NaN", got)
	}
	if got := g.Lookup(39.54, -106.19, vals[:10]); !math.IsNaN(got) {
		t.Errorf("Lookup with short vals = %g, want NaN", got)
	}
}

func TestFieldLookup(t *testing.T) {
	g := LambertGrid{Ni: 3, Nj: 2, La1: 35, Lo1: 262, LoV: 262.5, Latin1: 38.5, Latin2: 38.5, Dx: 3000, Dy: 3000, ScanMode: 0x40}
	f := &Field{Grid: g, Vals: []float64{0, 1, 2, 10, 11, 12}}
	lat, lon := g.IjToLatLon(2, 1)
	if got := f.Lookup(lat, lon); got != 12 {
		t.Errorf("Lookup(2,1) = %g, want 12", got)
	}
}
