// Package grib2 decodes the GRIB2 edition 2 files NOAA publishes for HRRR:
// GDT 3.30 Lambert conformal grids, simple packing (DRS 5.0), complex packing
// with spatial differencing (DRS 5.3) and bitmaps.
package grib2

import "math"

const earthRadiusM = 6371229.0 // shape-of-earth=6 (sphere), HRRR standard

// LambertGrid holds parsed GDT 3.30 parameters.
type LambertGrid struct {
	Ni, Nj         int
	La1, Lo1       float64 // first grid point (SW corner), degrees, Lo1 0-360
	LaD            float64 // latitude where Dx/Dy apply
	LoV            float64 // central meridian, degrees 0-360
	Latin1, Latin2 float64 // standard parallels, degrees
	Dx, Dy         float64 // grid spacing, metres
	ScanMode       byte
}

// Size returns the grid dimensions.
func (g *LambertGrid) Size() (ni, nj int) { return g.Ni, g.Nj }

func (g *LambertGrid) n() float64 {
	if g.Latin1 == g.Latin2 {
		return math.Sin(toRad(g.Latin1))
	}
	φ1 := toRad(g.Latin1)
	φ2 := toRad(g.Latin2)
	return math.Log(math.Cos(φ1)/math.Cos(φ2)) /
		math.Log(math.Tan(math.Pi/4+φ2/2)/math.Tan(math.Pi/4+φ1/2))
}

func (g *LambertGrid) bigF() float64 {
	n := g.n()
	φ1 := toRad(g.Latin1)
	return math.Cos(φ1) * math.Pow(math.Tan(math.Pi/4+φ1/2), n) / n
}

// rho is the cone distance in metres from the pole at latDeg.
func (g *LambertGrid) rho(latDeg float64) float64 {
	φ := toRad(latDeg)
	return earthRadiusM * g.bigF() / math.Pow(math.Tan(math.Pi/4+φ/2), g.n())
}

// xy projects (lat, lon) onto the cone plane; y grows northward.
func (g *LambertGrid) xy(lat, lon float64) (x, y float64) {
	ρ := g.rho(lat)
	θ := g.n() * toRad(NormLon(lon)-NormLon(g.LoV))
	return ρ * math.Sin(θ), -ρ * math.Cos(θ)
}

// LatLonToIJ maps (lat°N, lon°E) to the nearest grid indices.
// i increases eastward, j northward (scan mode 0x40).
func (g *LambertGrid) LatLonToIJ(lat, lon float64) (i, j int) {
	x, y := g.xy(lat, lon)
	x0, y0 := g.xy(g.La1, g.Lo1)
	return int(math.Round((x - x0) / g.Dx)), int(math.Round((y - y0) / g.Dy))
}

// IjToLatLon maps grid indices to (lat°N, lon°E signed).
func (g *LambertGrid) IjToLatLon(i, j int) (lat, lon float64) {
	n := g.n()
	x0, y0 := g.xy(g.La1, g.Lo1)
	x := x0 + float64(i)*g.Dx
	y := y0 + float64(j)*g.Dy

	ρ := math.Hypot(x, y)
	if ρ == 0 {
		return 90, NormLon(g.LoV)
	}
	θ := math.Atan2(x, -y)
	φ := 2*math.Atan(math.Pow(earthRadiusM*g.bigF()/ρ, 1/n)) - math.Pi/2
	return toDeg(φ), NormLon(NormLon(g.LoV) + toDeg(θ)/n)
}

// Lookup returns the nearest-neighbour value at (lat, lon) from row-major
// vals (index j*Ni+i), or NaN outside the grid.
func (g *LambertGrid) Lookup(lat, lon float64, vals []float64) float64 {
	i, j := g.LatLonToIJ(lat, lon)
	if i < 0 || i >= g.Ni || j < 0 || j >= g.Nj || j*g.Ni+i >= len(vals) {
		return math.NaN()
	}
	return vals[j*g.Ni+i]
}

func toRad(d float64) float64 { return d * math.Pi / 180 }
func toDeg(r float64) float64 { return r * 180 / math.Pi }

// NormLon converts a 0-360 longitude to -180..+180.
func NormLon(lon float64) float64 {
	if lon > 180 {
		return lon - 360
	}
	return lon
}
