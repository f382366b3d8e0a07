package warp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
)

// LongLat is the PROJ definition of the geographic WGS84 system.
const LongLat = "+proj=longlat +datum=WGS84"

// ParseSRS parses a WKT or PROJ.4 definition. The EPSG codes a GeoTIFF
// decoder reports for common DEMs (4326, the WGS84 UTM zones and the NAD83
// UTM zones 1-23N) are expanded to PROJ.4 first.
func ParseSRS(def string) (*proj.SR, error) {
	def = strings.TrimSpace(def)
	if def == "" {
		return nil, fmt.Errorf("warp: empty spatial reference")
	}
	if code, ok := strings.CutPrefix(strings.ToUpper(def), "EPSG:"); ok {
		expanded, err := epsgToProj4(code)
		if err != nil {
			return nil, err
		}
		def = expanded
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("warp: parse spatial reference: %w", err)
	}
	return sr, nil
}

func epsgToProj4(code string) (string, error) {
	n, err := strconv.Atoi(code)
	if err != nil {
		return "", fmt.Errorf("warp: bad EPSG code %q", code)
	}
	switch {
	case n == 4326:
		return LongLat, nil
	case n > 32600 && n <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84", n-32600), nil
	case n > 32700 && n <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84", n-32700), nil
	case n >= 26901 && n <= 26923:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=NAD83", n-26900), nil
	}
	return "", fmt.Errorf("warp: EPSG:%d has no built-in definition", n)
}
