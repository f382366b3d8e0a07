package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/geal-ai/ninjagrid/internal/grib2"
	"github.com/geal-ai/ninjagrid/internal/hrrr"
)

// knownVars is the help text for --list.
var knownVars = []struct {
	key  string
	desc string
}{
	{"TMP:2 m above ground", "2 m air temperature (K → °C / °F)"},
	{"TMP:surface", "Surface skin temperature (K → °C / °F)"},
	{"DPT:2 m above ground", "2 m dew point (K → °C / °F)"},
	{"RH:2 m above ground", "2 m relative humidity (%)"},
	{"REFC:entire atmosphere", "Composite reflectivity (dBZ)"},
	{"CAPE:surface", "Surface CAPE (J/kg)"},
	{"UGRD:10 m above ground", "10 m U-component of wind (m/s → mph)"},
	{"VGRD:10 m above ground", "10 m V-component of wind (m/s → mph)"},
	{"GUST:surface", "Surface wind gust (m/s → mph)"},
	{"PRATE:surface", "Precipitation rate (kg/m²/s → in/hr)"},
	{"APCP:surface", "Total accumulated precipitation (kg/m²)"},
	{"HGT:cloud top", "Cloud top height (m → ft)"},
	{"HGT:cloud ceiling", "Cloud ceiling height (m → ft)"},
	{"VIS:surface", "Surface visibility (m → miles)"},
	{"PRES:surface", "Surface pressure (Pa → hPa)"},
	{"TCDC:entire atmosphere", "Total cloud cover (%)"},
	{"SPFH:2 m above ground", "2 m specific humidity (kg/kg)"},
}

// jsonLocation is the location sub-object in JSON output.
type jsonLocation struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// jsonField is a single variable result in JSON output.
type jsonField struct {
	Variable string             `json:"variable"`
	Values   map[string]float64 `json:"values,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// jsonOutput is the top-level JSON response.
type jsonOutput struct {
	Location jsonLocation `json:"location"`
	Run      string       `json:"run"`
	Valid    string       `json:"valid"`
	Fxx      int          `json:"fxx"`
	Fields   []jsonField  `json:"fields"`
}

// varResult holds one looked-up variable.
type varResult struct {
	key string
	val float64
	err error
}

// pointQuery is everything a point lookup prints.
type pointQuery struct {
	lat, lon float64
	run      time.Time
	fxx      int
	results  []varResult
}

func (a *app) pointCmd() *cobra.Command {
	var (
		varLevel string
		fxx      int
		runStr   string
		file     string
		all      bool
		asJSON   bool
		list     bool
	)
	cmd := &cobra.Command{
		Use:   "point <lat> <lon>",
		Short: "Print HRRR values at a latitude/longitude",
		Example: `  ninjagrid point 39.64 -106.37
  ninjagrid point --var "REFC:entire atmosphere" --fxx 1 39.64 -106.37
  ninjagrid point --all --json 39.64 -106.37
  ninjagrid point --file hrrr.grib2 --var UGRD 39.64 -106.37
  ninjagrid point --list`,
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return nil
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				printVarList(out)
				return nil
			}
			lat, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid lat %q: %v", args[0], err)
			}
			lon, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid lon %q: %v", args[1], err)
			}
			keys := []string{varLevel}
			if all {
				keys = keys[:0]
				for _, v := range knownVars {
					keys = append(keys, v.key)
				}
			}

			var q *pointQuery
			if file != "" {
				q, err = lookupFile(file, keys, lat, lon)
			} else {
				q, err = a.lookupRemote(cmd.Context(), runStr, fxx, keys, lat, lon)
			}
			if err != nil {
				return err
			}
			if !all {
				r := q.results[0]
				if r.err != nil {
					return fmt.Errorf("fetch failed: %w", r.err)
				}
				if math.IsNaN(r.val) {
					return fmt.Errorf("(%.4f, %.4f) is outside the HRRR CONUS domain", lat, lon)
				}
			}
			if asJSON {
				return emitJSON(out, q)
			}
			printResults(out, q)
			return nil
		},
	}
	cmd.Flags().StringVar(&varLevel, "var", "TMP:2 m above ground", "HRRR variable/level string (see --list)")
	cmd.Flags().IntVar(&fxx, "fxx", 0, "Forecast hour (0 = analysis/current conditions, max 48)")
	cmd.Flags().StringVar(&runStr, "run", "", "Model run time UTC, e.g. 2026-02-21T12:00:00Z (default: auto-detect latest)")
	cmd.Flags().StringVar(&file, "file", "", "Read a local GRIB2 file instead of the NOAA bucket")
	cmd.Flags().BoolVar(&all, "all", false, "Fetch and display all known variables")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&list, "list", false, "Print common variable strings and exit")
	return cmd
}

// lookupRemote fetches each variable from one run, up to six at a time.
func (a *app) lookupRemote(ctx context.Context, runStr string, fxx int, keys []string, lat, lon float64) (*pointQuery, error) {
	c := a.client()
	run, err := a.resolveRun(ctx, c, runStr, fxx)
	if err != nil {
		return nil, err
	}
	results := make([]varResult, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(6)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, 60*time.Second)
			defer cancel()
			field, err := c.FetchField(tctx, run, fxx, key)
			if err != nil {
				results[i] = varResult{key: key, err: err}
				return nil
			}
			results[i] = varResult{key: key, val: field.Lookup(lat, lon)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &pointQuery{lat: lat, lon: lon, run: run, fxx: fxx, results: results}, nil
}

// lookupFile reads each variable from a local GRIB2 file. A key selects the
// first band whose element matches the part before the colon.
func lookupFile(path string, keys []string, lat, lon float64) (*pointQuery, error) {
	ds, err := grib2.Open(path)
	if err != nil {
		return nil, err
	}
	q := &pointQuery{lat: lat, lon: lon, results: make([]varResult, len(keys))}
	for i, key := range keys {
		elem := strings.SplitN(key, ":", 2)[0]
		q.results[i] = varResult{key: key, err: fmt.Errorf("%s: no %s band", path, elem)}
		for n := 1; n <= ds.BandCount(); n++ {
			b, err := ds.Band(n)
			if err != nil {
				return nil, err
			}
			if b.Metadata(grib2.MetaElement) != elem {
				continue
			}
			f, err := b.Field()
			if err != nil {
				q.results[i] = varResult{key: key, err: err}
				break
			}
			if q.run.IsZero() {
				q.run = b.Product.RefTime
				q.fxx = int(b.Product.ForecastOffset().Hours())
			}
			q.results[i] = varResult{key: key, val: f.Lookup(lat, lon)}
			break
		}
	}
	return q, nil
}

// formatValue returns a human-readable string for a variable value with unit conversions.
func formatValue(varLevel string, val float64) string {
	prefix := strings.SplitN(varLevel, ":", 2)[0]
	switch prefix {
	case "TMP", "DPT":
		c := val - 273.15
		f := c*9/5 + 32
		return fmt.Sprintf("%.2f K  /  %.2f °C  /  %.1f °F", val, c, f)
	case "UGRD", "VGRD", "WIND", "GUST":
		mph := val * 2.23694
		return fmt.Sprintf("%.2f m/s  /  %.1f mph", val, mph)
	case "PRATE":
		inhr := val * 141732.28
		return fmt.Sprintf("%.6f kg/m²/s  /  %.4f in/hr", val, inhr)
	case "HGT":
		ft := val * 3.28084
		return fmt.Sprintf("%.1f m  /  %.0f ft", val, ft)
	case "VIS":
		mi := val / 1609.344
		return fmt.Sprintf("%.0f m  /  %.2f miles", val, mi)
	case "PRES", "MSLMA":
		hpa := val / 100
		return fmt.Sprintf("%.1f Pa  /  %.2f hPa", val, hpa)
	case "REFC":
		return fmt.Sprintf("%.0f dBZ", val)
	default:
		return fmt.Sprintf("%g", val)
	}
}

// valueMap returns a map of named unit-converted values for JSON output.
func valueMap(varLevel string, val float64) map[string]float64 {
	prefix := strings.SplitN(varLevel, ":", 2)[0]
	m := map[string]float64{"raw": val}
	switch prefix {
	case "TMP", "DPT":
		m["celsius"] = val - 273.15
		m["fahrenheit"] = (val-273.15)*9/5 + 32
	case "UGRD", "VGRD", "WIND", "GUST":
		m["mph"] = val * 2.23694
	case "PRATE":
		m["in_hr"] = val * 141732.28
	case "HGT":
		m["feet"] = val * 3.28084
	case "VIS":
		m["miles"] = val / 1609.344
	case "PRES", "MSLMA":
		m["hpa"] = val / 100
	}
	return m
}

// emitJSON writes the query as indented JSON.
func emitJSON(w io.Writer, q *pointQuery) error {
	fields := make([]jsonField, len(q.results))
	for i, r := range q.results {
		switch {
		case r.err != nil:
			fields[i] = jsonField{Variable: r.key, Error: r.err.Error()}
		case math.IsNaN(r.val):
			fields[i] = jsonField{Variable: r.key, Error: "outside HRRR CONUS domain"}
		default:
			fields[i] = jsonField{Variable: r.key, Values: valueMap(r.key, r.val)}
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonOutput{
		Location: jsonLocation{Lat: q.lat, Lon: q.lon},
		Run:      q.run.UTC().Format(time.RFC3339),
		Valid:    q.run.Add(time.Duration(q.fxx) * time.Hour).UTC().Format(time.RFC3339),
		Fxx:      q.fxx,
		Fields:   fields,
	}); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

// printResults displays a header, then one line per variable.
func printResults(w io.Writer, q *pointQuery) {
	forecastLabel := "analysis (f00)"
	if q.fxx > 0 {
		forecastLabel = fmt.Sprintf("f%02d (+%dh forecast)", q.fxx, q.fxx)
	}
	validTime := q.run.Add(time.Duration(q.fxx) * time.Hour)
	maxKey := 0
	for _, r := range q.results {
		maxKey = max(maxKey, len(r.key))
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Location : %.4f°N  %.4f°E\n", q.lat, q.lon)
	fmt.Fprintf(w, "  Run      : %s UTC\n", q.run.UTC().Format("2006-01-02 15:04Z"))
	fmt.Fprintf(w, "  Valid    : %s UTC  [%s]\n", validTime.UTC().Format("2006-01-02 15:04Z"), forecastLabel)
	fmt.Fprintf(w, "\n")
	for _, r := range q.results {
		switch {
		case r.err != nil:
			fmt.Fprintf(w, "  %-*s  error: %v\n", maxKey, r.key, r.err)
		case math.IsNaN(r.val):
			fmt.Fprintf(w, "  %-*s  (outside domain)\n", maxKey, r.key)
		default:
			fmt.Fprintf(w, "  %-*s  %s\n", maxKey, r.key, formatValue(r.key, r.val))
		}
	}
	fmt.Fprintf(w, "\n")
}

func printVarList(w io.Writer) {
	fmt.Fprintln(w, "Common HRRR variable strings for use with --var:")
	fmt.Fprintln(w)
	maxKey := 0
	for _, v := range knownVars {
		maxKey = max(maxKey, len(v.key))
	}
	for _, v := range knownVars {
		fmt.Fprintf(w, "  %-*s  %s\n", maxKey, v.key, v.desc)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The string must match a substring of a line in the HRRR .idx file.")
	fmt.Fprintf(w, "Browse all fields at: %s/\n", hrrr.DefaultBaseURL)
	fmt.Fprintln(w, "  e.g. hrrr.20260101/conus/hrrr.t00z.wrfsfcf00.grib2.idx")
}
