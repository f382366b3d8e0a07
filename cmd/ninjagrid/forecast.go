package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geal-ai/ninjagrid/internal/grib2"
	"github.com/geal-ai/ninjagrid/internal/grid"
	"github.com/geal-ai/ninjagrid/internal/hrrr"
)

func (a *app) initializer() *hrrr.Initializer {
	return &hrrr.Initializer{Logger: a.logger, Metrics: a.metrics}
}

func (a *app) identifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identify <forecast>",
		Short: "Report whether a GRIB2 file is an HRRR surface forecast",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := a.initializer()
			out := cmd.OutOrStdout()
			if !in.Identify(args[0]) {
				_, err := in.Check(args[0])
				fmt.Fprintf(out, "%s: not an HRRR surface forecast (%v)\n", args[0], err)
				return nil
			}
			l, err := in.Check(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s, layout %s (u-wind band %d)\n", args[0], hrrr.Identifier, l.Name, l.UWind)
			return nil
		},
	}
}

func (a *app) bandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bands <file>",
		Short: "List the bands of a GRIB2 file with their metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := grib2.Open(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Driver: GRIB2\nFiles: %s\nBands: %d\n", args[0], ds.BandCount())
			for n := 1; n <= ds.BandCount(); n++ {
				b, err := ds.Band(n)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Band %d Type=Float64\n", n)
				fmt.Fprintf(out, "  Description = %s\n", b.Metadata(grib2.MetaShortName))
				md := b.MetadataMap()
				keys := make([]string, 0, len(md))
				for k := range md {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				fmt.Fprintln(out, "  Metadata:")
				for _, k := range keys {
					fmt.Fprintf(out, "    %s=%s\n", k, md[k])
				}
			}
			return nil
		},
	}
}

// gridFiles are the initialization outputs, in the order init writes them.
var gridFiles = []string{"air.asc", "cloud.asc", "u.asc", "v.asc", "w.asc"}

func (a *app) initCmd() *cobra.Command {
	var demPath, at, outDir string
	cmd := &cobra.Command{
		Use:   "init <forecast>",
		Short: "Warp an HRRR forecast onto a DEM grid",
		Long: `init warps the 2 m temperature, 10 m wind and cloud-top bands of an HRRR
surface forecast onto the DEM grid and writes air.asc (K), cloud.asc (0/1),
u.asc, v.asc and w.asc (m/s) to --out-dir.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			dem, err := grid.ReadFile(demPath)
			if err != nil {
				return fmt.Errorf("read DEM: %w", err)
			}
			if dem.Prj == "" {
				return errors.New("DEM has no projection; add a .prj sidecar")
			}

			when, err := forecastTime(path, at)
			if err != nil {
				return err
			}
			a.logger.Info("initializing from forecast",
				zap.String("forecast", path), zap.Time("time", when), zap.String("dem", demPath))
			s, err := a.initializer().SurfaceGrids(path, when, dem.Header)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			for k, g := range []*grid.Grid{s.Air, s.Cloud, s.U, s.V, s.W} {
				dst := filepath.Join(outDir, gridFiles[k])
				if err := g.WriteASCIIFile(dst); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), dst)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&demPath, "dem", "", "DEM grid (.asc or .tif) defining the output grid (required)")
	cmd.Flags().StringVar(&at, "time", "", "Forecast time, RFC3339 (default: the file's only time step)")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "Directory for the output grids")
	cmd.MarkFlagRequired("dem")
	return cmd
}

// forecastTime parses at, or returns the forecast's single time step when
// at is empty.
func forecastTime(path, at string) (time.Time, error) {
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --time %q: use RFC3339, e.g. 2026-02-21T13:00:00Z", at)
		}
		return t, nil
	}
	ds, err := grib2.Open(path)
	if err != nil {
		return time.Time{}, err
	}
	times, err := hrrr.TimeList(ds)
	if err != nil {
		return time.Time{}, err
	}
	return times[0], nil
}
