package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/geal-ai/ninjagrid/internal/grid"
	"github.com/geal-ai/ninjagrid/internal/output"
)

func (a *app) writeCmd() *cobra.Command {
	var spdPath, dirPath, dustPath, demPath, at, format string
	cmd := &cobra.Command{
		Use:   "write <out>",
		Short: "Write speed and direction grids as GeoTIFF, GeoJSON or PDF",
		Long: `write converts one time step of simulated speed and direction grids.

GTiff writes <out>_spd.tif and <out>_dir.tif (and _dust.tif with --dust),
appending a band when the file already exists. GeoJSON writes a point per
cell with speed and bearing fields. PDF draws wind arrows over the --dem
background.`,
		Example: `  ninjagrid write --speed spd.asc --dir dir.asc --format GTiff --time 2026-02-21T13:00:00Z run.tif
  ninjagrid write --speed spd.asc --dir dir.asc --dem dem.tif --format PDF run.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			w := output.NewWriter()
			w.Logger = a.logger
			w.Metrics = a.metrics
			w.NoData = a.cfg.Output.NoData
			w.PDF = a.cfg.PDFOptions()

			for _, in := range []struct {
				path string
				set  func(*grid.Grid)
			}{
				{spdPath, w.SetSpeedGrid},
				{dirPath, w.SetDirGrid},
				{dustPath, w.SetDustGrid},
			} {
				if in.path == "" {
					continue
				}
				g, err := grid.ReadFile(in.path)
				if err != nil {
					return err
				}
				in.set(g)
			}
			w.SetDEMFile(demPath)
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --time %q: use RFC3339, e.g. 2026-02-21T13:00:00Z", at)
				}
				w.SetNinjaTime(t)
			}
			if err := w.Write(args[0], f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", args[0], f)
			return nil
		},
	}
	cmd.Flags().StringVar(&spdPath, "speed", "", "Speed grid, .asc or .tif (required)")
	cmd.Flags().StringVar(&dirPath, "dir", "", "Direction grid, .asc or .tif (required)")
	cmd.Flags().StringVar(&dustPath, "dust", "", "Dust grid (GTiff only)")
	cmd.Flags().StringVar(&demPath, "dem", "", "DEM background for PDF output")
	cmd.Flags().StringVar(&at, "time", "", "Simulation time, RFC3339")
	cmd.Flags().StringVar(&format, "format", "GTiff", "Output format: GTiff, PDF or GeoJSON")
	cmd.MarkFlagRequired("speed")
	cmd.MarkFlagRequired("dir")
	return cmd
}
