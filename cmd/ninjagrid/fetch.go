package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geal-ai/ninjagrid/internal/hrrr"
)

// client returns an HRRR client configured from the config file.
func (a *app) client() *hrrr.Client {
	c := hrrr.NewClient()
	c.HTTPClient.Timeout = a.cfg.HTTPTimeout()
	c.BaseURL = a.cfg.HRRR.BaseURL
	c.MaxLagHours = a.cfg.HRRR.MaxLagHours
	c.Concurrency = a.cfg.HRRR.Concurrency
	c.Logger = a.logger
	c.Metrics = a.metrics
	return c
}

// parseRun parses an RFC3339 run time, truncated to the hour.
func parseRun(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --run %q: use RFC3339, e.g. 2026-02-21T12:00:00Z", s)
	}
	return t.UTC().Truncate(time.Hour), nil
}

// resolveRun returns the run named by runStr, or the latest available run.
func (a *app) resolveRun(ctx context.Context, c *hrrr.Client, runStr string, fxx int) (time.Time, error) {
	if runStr != "" {
		return parseRun(runStr)
	}
	run, err := c.LatestRun(ctx, fxx)
	if err != nil {
		return time.Time{}, err
	}
	a.logger.Info("using latest run", zap.Time("run", run), zap.Int("fxx", fxx))
	return run, nil
}

func (a *app) fetchCmd() *cobra.Command {
	var (
		runStr string
		fxx    int
		out    string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the surface fields an HRRR initialization needs",
		Long: `fetch downloads 2 m temperature, 10 m wind and cloud-top height from one
HRRR run using byte-range requests, and writes them as a four-band GRIB2
file that init reads directly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fxx < hrrr.StartHour || fxx > hrrr.EndHour {
				return fmt.Errorf("--fxx %d out of range %d-%d", fxx, hrrr.StartHour, hrrr.EndHour)
			}
			ctx := cmd.Context()
			c := a.client()
			run, err := a.resolveRun(ctx, c, runStr, fxx)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := c.FetchSurface(ctx, run, fxx, &buf); err != nil {
				return fmt.Errorf("fetch failed: %w", err)
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (run %s, f%02d, valid %s)\n", out,
				run.Format("2006-01-02 15Z"), fxx,
				run.Add(time.Duration(fxx)*time.Hour).Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&runStr, "run", "", "Model run time UTC, e.g. 2026-02-21T12:00:00Z (default: latest)")
	cmd.Flags().IntVar(&fxx, "fxx", 0, "Forecast hour (0 = analysis, max 48)")
	cmd.Flags().StringVar(&out, "out", "", "Output GRIB2 file (required)")
	cmd.MarkFlagRequired("out")
	return cmd
}
