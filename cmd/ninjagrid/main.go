// Command ninjagrid initializes wind simulation grids from NCEP HRRR surface
// forecasts and writes simulated wind grids as GeoTIFF, GeoJSON or PDF.
//
// Usage:
//
//	ninjagrid identify <forecast.grib2>
//	ninjagrid bands <forecast.grib2>
//	ninjagrid init <forecast.grib2> --dem dem.tif --out-dir grids/
//	ninjagrid write --speed spd.asc --dir dir.asc --format GTiff out.tif
//	ninjagrid fetch --fxx 1 --out hrrr.grib2
//	ninjagrid point 39.64 -106.37
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geal-ai/ninjagrid/internal/config"
	"github.com/geal-ai/ninjagrid/internal/observability"
)

// app carries the state shared by every subcommand.
type app struct {
	// Global flags
	configPath  string
	verbose     bool
	metricsFile string

	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "ninjagrid",
		Short: "HRRR surface initialization and wind grid output",
		Long: `ninjagrid prepares the inputs and outputs of a diagnostic wind simulation.

It reads NCEP HRRR surface forecasts (or downloads them from the NOAA
bucket), warps temperature, wind and cloud cover onto a DEM grid, and
writes simulated speed and direction grids as GeoTIFF time series,
GeoJSON point layers or PDF maps.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")

	root.AddCommand(
		a.identifyCmd(),
		a.bandsCmd(),
		a.initCmd(),
		a.writeCmd(),
		a.fetchCmd(),
		a.pointCmd(),
	)
	return root
}

// setup loads the config and builds the logger and metrics registry.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if a.metricsFile == "" {
		a.metricsFile = cfg.Metrics.Textfile
	}
	a.logger, err = observability.NewLogger(cfg.Log.Level, cfg.Log.Format, a.verbose)
	if err != nil {
		return err
	}
	a.registry = prometheus.NewRegistry()
	a.metrics = observability.NewMetrics(a.registry)
	a.logger.Debug("configured",
		zap.String("config", a.configPath), zap.String("command", cmd.Name()))
	return nil
}

// teardown dumps the metrics and flushes the logger.
func (a *app) teardown(cmd *cobra.Command, args []string) error {
	defer func() {
		if a.logger != nil {
			_ = a.logger.Sync()
		}
	}()
	if a.metricsFile == "" || a.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
