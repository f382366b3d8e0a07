// Package config loads ninjagrid settings from a YAML file with NINJAGRID_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/geal-ai/ninjagrid/internal/grid"
	"github.com/geal-ai/ninjagrid/internal/hrrr"
	"github.com/geal-ai/ninjagrid/internal/output"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NINJAGRID_"

// Config is the root of the settings tree.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	HRRR    HRRRConfig    `yaml:"hrrr"`
	Output  OutputConfig  `yaml:"output"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// HRRRConfig configures forecast downloads.
type HRRRConfig struct {
	BaseURL     string `yaml:"base_url"`
	Timeout     string `yaml:"timeout"` // Go duration, e.g. "2m"
	MaxLagHours int    `yaml:"max_lag_hours"`
	Concurrency int    `yaml:"concurrency"`
}

// OutputConfig configures the output writer.
type OutputConfig struct {
	NoData float64   `yaml:"nodata"`
	PDF    PDFConfig `yaml:"pdf"`
}

// PDFConfig configures PDF maps.
type PDFConfig struct {
	PageSize    string `yaml:"page_size"`
	Orientation string `yaml:"orientation"` // landscape or portrait
	Classes     int    `yaml:"classes"`
	MaxArrows   int    `yaml:"max_arrows"`
}

// MetricsConfig configures the Prometheus textfile dump.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the built-in settings.
func Default() *Config {
	pdf := output.DefaultPDFOptions()
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		HRRR: HRRRConfig{
			BaseURL:     hrrr.DefaultBaseURL,
			Timeout:     "2m",
			MaxLagHours: 6,
			Concurrency: 4,
		},
		Output: OutputConfig{
			NoData: grid.DefaultNoData,
			PDF: PDFConfig{
				PageSize:    pdf.PageSize,
				Orientation: "landscape",
				Classes:     pdf.Classes,
				MaxArrows:   pdf.MaxArrows,
			},
		},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides replaces settings with NINJAGRID_* variables when set.
func (c *Config) applyEnvOverrides() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %q", EnvPrefix, key, v)
		}
		*dst = n
		return nil
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("HRRR_BASE_URL", &c.HRRR.BaseURL)
	str("HRRR_TIMEOUT", &c.HRRR.Timeout)
	str("PDF_PAGE_SIZE", &c.Output.PDF.PageSize)
	str("PDF_ORIENTATION", &c.Output.PDF.Orientation)
	str("METRICS_TEXTFILE", &c.Metrics.Textfile)
	for key, dst := range map[string]*int{
		"HRRR_MAX_LAG_HOURS": &c.HRRR.MaxLagHours,
		"HRRR_CONCURRENCY":   &c.HRRR.Concurrency,
		"PDF_CLASSES":        &c.Output.PDF.Classes,
		"PDF_MAX_ARROWS":     &c.Output.PDF.MaxArrows,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT_NODATA"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %sOUTPUT_NODATA: %q", EnvPrefix, v)
		}
		c.Output.NoData = f
	}
	return nil
}

// Validate checks every setting and names the first offending key.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: invalid level %q (valid: debug, info, warn, error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format: invalid format %q (valid: json, console)", c.Log.Format)
	}
	if !strings.HasPrefix(c.HRRR.BaseURL, "http://") && !strings.HasPrefix(c.HRRR.BaseURL, "https://") {
		return fmt.Errorf("hrrr.base_url: %q is not an http(s) URL", c.HRRR.BaseURL)
	}
	if d, err := time.ParseDuration(c.HRRR.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("hrrr.timeout: invalid duration %q", c.HRRR.Timeout)
	}
	if c.HRRR.MaxLagHours < 1 {
		return fmt.Errorf("hrrr.max_lag_hours: must be at least 1, got %d", c.HRRR.MaxLagHours)
	}
	if c.HRRR.Concurrency < 1 {
		return fmt.Errorf("hrrr.concurrency: must be at least 1, got %d", c.HRRR.Concurrency)
	}
	if _, err := c.pdfOrientation(); err != nil {
		return err
	}
	if c.Output.PDF.PageSize == "" {
		return fmt.Errorf("output.pdf.page_size: required")
	}
	if c.Output.PDF.Classes < 1 {
		return fmt.Errorf("output.pdf.classes: must be at least 1, got %d", c.Output.PDF.Classes)
	}
	if c.Output.PDF.MaxArrows < 1 {
		return fmt.Errorf("output.pdf.max_arrows: must be at least 1, got %d", c.Output.PDF.MaxArrows)
	}
	return nil
}

func (c *Config) pdfOrientation() (string, error) {
	switch strings.ToLower(c.Output.PDF.Orientation) {
	case "landscape", "l":
		return "L", nil
	case "portrait", "p":
		return "P", nil
	}
	return "", fmt.Errorf("output.pdf.orientation: invalid orientation %q (valid: landscape, portrait)", c.Output.PDF.Orientation)
}

// HTTPTimeout returns hrrr.timeout as a duration. Call Validate first.
func (c *Config) HTTPTimeout() time.Duration {
	d, err := time.ParseDuration(c.HRRR.Timeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// PDFOptions returns the output writer's PDF settings.
func (c *Config) PDFOptions() output.PDFOptions {
	o, _ := c.pdfOrientation()
	return output.PDFOptions{
		PageSize:    c.Output.PDF.PageSize,
		Orientation: o,
		Classes:     c.Output.PDF.Classes,
		MaxArrows:   c.Output.PDF.MaxArrows,
	}
}
