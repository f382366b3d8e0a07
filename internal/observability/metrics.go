package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ninjagrid"

// Metrics holds the Prometheus counters and histograms for forecast ingestion
// and output writing.
type Metrics struct {
	// HRRR download metrics.
	FetchRequests *prometheus.CounterVec   // labels: kind={idx,grib}, outcome={success,error}
	FetchBytes    prometheus.Counter
	FetchDuration *prometheus.HistogramVec // labels: kind={idx,grib}

	// Initialization metrics.
	ForecastsIdentified *prometheus.CounterVec // labels: result={hrrr,other}
	BandsWarped         prometheus.Counter

	// Output metrics.
	OutputsWritten *prometheus.CounterVec // labels: format, outcome={success,error}
}

func newMetrics(help bool) *Metrics {
	h := func(s string) string {
		if help {
			return s
		}
		return ""
	}
	return &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hrrr_fetch_requests_total",
			Help:      h("HRRR HTTP requests by kind and outcome."),
		}, []string{"kind", "outcome"}),
		FetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hrrr_fetch_bytes_total",
			Help:      h("Bytes read from HRRR responses."),
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hrrr_fetch_duration_seconds",
			Help:      h("HRRR HTTP request duration in seconds."),
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		ForecastsIdentified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecasts_identified_total",
			Help:      h("Forecast files checked for the HRRR surface layout, by result."),
		}, []string{"result"}),
		BandsWarped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bands_warped_total",
			Help:      h("Forecast bands warped onto a simulation grid."),
		}),
		OutputsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outputs_written_total",
			Help:      h("Output files written by format and outcome."),
		}, []string{"format", "outcome"}),
	}
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics(true)
	reg.MustRegister(
		m.FetchRequests,
		m.FetchBytes,
		m.FetchDuration,
		m.ForecastsIdentified,
		m.BandsWarped,
		m.OutputsWritten,
	)
	return m
}

// NewMetricsForTesting creates unregistered metrics, so tests can build as
// many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

// Outcome returns the outcome label for err.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
