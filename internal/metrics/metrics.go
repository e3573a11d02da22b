// Package metrics defines the Prometheus collectors of the fault detail
// service.
//
// Collectors live on a private Registry served by Handler, so tests and
// embedders do not collide with the global default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var (
	// DecodeTotal counts snapshot decodes by outcome
	// (ok, decompression, deserialization).
	DecodeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertdetail_decode_total",
			Help: "Snapshot decodes by outcome.",
		},
		[]string{"outcome"},
	)

	RenderTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertdetail_render_total",
			Help: "Fault detail renders by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	RenderDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alertdetail_render_duration_seconds",
			Help:    "Time spent decoding and rendering one alert log row.",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"mode"},
	)

	// DetectorMatchesTotal counts occurrences each detector contributed to.
	DetectorMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertdetail_detector_matches_total",
			Help: "Occurrences matched per detector, fallback included.",
		},
		[]string{"detector"},
	)

	FeedIngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertdetail_feed_ingest_total",
			Help: "Alert notifications received by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	ReportRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertdetail_report_rows_total",
			Help: "Alert log report rows by outcome.",
		},
		[]string{"outcome"},
	)

	FeedSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "alertdetail_feed_entries",
			Help: "Rendered alerts currently held in the feed.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		DecodeTotal,
		RenderTotal,
		RenderDurationSeconds,
		DetectorMatchesTotal,
		FeedIngestTotal,
		ReportRowsTotal,
		FeedSize,
	)
}

func RecordDecode(outcome string) {
	DecodeTotal.WithLabelValues(outcome).Inc()
}

// RecordRender records one completed render call.
func RecordRender(mode, outcome string, elapsed time.Duration) {
	RenderTotal.WithLabelValues(mode, outcome).Inc()
	RenderDurationSeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func RecordDetectorMatch(detector string) {
	DetectorMatchesTotal.WithLabelValues(detector).Inc()
}

func RecordIngest(source, outcome string) {
	FeedIngestTotal.WithLabelValues(source, outcome).Inc()
}

func RecordReportRow(outcome string) {
	ReportRowsTotal.WithLabelValues(outcome).Inc()
}

func SetFeedSize(n int) {
	FeedSize.Set(float64(n))
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
