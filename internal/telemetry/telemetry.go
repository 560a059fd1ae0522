package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	recordsIngested = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loadguard",
		Name:      "records_ingested_total",
		Help:      "Source records accepted into the pipeline.",
	}, []string{"kind", "source"})

	recordsDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "loadguard",
		Name:      "records_dropped_total",
		Help:      "Records dropped because the intake channel was full.",
	})

	recordsDuplicate = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "loadguard",
		Name:      "records_duplicate_total",
		Help:      "Re-delivered records suppressed by the dedupe cache.",
	})

	featureRows = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "loadguard",
		Name:      "feature_rows_computed_total",
		Help:      "Per-athlete-per-day feature rows computed.",
	})

	alertsOpened = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loadguard",
		Name:      "alerts_opened_total",
		Help:      "Alerts opened, by severity.",
	}, []string{"severity"})

	alertsSuppressed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "loadguard",
		Name:      "alerts_suppressed_total",
		Help:      "Alerts suppressed by cooldown or store-side dedupe.",
	})

	trackedAthletes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "loadguard",
		Name:      "tracked_athletes",
		Help:      "Athlete timelines currently held in memory.",
	})
)

func RecordIngested(kind, source string) { recordsIngested.WithLabelValues(kind, source).Inc() }
func RecordDropped()                     { recordsDropped.Inc() }
func RecordDuplicate()                   { recordsDuplicate.Inc() }
func FeatureRowComputed()                { featureRows.Inc() }
func AlertOpened(severity string)        { alertsOpened.WithLabelValues(severity).Inc() }
func AlertSuppressed()                   { alertsSuppressed.Inc() }
func SetTrackedAthletes(n int)           { trackedAthletes.Set(float64(n)) }

// Handler serves the pipeline's registry, not the global one.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
