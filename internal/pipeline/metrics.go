package pipeline

import (
	"sync"

	"github.com/judacas/AutoDJ/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	unitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autodj_units_total",
			Help: "Finished units by type and result kind",
		},
		[]string{"unit", "kind"},
	)
	unitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autodj_unit_duration_seconds",
			Help:    "Wall time of a unit including retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"unit"},
	)
	occurrencesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autodj_occurrences_total",
			Help: "Song occurrences recognized in mixes",
		},
	)
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autodj_transitions_total",
			Help: "Transition candidates by outcome",
		},
		[]string{"outcome"},
	)
	catalogSongs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autodj_catalog_songs",
			Help: "Songs in the published recognition catalog",
		},
	)
)

var registerOnce sync.Once

// RegisterMetrics adds the pipeline collectors to the default registry. It is
// safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(unitsTotal, unitDuration, occurrencesTotal, transitionsTotal, catalogSongs)
	})
}

func kindLabel(k models.ErrorKind) string {
	if k == "" {
		return "ok"
	}
	return string(k)
}
