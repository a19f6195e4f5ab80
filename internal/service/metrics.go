package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clipd",
			Subsystem: "inference",
			Name:      "duration_seconds",
			Help:      "Duration of inference operations in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	inferenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipd",
			Subsystem: "inference",
			Name:      "errors_total",
			Help:      "Total failed inference operations by kind",
		},
		[]string{"op", "kind"},
	)

	inputsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipd",
			Subsystem: "inference",
			Name:      "inputs_total",
			Help:      "Total images and texts embedded",
		},
		[]string{"modality"},
	)
)

func init() {
	prometheus.MustRegister(inferenceDuration, inferenceErrors, inputsTotal)
}

// observe records the outcome of one operation.
func observe(op string, start time.Time, err error) {
	inferenceDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		inferenceErrors.WithLabelValues(op, errorKind(err)).Inc()
	}
}
