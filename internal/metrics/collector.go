// Package metrics records alignment outcomes as prometheus metrics.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Outcome labels for utterances_total.
const (
	StatusAligned      = "aligned"
	StatusInvalidRef   = "invalid_reference"
	StatusFrameRange   = "frame_range"
	StatusNoViablePath = "no_viable_path"
	StatusOtherFailure = "error"
)

// Collector holds the alignment metrics on a private registry, so several
// collectors can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	utterancesTotal *prometheus.CounterVec
	errorArcsTotal  *prometheus.CounterVec
	framesTotal     prometheus.Counter
	batchesTotal    prometheus.Counter
	decodeDuration  prometheus.Histogram
	frontierPeak    prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a collector whose metric names are prefixed with namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.utterancesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterances processed, by outcome",
		},
		[]string{"status"},
	)

	c.errorArcsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_arcs_total",
			Help:      "Open-token arcs on best paths, by kind",
		},
		[]string{"kind"},
	)

	c.framesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "Frames aligned",
	})

	c.batchesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_total",
		Help:      "Batches completed",
	})

	c.decodeDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "utterance_duration_seconds",
		Help:      "Time to compile, compose and decode one utterance",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 9),
	})

	c.frontierPeak = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "frontier_peak_states",
		Help:      "Largest per-frame frontier of each utterance after pruning",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 9),
	})

	return c
}

// RecordUtterance records one utterance outcome.
func (c *Collector) RecordUtterance(status string, frames, bypass, selfLoop, frontierPeak int, elapsed time.Duration) {
	c.utterancesTotal.WithLabelValues(status).Inc()
	c.decodeDuration.Observe(elapsed.Seconds())
	if status != StatusAligned {
		return
	}
	c.framesTotal.Add(float64(frames))
	c.errorArcsTotal.WithLabelValues("bypass").Add(float64(bypass))
	c.errorArcsTotal.WithLabelValues("self-loop").Add(float64(selfLoop))
	c.frontierPeak.Observe(float64(frontierPeak))
}

// RecordBatch counts a completed batch.
func (c *Collector) RecordBatch() {
	c.batchesTotal.Inc()
}

// Registry returns the gatherer holding the metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile writes the metrics in the node_exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		c.logger.Error("write metrics textfile", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}
