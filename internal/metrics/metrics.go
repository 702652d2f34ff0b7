// Package metrics counts run outcomes on a private Prometheus registry that
// can be dumped for the node_exporter textfile collector.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clone_traffic"

// Metrics implements usecase.Recorder.
type Metrics struct {
	registry  *prometheus.Registry
	fetches   *prometheus.CounterVec
	samples   prometheus.Counter
	downloads prometheus.Counter
	lastRun   prometheus.Gauge
}

// New creates Metrics with all collectors registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Clone traffic fetches by result.",
		}, []string{"result"}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_merged_total",
			Help:      "Daily samples merged into the store.",
		}),
		downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "new_downloads_total",
			Help:      "Clone events reported by successfully processed repositories.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	m.registry.MustRegister(m.fetches, m.samples, m.downloads, m.lastRun)
	return m
}

// FetchSucceeded counts a fetch that returned a report.
func (m *Metrics) FetchSucceeded() { m.fetches.WithLabelValues("ok").Inc() }

// FetchFailed counts a failed fetch under its error kind.
func (m *Metrics) FetchFailed(kind string) { m.fetches.WithLabelValues(kind).Inc() }

// SampleMerged counts one daily sample written to the store.
func (m *Metrics) SampleMerged() { m.samples.Inc() }

// NewDownloads adds the clone events of a successfully processed repository.
func (m *Metrics) NewDownloads(n int64) { m.downloads.Add(float64(n)) }

// RunFinished stamps the end of a run.
func (m *Metrics) RunFinished() { m.lastRun.SetToCurrentTime() }

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile atomically writes the current values in text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics file %s: %w", path, err)
	}
	return nil
}
