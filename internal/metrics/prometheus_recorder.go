package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg             *prom.Registry
	packageDuration *prom.HistogramVec
	packageResults  *prom.CounterVec
	runDuration     prom.Histogram
	runOutcomes     *prom.CounterVec
	linkDecisions   *prom.CounterVec
	concurrency     prom.Gauge
}

// NewPrometheusRecorder constructs and registers the build metrics on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg: reg,
		packageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "pkgbuild",
			Name:      "package_duration_seconds",
			Help:      "Time spent building a single package",
			Buckets:   prom.DefBuckets,
		}, []string{"category"}),
		packageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pkgbuild",
			Name:      "package_results_total",
			Help:      "Package results by category, outcome and whether work was redone",
		}, []string{"category", "outcome", "rebuilt"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "pkgbuild",
			Name:      "run_duration_seconds",
			Help:      "Total run duration",
			Buckets:   prom.DefBuckets,
		}),
		runOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pkgbuild",
			Name:      "run_outcomes_total",
			Help:      "Run outcomes by final status",
		}, []string{"outcome"}),
		linkDecisions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pkgbuild",
			Name:      "link_decisions_total",
			Help:      "Link step decisions",
		}, []string{"decision"}),
		concurrency: prom.NewGauge(prom.GaugeOpts{
			Namespace: "pkgbuild",
			Name:      "builder_concurrency",
			Help:      "Configured bound on concurrent builder invocations",
		}),
	}
	reg.MustRegister(pr.packageDuration, pr.packageResults, pr.runDuration, pr.runOutcomes, pr.linkDecisions, pr.concurrency)
	return pr
}

func (p *PrometheusRecorder) ObservePackage(category, outcome string, rebuilt bool, d time.Duration) {
	if p == nil {
		return
	}
	p.packageDuration.WithLabelValues(category).Observe(d.Seconds())
	p.packageResults.WithLabelValues(category, outcome, strconv.FormatBool(rebuilt)).Inc()
}

func (p *PrometheusRecorder) ObserveRun(succeeded bool, d time.Duration) {
	if p == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
	outcome := "failed"
	if succeeded {
		outcome = "success"
	}
	p.runOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncLinkDecision(relink bool) {
	if p == nil {
		return
	}
	decision := "up-to-date"
	if relink {
		decision = "relink"
	}
	p.linkDecisions.WithLabelValues(decision).Inc()
}

func (p *PrometheusRecorder) SetConcurrency(n int) {
	if p == nil {
		return
	}
	p.concurrency.Set(float64(n))
}

// WriteTextfile writes the current metrics in the text exposition format,
// suitable for the node exporter's textfile collector.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prom.WriteToTextfile(path, p.reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
