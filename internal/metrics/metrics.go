// Package metrics records pipeline activity as Prometheus metrics. A
// Collector is installed on a pipeline with SetObserver.
package metrics

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/stevehiehn/stepwise/internal/engine"
)

const namespace = "stepwise"

// Collector owns a private registry so several collectors can coexist in
// one process (tests, the MCP server).
type Collector struct {
	registry *prometheus.Registry

	StepsTotal   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	RunsTotal    *prometheus.CounterVec
}

// New creates a collector with its metrics registered.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Step records produced, by operation, status and mode",
		}, []string{"op", "status", "mode"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of executed steps in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished Run and Validate calls, by mode and outcome",
		}, []string{"mode", "ok"}),
	}
	reg.MustRegister(c.StepsTotal, c.StepDuration, c.RunsTotal)
	return c
}

func mode(validateOnly bool) string {
	if validateOnly {
		return "validate"
	}
	return "run"
}

// ObserveStep implements engine.Observer.
func (c *Collector) ObserveStep(rec engine.StepRecord, validateOnly bool) {
	c.StepsTotal.WithLabelValues(rec.Op, string(rec.Status), mode(validateOnly)).Inc()
	if rec.Status != engine.StatusSkipped {
		c.StepDuration.WithLabelValues(rec.Op).Observe(rec.Elapsed.Seconds())
	}
}

// ObserveRun implements engine.Observer.
func (c *Collector) ObserveRun(rep *engine.Report) {
	c.RunsTotal.WithLabelValues(mode(rep.ValidateOnly), strconv.FormatBool(rep.OK)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Sample is one counter value or histogram count.
type Sample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels"`
	Value  float64           `json:"value"`
}

// Samples flattens the registry. Histograms report their sample count.
func (c *Collector) Samples() ([]Sample, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}
	var out []Sample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			s := Sample{Name: mf.GetName(), Labels: map[string]string{}}
			for _, lp := range m.GetLabel() {
				s.Labels[lp.GetName()] = lp.GetValue()
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				s.Value = m.GetCounter().GetValue()
			case dto.MetricType_HISTOGRAM:
				s.Name += "_count"
				s.Value = float64(m.GetHistogram().GetSampleCount())
			case dto.MetricType_GAUGE:
				s.Value = m.GetGauge().GetValue()
			default:
				continue
			}
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
