package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"voxeltest.ai/internal/gametest"
)

// Test outcome counters, partitioned by batch.
type Metrics struct {
	StructuresLoaded *prometheus.CounterVec
	Passed           *prometheus.CounterVec
	Failed           *prometheus.CounterVec
	Reruns           *prometheus.CounterVec
	DurationTicks    *prometheus.HistogramVec

	Running      prometheus.Gauge
	Halted       prometheus.Gauge
	ActiveTests  prometheus.Gauge
	Tick         prometheus.Gauge
	PassesTotal  prometheus.Gauge
	FlakyVerdict *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StructuresLoaded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gametest",
			Subsystem: "tests",
			Name:      "structures_loaded_total",
			Help:      "Total test structures placed into the world",
		}, []string{"batch"}),
		Passed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gametest",
			Subsystem: "tests",
			Name:      "passed_total",
			Help:      "Total test attempts that passed",
		}, []string{"batch"}),
		Failed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gametest",
			Subsystem: "tests",
			Name:      "failed_total",
			Help:      "Total test attempts that failed",
		}, []string{"batch", "required", "code"}),
		Reruns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gametest",
			Subsystem: "tests",
			Name:      "reruns_total",
			Help:      "Total test attempts scheduled for rerun",
		}, []string{"batch"}),
		DurationTicks: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gametest",
			Subsystem: "tests",
			Name:      "duration_ticks",
			Help:      "Ticks from test start to completion",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
		}, []string{"batch"}),
		FlakyVerdict: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gametest",
			Subsystem: "tests",
			Name:      "flaky_verdicts_total",
			Help:      "Final verdicts of tests judged over several attempts",
		}, []string{"passed"}),
		Running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "gametest",
			Subsystem: "runner",
			Name:      "running",
			Help:      "1 while the runner has an active batch",
		}),
		Halted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "gametest",
			Subsystem: "runner",
			Name:      "halted",
			Help:      "1 once a required failure stopped the run",
		}),
		ActiveTests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "gametest",
			Subsystem: "runner",
			Name:      "active_tests",
			Help:      "Instances currently registered with the ticker",
		}),
		Tick: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "gametest",
			Subsystem: "runner",
			Name:      "tick",
			Help:      "Current ticker time",
		}),
		PassesTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "gametest",
			Subsystem: "runner",
			Name:      "passes",
			Help:      "Number of passes started, including rerun passes",
		}),
	}
}

// Listener counts lifecycle events of every instance it is attached to.
func (m *Metrics) Listener() gametest.Listener { return listener{m: m} }

type listener struct{ m *Metrics }

func (l listener) OnStructureLoaded(inst *gametest.Instance) {
	l.m.StructuresLoaded.WithLabelValues(inst.Definition().Batch).Inc()
}

func (l listener) OnPassed(inst *gametest.Instance, _ *gametest.Runner) {
	batch := inst.Definition().Batch
	l.m.Passed.WithLabelValues(batch).Inc()
	l.m.DurationTicks.WithLabelValues(batch).Observe(float64(inst.Elapsed()))
}

func (l listener) OnFailed(inst *gametest.Instance, _ *gametest.Runner) {
	batch := inst.Definition().Batch
	l.m.Failed.WithLabelValues(batch, strconv.FormatBool(inst.Required()), gametest.Code(inst.Err())).Inc()
	l.m.DurationTicks.WithLabelValues(batch).Observe(float64(inst.Elapsed()))
}

func (l listener) OnAddedForRerun(_, next *gametest.Instance, _ *gametest.Runner) {
	l.m.Reruns.WithLabelValues(next.Definition().Batch).Inc()
}

// Observe samples runner-level gauges. Call it from the goroutine that
// drives r.
func (m *Metrics) Observe(r *gametest.Runner) {
	m.Running.Set(boolGauge(!r.Idle()))
	m.Halted.Set(boolGauge(r.Halted()))
	m.ActiveTests.Set(float64(r.Ticker().Len()))
	m.Tick.Set(float64(r.Ticker().Now()))
	m.PassesTotal.Set(float64(r.Passes()))
}

// RecordVerdicts counts the final flaky verdicts of a finished run.
func (m *Metrics) RecordVerdicts(vs []gametest.Verdict) {
	for _, v := range vs {
		m.FlakyVerdict.WithLabelValues(strconv.FormatBool(v.Passed)).Inc()
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
