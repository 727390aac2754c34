// Package telemetry implements the G3 timer/instrumentation component
// (spec.md §4 table, row G3): monotonic-clock interval reporting plus the
// Prometheus counters and gauges that back it, grounded in the teacher's
// shards/sched.go gaugeCounter pattern (a prometheus.Gauge kept in sync
// with a plain counter so its current value can also be read back
// in-process without scraping).
package telemetry

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sourcegraph/log"
)

// gaugeCounter pairs a prometheus.Gauge with the running total it
// reports, so callers needing the current value (e.g. a periodic log
// line) don't have to scrape their own metric back out of the registry.
type gaugeCounter struct {
	gauge prometheus.Gauge
	value float64
}

func newGaugeCounter(opts prometheus.GaugeOpts) *gaugeCounter {
	return &gaugeCounter{gauge: prometheus.NewGauge(opts)}
}

func (g *gaugeCounter) Set(v float64) {
	g.value = v
	g.gauge.Set(v)
}

func (g *gaugeCounter) Add(delta float64) {
	g.value += delta
	g.gauge.Set(g.value)
}

func (g *gaugeCounter) Get() float64 { return g.value }

// Metrics is the process-wide set of instruments the request loop (T3)
// and diff engine (M4) publish into.
type Metrics struct {
	RequestsTotal    prometheus.Counter
	ParseErrors      prometheus.Counter
	NotARepo         prometheus.Counter
	BudgetExceeded   prometheus.Counter
	RequestDuration  prometheus.Histogram
	CachedRepos      *gaugeCounter
	ShardsDispatched prometheus.Counter
}

// NewMetrics constructs and registers a Metrics set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statusd",
			Name:      "requests_total",
			Help:      "Total number of requests read from the request stream.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statusd",
			Name:      "request_parse_errors_total",
			Help:      "Requests dropped for failing to parse.",
		}),
		NotARepo: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statusd",
			Name:      "not_a_repo_total",
			Help:      "Requests whose dir was not inside a working tree.",
		}),
		BudgetExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statusd",
			Name:      "budget_exceeded_total",
			Help:      "Requests whose index size exceeded dirty-max-index-size.",
		}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "statusd",
			Name:      "request_duration_seconds",
			Help:      "Wall-clock time to fully answer one request.",
			Buckets:   []float64{.0005, .001, .002, .005, .01, .02, .05, .1, .5, 1},
		}),
		ShardsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statusd",
			Name:      "diff_shards_dispatched_total",
			Help:      "Total diff-engine shard tasks submitted to the worker pool.",
		}),
		CachedRepos: newGaugeCounter(prometheus.GaugeOpts{
			Namespace: "statusd",
			Name:      "cached_repos",
			Help:      "Number of repository handles currently held in the cache.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.ParseErrors,
		m.NotARepo,
		m.BudgetExceeded,
		m.RequestDuration,
		m.ShardsDispatched,
		m.CachedRepos.gauge,
	)
	return m
}

// Timer measures an in-flight request and records its duration into hist
// when Stop is called; matching the teacher's "start now, record at
// defer" idiom rather than a general-purpose stopwatch type.
type Timer struct {
	start time.Time
	hist  prometheus.Observer
}

// Start begins timing against hist.
func Start(hist prometheus.Observer) Timer {
	return Timer{start: time.Now(), hist: hist}
}

// Stop records the elapsed duration since Start.
func (t Timer) Stop() {
	t.hist.Observe(time.Since(t.start).Seconds())
}

// RunReporter logs a human-readable summary of m on every tick, until ctx
// is cancelled. This is G3's "monotonic-clock interval reporter for
// instrumentation" (spec.md §4 table): a periodic line, not a scrape
// endpoint, intended for an operator tailing the daemon's log.
func RunReporter(ctx context.Context, interval time.Duration, logger log.Logger, m *Metrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("status summary",
				log.String("requests", humanize.Comma(int64(counterValue(m.RequestsTotal)))),
				log.String("cached_repos", humanize.Comma(int64(m.CachedRepos.Get()))),
				log.String("shards_dispatched", humanize.Comma(int64(counterValue(m.ShardsDispatched)))),
			)
		}
	}
}

// counterValue reads back a prometheus.Counter's current value for
// logging, since Counter itself exposes no getter.
func counterValue(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	if pb.Counter == nil {
		return 0
	}
	return pb.Counter.GetValue()
}
