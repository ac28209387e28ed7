// Package metrics exports scheduler activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/ccsched/internal/framerate"
	"github.com/me/ccsched/pkg/model"
)

const (
	namespace = "ccsched"
	subsystem = "scheduler"
)

// Collector observes a scheduler and owns the registry its metrics live in.
// ObserveAction and ObserveVSync run on the impl thread; scraping happens on
// the HTTP server's goroutines.
type Collector struct {
	registry *prometheus.Registry

	actions      *prometheus.CounterVec
	vsyncPasses  prometheus.Counter
	frameNumber  prometheus.Gauge
	drawInterval prometheus.Histogram

	lastDraw time.Time
}

// NewCollector registers the scheduler metrics and, when stats is non-nil,
// gauges read from the frame rate controller at scrape time.
func NewCollector(stats func() framerate.Stats) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "actions_total",
				Help:      "Actions dispatched to the client, by action",
			},
			[]string{"action"},
		),
		vsyncPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "vsync_passes_total",
			Help:      "VSync ticks processed by the scheduler",
		}),
		frameNumber: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frame_number",
			Help:      "Current state machine frame number",
		}),
		drawInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "draw_interval_seconds",
			Help:      "Time between consecutive draw actions",
			Buckets:   []float64{.004, .008, .012, .017, .025, .034, .05, .1, .25, .5, 1},
		}),
	}

	// Pre-create every label so absent actions report zero.
	for _, a := range model.AllActions() {
		c.actions.WithLabelValues(string(a))
	}

	c.registry.MustRegister(
		c.actions, c.vsyncPasses, c.frameNumber, c.drawInterval,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if stats != nil {
		c.registerFrameRate(stats)
	}
	return c
}

func (c *Collector) registerFrameRate(stats func() framerate.Stats) {
	gauge := func(name, help string, value func(framerate.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "framerate",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}
	counter := func(name, help string, value func(framerate.Stats) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "framerate",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}
	c.registry.MustRegister(
		counter("ticks_total", "Ticks received from the time source",
			func(s framerate.Stats) float64 { return float64(s.Ticks) }),
		counter("throttled_ticks_total", "Ticks dropped because the swap pipeline was full",
			func(s framerate.Stats) float64 { return float64(s.ThrottledTicks) }),
		counter("frames_begun_total", "Frames begun by a draw",
			func(s framerate.Stats) float64 { return float64(s.FramesBegun) }),
		gauge("frames_pending", "Frames begun but not yet swapped",
			func(s framerate.Stats) float64 { return float64(s.FramesPending) }),
		gauge("max_frames_pending", "Swap pipeline depth, 0 for unlimited",
			func(s framerate.Stats) float64 { return float64(s.MaxFramesPending) }),
		gauge("active", "1 while the time source is ticking",
			func(s framerate.Stats) float64 {
				if s.Active {
					return 1
				}
				return 0
			}),
	)
}

// ObserveAction counts rec and times the gap since the previous draw.
func (c *Collector) ObserveAction(rec model.ActionRecord) {
	c.actions.WithLabelValues(string(rec.Action)).Inc()
	c.frameNumber.Set(float64(rec.Frame))
	if !rec.Action.IsDraw() {
		return
	}
	if !c.lastDraw.IsZero() && rec.At.After(c.lastDraw) {
		c.drawInterval.Observe(rec.At.Sub(c.lastDraw).Seconds())
	}
	c.lastDraw = rec.At
}

// ObserveVSync counts a vsync pass.
func (c *Collector) ObserveVSync(frame int64) {
	c.vsyncPasses.Inc()
	c.frameNumber.Set(float64(frame))
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
