package monitoring

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/collar.amc/internal/events"
)

// Collector turns engine events and task timings into Prometheus metrics.
// It satisfies events.Sink and the monitor's task observer.
type Collector struct {
	gatherer prometheus.Gatherer

	Events        *prometheus.CounterVec
	ZoneChanges   *prometheus.CounterVec
	Corrections   *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	TaskDurations *prometheus.HistogramVec

	Zaps          prometheus.Counter
	FenceVersion  prometheus.Gauge
	FenceDistance prometheus.Gauge
	ToneFrequency prometheus.Gauge
	ZapPain       prometheus.Gauge
}

// NewCollector registers the collar metrics against reg, defaulting to the
// global registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Events, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amc_events_total",
		Help: "Events emitted by the monitor, labeled by kind.",
	}, []string{"kind"}), "amc_events_total"); err != nil {
		return nil, err
	}
	if c.ZoneChanges, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amc_zone_changes_total",
		Help: "Zone transitions, labeled by destination zone.",
	}, []string{"to"}), "amc_zone_changes_total"); err != nil {
		return nil, err
	}
	if c.Corrections, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amc_corrections_total",
		Help: "Correction transitions, labeled by phase and reason.",
	}, []string{"phase", "reason"}), "amc_corrections_total"); err != nil {
		return nil, err
	}
	if c.Errors, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amc_errors_total",
		Help: "Degraded or rejected conditions, labeled by error kind.",
	}, []string{"kind"}), "amc_errors_total"); err != nil {
		return nil, err
	}
	if c.TaskDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "amc_task_duration_seconds",
		Help:    "Calculation task latency in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"task"}), "amc_task_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Zaps, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amc_zaps_total",
		Help: "Electric pulses released.",
	}), "amc_zaps_total"); err != nil {
		return nil, err
	}
	if c.FenceVersion, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "amc_fence_version",
		Help: "Version of the active pasture.",
	}), "amc_fence_version"); err != nil {
		return nil, err
	}
	if c.FenceDistance, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "amc_fence_distance_decimeters",
		Help: "Latest signed distance to the fence; positive is outside.",
	}), "amc_fence_distance_decimeters"); err != nil {
		return nil, err
	}
	if c.ToneFrequency, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "amc_tone_frequency_hertz",
		Help: "Last requested warning tone frequency.",
	}), "amc_tone_frequency_hertz"); err != nil {
		return nil, err
	}
	if c.ZapPain, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "amc_zap_pain",
		Help: "Pulses released in the current correction episode.",
	}), "amc_zap_pain"); err != nil {
		return nil, err
	}
	return c, nil
}

// Publish records e.
func (c *Collector) Publish(e events.Event) {
	if c == nil || e == nil {
		return
	}
	c.Events.WithLabelValues(e.Kind()).Inc()

	switch ev := e.(type) {
	case events.ZoneChanged:
		c.ZoneChanges.WithLabelValues(ev.To.String()).Inc()
	case events.Position:
		c.FenceDistance.Set(float64(ev.Distance))
	case events.SetToneFrequency:
		c.ToneFrequency.Set(float64(ev.Hz))
	case events.CorrectionStarted:
		reason := "start"
		if ev.Resumed {
			reason = "resume"
		}
		c.Corrections.WithLabelValues("started", reason).Inc()
	case events.CorrectionPaused:
		c.Corrections.WithLabelValues("paused", ev.Reason).Inc()
	case events.CorrectionEnded:
		c.Corrections.WithLabelValues("ended", ev.Reason).Inc()
		c.ZapPain.Set(0)
	case events.Zapped:
		c.Zaps.Inc()
		c.ZapPain.Set(float64(ev.Pain))
	case events.FenceVersion:
		c.FenceVersion.Set(float64(ev.Version))
	case events.Error:
		c.Errors.WithLabelValues(ev.ErrKind.String()).Inc()
	}
}

// ObserveTask records the duration of one calculation task.
func (c *Collector) ObserveTask(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.TaskDurations.WithLabelValues(kind).Observe(d.Seconds())
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}
