package bridge

import (
	"math"
	"strconv"
	"time"
)

// Metric identifies one smoothed weather channel.
type Metric string

const (
	MetricWind        Metric = "wind"
	MetricTemperature Metric = "temperature"
	MetricIlluminance Metric = "illuminance"
)

// metricState holds one EMA-smoothed value.
type metricState struct {
	value      float64
	lastUpdate time.Time
}

// weatherChannel tracks the smoothed metrics of one weather station.
// The publish gate is shared across metrics so one broadcast produces
// at most one burst of telemetry per interval.
type weatherChannel struct {
	metrics     map[Metric]*metricState
	lastPublish time.Time
	published   bool
}

// WeatherSmoother applies an exponential moving average to raw weather
// broadcasts and rate-limits the published output. Raw frames arrive
// every few seconds; consumers want stable readings about once a
// minute.
//
// Not self-synchronized: callers serialize access on the engine path.
type WeatherSmoother struct {
	alpha           float64
	publishInterval time.Duration
	channels        map[string]*weatherChannel

	now func() time.Time
}

// NewWeatherSmoother creates a smoother with the given EMA coefficient
// and minimum interval between published bursts.
func NewWeatherSmoother(alpha float64, publishInterval time.Duration) *WeatherSmoother {
	return &WeatherSmoother{
		alpha:           alpha,
		publishInterval: publishInterval,
		channels:        make(map[string]*weatherChannel),
		now:             time.Now,
	}
}

// Observe folds a raw sample into the metric's running average. The
// first sample of a metric seeds the value directly; smoothing needs a
// prior value to damp against.
func (w *WeatherSmoother) Observe(snr string, metric Metric, raw float64) {
	ch := w.channel(snr)
	now := w.now()

	state, ok := ch.metrics[metric]
	if !ok {
		ch.metrics[metric] = &metricState{value: raw, lastUpdate: now}
		return
	}

	state.value += w.alpha * (raw - state.value)
	state.lastUpdate = now
}

// ShouldPublish reports whether the channel's publish gate has elapsed.
// A channel that has never published is always eligible.
func (w *WeatherSmoother) ShouldPublish(snr string) bool {
	ch, ok := w.channels[snr]
	if !ok {
		return false
	}
	if !ch.published {
		return true
	}
	return w.now().Sub(ch.lastPublish) >= w.publishInterval
}

// MarkPublished resets the channel's publish gate.
func (w *WeatherSmoother) MarkPublished(snr string) {
	ch := w.channel(snr)
	ch.lastPublish = w.now()
	ch.published = true
}

// Value returns the smoothed value of a metric, or false if the metric
// has never been observed.
func (w *WeatherSmoother) Value(snr string, metric Metric) (float64, bool) {
	ch, ok := w.channels[snr]
	if !ok {
		return 0, false
	}
	state, ok := ch.metrics[metric]
	if !ok {
		return 0, false
	}
	return state.value, true
}

func (w *WeatherSmoother) channel(snr string) *weatherChannel {
	ch, ok := w.channels[snr]
	if !ok {
		ch = &weatherChannel{metrics: make(map[Metric]*metricState)}
		w.channels[snr] = ch
	}
	return ch
}

// FormatMetric renders a smoothed value for publishing. Temperature and
// wind carry one decimal; illuminance is a whole number.
func FormatMetric(metric Metric, value float64) string {
	if metric == MetricIlluminance {
		return strconv.Itoa(int(math.Round(value)))
	}
	return strconv.FormatFloat(math.Round(value*10)/10, 'f', 1, 64)
}
