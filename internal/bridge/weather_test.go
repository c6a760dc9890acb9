package bridge

import (
	"testing"
	"time"
)

func TestWeatherSmootherFirstSampleSeeds(t *testing.T) {
	w := NewWeatherSmoother(0.2, time.Minute)

	w.Observe("2002", MetricWind, 5.0)

	got, ok := w.Value("2002", MetricWind)
	if !ok {
		t.Fatal("Value() not defined after first observation")
	}
	if got != 5.0 {
		t.Errorf("first sample = %v, want exactly 5.0 (no damping)", got)
	}
}

func TestWeatherSmootherEMA(t *testing.T) {
	w := NewWeatherSmoother(0.2, time.Minute)

	w.Observe("2002", MetricWind, 5.0)
	w.Observe("2002", MetricWind, 7.0)

	got, _ := w.Value("2002", MetricWind)
	if got <= 5.0 || got >= 7.0 {
		t.Fatalf("smoothed value %v not strictly between 5.0 and 7.0", got)
	}
	// alpha 0.2 weights the new sample lightly.
	if got-5.0 >= 7.0-got {
		t.Errorf("smoothed value %v not closer to 5.0", got)
	}
	if got != 5.4 {
		t.Errorf("smoothed value = %v, want 5.4", got)
	}
}

func TestWeatherSmootherMetricsIndependent(t *testing.T) {
	w := NewWeatherSmoother(0.2, time.Minute)

	w.Observe("2002", MetricWind, 5.0)

	if _, ok := w.Value("2002", MetricTemperature); ok {
		t.Error("temperature defined without observation")
	}
	if _, ok := w.Value("9999", MetricWind); ok {
		t.Error("unknown sensor has a value")
	}
}

func TestWeatherSmootherPublishGate(t *testing.T) {
	clock := newFakeClock()
	w := NewWeatherSmoother(0.2, time.Minute)
	w.now = clock.now

	if w.ShouldPublish("2002") {
		t.Error("unobserved channel eligible to publish")
	}

	w.Observe("2002", MetricWind, 5.0)
	if !w.ShouldPublish("2002") {
		t.Error("never-published channel not eligible")
	}

	w.MarkPublished("2002")
	if w.ShouldPublish("2002") {
		t.Error("eligible immediately after publish")
	}

	clock.advance(59 * time.Second)
	if w.ShouldPublish("2002") {
		t.Error("eligible before interval elapsed")
	}

	clock.advance(time.Second)
	if !w.ShouldPublish("2002") {
		t.Error("not eligible after interval elapsed")
	}
}

func TestFormatMetric(t *testing.T) {
	tests := []struct {
		name   string
		metric Metric
		value  float64
		want   string
	}{
		{"wind one decimal", MetricWind, 5.44, "5.4"},
		{"wind rounds up", MetricWind, 5.45, "5.5"},
		{"temperature one decimal", MetricTemperature, 21.0, "21.0"},
		{"temperature negative", MetricTemperature, -3.26, "-3.3"},
		{"illuminance whole number", MetricIlluminance, 17999.6, "18000"},
		{"illuminance truncates nothing", MetricIlluminance, 250.4, "250"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatMetric(tt.metric, tt.value); got != tt.want {
				t.Errorf("FormatMetric(%v, %v) = %q, want %q", tt.metric, tt.value, got, tt.want)
			}
		})
	}
}
