package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteWeather records a published (smoothed) weather sample.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Values are the ones emitted to the control plane, so the history in
// InfluxDB matches what automation consumers saw, not the raw radio
// broadcasts.
//
// Parameters:
//   - snr: Weather station serial number
//   - wind: Smoothed wind speed (m/s)
//   - temperature: Smoothed temperature (°C)
//   - illuminance: Smoothed illuminance (lx)
func (c *Client) WriteWeather(snr string, wind, temperature float64, illuminance int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"weather",
		map[string]string{
			"snr": snr,
		},
		map[string]interface{}{
			"wind":        wind,
			"temperature": temperature,
			"illuminance": illuminance,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteRain records a committed rain state transition.
//
// Only debounced commits are recorded, so the series contains one point
// per real transition rather than one per noisy broadcast.
//
// Parameters:
//   - snr: Weather station serial number
//   - raining: The newly committed state
func (c *Client) WriteRain(snr string, raining bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"rain",
		map[string]string{
			"snr": snr,
		},
		map[string]interface{}{
			"raining": raining,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
