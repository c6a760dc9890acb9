// Package influxdb provides the optional weather history sink.
//
// When enabled, the bridge records every published weather sample and
// every committed rain transition as InfluxDB points. Writes are
// batched and non-blocking; a failed or disabled sink never affects
// event processing.
package influxdb
