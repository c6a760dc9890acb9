package wms

import (
	"github.com/nerrad567/wms-bridge/internal/device"
)

// WMS device type codes as reported by the transceiver during scans.
const (
	typeCodeWeatherStation = 6
	typeCodeSwitch         = 20
	typeCodeVenetianBlind  = 21
	typeCodeDimmer         = 24
	typeCodeRollerShutter  = 25
)

// ParseKind maps a WMS device type code to a registry kind.
// Unknown codes return false; the caller decides whether to drop the
// device or register it with a fallback kind.
func ParseKind(code int) (device.Kind, bool) {
	switch code {
	case typeCodeWeatherStation:
		return device.KindWeatherStation, true
	case typeCodeSwitch:
		return device.KindSwitch, true
	case typeCodeVenetianBlind:
		return device.KindVenetianBlind, true
	case typeCodeDimmer:
		return device.KindDimmer, true
	case typeCodeRollerShutter:
		return device.KindRollerShutter, true
	}
	return "", false
}

// Event is a typed notification from the transceiver.
// Implementations: ReadyEvent, ScanEvent, WeatherEvent, PositionEvent.
type Event interface {
	eventName() string
}

// ReadyEvent signals that the stick has joined the WMS network and is
// able to send commands and receive broadcasts.
type ReadyEvent struct{}

func (ReadyEvent) eventName() string { return "ready" }

// ScannedDevice is one entry of a network scan.
type ScannedDevice struct {
	SNR  string
	Kind device.Kind
}

// ScanEvent carries the devices found by a network scan.
type ScanEvent struct {
	Devices []ScannedDevice
}

func (ScanEvent) eventName() string { return "scan" }

// WeatherEvent is one weather broadcast from a weather station.
//
// Tag identifies the raw frame class for deduplication: the transceiver
// may re-deliver the identical physical broadcast several times within
// one logical event.
type WeatherEvent struct {
	SNR         string
	Wind        float64
	Temperature float64
	Illuminance float64
	Rain        bool
	Tag         string
}

func (WeatherEvent) eventName() string { return "weather" }

// PositionEvent is a position/level report from an actuator.
// For dimmers Position carries the brightness level. Tilt is present
// only for venetian blinds.
type PositionEvent struct {
	SNR      string
	Position int
	Tilt     *int
	Moving   bool
	Tag      string
}

func (PositionEvent) eventName() string { return "position" }

// frame is the wire representation of events and commands exchanged
// with the wmsd gateway daemon, one JSON object per line.
type frame struct {
	Type     string      `json:"type"`
	SNR      string      `json:"snr,omitempty"`
	Devices  []frameScan `json:"devices,omitempty"`
	Position *int        `json:"position,omitempty"`
	Tilt     *int        `json:"tilt,omitempty"`
	Moving   bool        `json:"moving,omitempty"`
	Wind     float64     `json:"wind,omitempty"`
	Temp     float64     `json:"temperature,omitempty"`
	Lux      float64     `json:"illuminance,omitempty"`
	Rain     bool        `json:"rain,omitempty"`
	Tag      string      `json:"tag,omitempty"`
	Label    string      `json:"label,omitempty"`
	Channel  int         `json:"channel,omitempty"`
	PANID    string      `json:"pan_id,omitempty"`
}

// frameScan is one scanned device on the wire.
type frameScan struct {
	SNR      string `json:"snr"`
	TypeCode int    `json:"type"`
}

// Frame type identifiers on the wire.
const (
	frameReady    = "ready"
	frameScanned  = "scan"
	frameWeather  = "weather"
	framePosition = "position"

	frameHello       = "hello"
	frameSetPosition = "set_position"
	frameStop        = "stop"
	frameAddDevice   = "add_device"
	frameQuery       = "query_position"
)
