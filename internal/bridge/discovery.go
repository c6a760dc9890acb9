package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/wms-bridge/internal/device"
)

// Publication is one topic/payload pair produced by the discovery
// builder.
type Publication struct {
	Topic   string
	Payload []byte
}

// discoveryDevice is the shared device block of every advertisement.
type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// coverConfig advertises a positionable cover.
type coverConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	CommandTopic      string          `json:"command_topic"`
	PositionTopic     string          `json:"position_topic"`
	SetPositionTopic  string          `json:"set_position_topic"`
	StateTopic        string          `json:"state_topic"`
	TiltStatusTopic   string          `json:"tilt_status_topic,omitempty"`
	TiltCommandTopic  string          `json:"tilt_command_topic,omitempty"`
	TiltMin           *int            `json:"tilt_min,omitempty"`
	TiltMax           *int            `json:"tilt_max,omitempty"`
	AvailabilityTopic string          `json:"availability_topic"`
	PositionOpen      int             `json:"position_open"`
	PositionClosed    int             `json:"position_closed"`
	PayloadOpen       string          `json:"payload_open"`
	PayloadClose      string          `json:"payload_close"`
	PayloadStop       string          `json:"payload_stop"`
	Device            discoveryDevice `json:"device"`
}

// lightConfig advertises a dimmable light.
type lightConfig struct {
	Name                 string          `json:"name"`
	UniqueID             string          `json:"unique_id"`
	CommandTopic         string          `json:"command_topic"`
	StateTopic           string          `json:"state_topic"`
	BrightnessStateTopic string          `json:"brightness_state_topic"`
	BrightnessCmdTopic   string          `json:"brightness_command_topic"`
	BrightnessScale      int             `json:"brightness_scale"`
	AvailabilityTopic    string          `json:"availability_topic"`
	Device               discoveryDevice `json:"device"`
}

// switchConfig advertises an on/off receiver.
type switchConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	CommandTopic      string          `json:"command_topic"`
	StateTopic        string          `json:"state_topic"`
	PayloadOn         string          `json:"payload_on"`
	PayloadOff        string          `json:"payload_off"`
	AvailabilityTopic string          `json:"availability_topic"`
	Device            discoveryDevice `json:"device"`
}

// sensorConfig advertises one weather metric.
type sensorConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	DeviceClass       string          `json:"device_class,omitempty"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	AvailabilityTopic string          `json:"availability_topic"`
	Device            discoveryDevice `json:"device"`
}

// binarySensorConfig advertises the debounced rain signal.
type binarySensorConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	DeviceClass       string          `json:"device_class"`
	PayloadOn         string          `json:"payload_on"`
	PayloadOff        string          `json:"payload_off"`
	AvailabilityTopic string          `json:"availability_topic"`
	Device            discoveryDevice `json:"device"`
}

// Discovery builds advertisement payloads for registered devices and
// caches them verbatim for idempotent replay after a reconnect.
//
// Not self-synchronized: callers serialize access on the engine path.
type Discovery struct {
	topics     Topics
	bridgeName string

	cache map[string][]byte
	order []string
}

// NewDiscovery creates a discovery builder. bridgeName appears as the
// via_device reference in every advertisement.
func NewDiscovery(topics Topics, bridgeName string) *Discovery {
	return &Discovery{
		topics:     topics,
		bridgeName: bridgeName,
		cache:      make(map[string][]byte),
	}
}

// Register builds the advertisements for a device and caches them.
// Registering the same SNR twice returns the cached payloads unchanged,
// so replay stays idempotent.
func (d *Discovery) Register(dev device.Device) ([]Publication, error) {
	pubs, err := d.build(dev)
	if err != nil {
		return nil, err
	}

	out := make([]Publication, 0, len(pubs))
	for _, p := range pubs {
		if cached, ok := d.cache[p.Topic]; ok {
			out = append(out, Publication{Topic: p.Topic, Payload: cached})
			continue
		}
		d.cache[p.Topic] = p.Payload
		d.order = append(d.order, p.Topic)
		out = append(out, p)
	}
	return out, nil
}

// Cached returns every cached advertisement in registration order.
func (d *Discovery) Cached() []Publication {
	out := make([]Publication, 0, len(d.order))
	for _, topic := range d.order {
		out = append(out, Publication{Topic: topic, Payload: d.cache[topic]})
	}
	return out
}

func (d *Discovery) build(dev device.Device) ([]Publication, error) {
	snr := dev.SNR
	block := discoveryDevice{
		Identifiers:  []string{"wms_" + snr},
		Name:         "WMS " + snr,
		Manufacturer: "Warema",
		Model:        string(dev.Kind),
		ViaDevice:    d.bridgeName,
	}

	switch dev.Kind {
	case device.KindVenetianBlind:
		tiltMin, tiltMax := -100, 100
		return d.marshalOne("cover", snr, "cover", coverConfig{
			Name:              "WMS " + snr,
			UniqueID:          "wms_" + snr + "_cover",
			CommandTopic:      d.topics.root + "/" + snr + "/" + cmdSet,
			PositionTopic:     d.topics.Position(snr),
			SetPositionTopic:  d.topics.root + "/" + snr + "/" + cmdSetPosition,
			StateTopic:        d.topics.State(snr),
			TiltStatusTopic:   d.topics.Tilt(snr),
			TiltCommandTopic:  d.topics.root + "/" + snr + "/" + cmdSetTilt,
			TiltMin:           &tiltMin,
			TiltMax:           &tiltMax,
			AvailabilityTopic: d.topics.Availability(snr),
			PositionOpen:      0,
			PositionClosed:    100,
			PayloadOpen:       "OPEN",
			PayloadClose:      "CLOSE",
			PayloadStop:       "STOP",
			Device:            block,
		})

	case device.KindRollerShutter:
		return d.marshalOne("cover", snr, "cover", coverConfig{
			Name:              "WMS " + snr,
			UniqueID:          "wms_" + snr + "_cover",
			CommandTopic:      d.topics.root + "/" + snr + "/" + cmdSet,
			PositionTopic:     d.topics.Position(snr),
			SetPositionTopic:  d.topics.root + "/" + snr + "/" + cmdSetPosition,
			StateTopic:        d.topics.State(snr),
			AvailabilityTopic: d.topics.Availability(snr),
			PositionOpen:      0,
			PositionClosed:    100,
			PayloadOpen:       "OPEN",
			PayloadClose:      "CLOSE",
			PayloadStop:       "STOP",
			Device:            block,
		})

	case device.KindDimmer:
		return d.marshalOne("light", snr, "light", lightConfig{
			Name:                 "WMS " + snr,
			UniqueID:             "wms_" + snr + "_light",
			CommandTopic:         d.topics.root + "/" + snr + "/" + cmdLightSet,
			StateTopic:           d.topics.LightState(snr),
			BrightnessStateTopic: d.topics.Brightness(snr),
			BrightnessCmdTopic:   d.topics.root + "/" + snr + "/" + cmdLightSetLevel,
			BrightnessScale:      100,
			AvailabilityTopic:    d.topics.Availability(snr),
			Device:               block,
		})

	case device.KindSwitch:
		return d.marshalOne("switch", snr, "switch", switchConfig{
			Name:              "WMS " + snr,
			UniqueID:          "wms_" + snr + "_switch",
			CommandTopic:      d.topics.root + "/" + snr + "/" + cmdSet,
			StateTopic:        d.topics.State(snr),
			PayloadOn:         "ON",
			PayloadOff:        "OFF",
			AvailabilityTopic: d.topics.Availability(snr),
			Device:            block,
		})

	case device.KindWeatherStation:
		return d.buildWeatherStation(snr, block)
	}

	return nil, fmt.Errorf("%w: %q", device.ErrInvalidKind, dev.Kind)
}

// buildWeatherStation advertises the four channels of a weather
// station: three analog sensors and the debounced rain signal.
func (d *Discovery) buildWeatherStation(snr string, block discoveryDevice) ([]Publication, error) {
	sensors := []struct {
		object      string
		topic       string
		deviceClass string
		unit        string
	}{
		{"illuminance", d.topics.Illuminance(snr), "illuminance", "lx"},
		{"temperature", d.topics.Temperature(snr), "temperature", "°C"},
		{"wind", d.topics.Wind(snr), "wind_speed", "m/s"},
	}

	pubs := make([]Publication, 0, 4)
	for _, s := range sensors {
		payload, err := json.Marshal(sensorConfig{
			Name:              fmt.Sprintf("WMS %s %s", snr, s.object),
			UniqueID:          fmt.Sprintf("wms_%s_%s", snr, s.object),
			StateTopic:        s.topic,
			DeviceClass:       s.deviceClass,
			UnitOfMeasurement: s.unit,
			AvailabilityTopic: d.topics.Availability(snr),
			Device:            block,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal discovery payload: %w", err)
		}
		pubs = append(pubs, Publication{
			Topic:   d.topics.Discovery("sensor", snr, s.object),
			Payload: payload,
		})
	}

	rain, err := json.Marshal(binarySensorConfig{
		Name:              fmt.Sprintf("WMS %s rain", snr),
		UniqueID:          fmt.Sprintf("wms_%s_rain", snr),
		StateTopic:        d.topics.Rain(snr),
		DeviceClass:       "moisture",
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		AvailabilityTopic: d.topics.Availability(snr),
		Device:            block,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal discovery payload: %w", err)
	}
	pubs = append(pubs, Publication{
		Topic:   d.topics.Discovery("binary_sensor", snr, "rain"),
		Payload: rain,
	})

	return pubs, nil
}

func (d *Discovery) marshalOne(component, snr, object string, cfg any) ([]Publication, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal discovery payload: %w", err)
	}
	return []Publication{{
		Topic:   d.topics.Discovery(component, snr, object),
		Payload: payload,
	}}, nil
}
