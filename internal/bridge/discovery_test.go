package bridge

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/nerrad567/wms-bridge/internal/device"
)

func newTestDiscovery() *Discovery {
	return NewDiscovery(NewTopics("warema", "homeassistant"), "wmsbridge")
}

func TestDiscoveryVenetianBlind(t *testing.T) {
	d := newTestDiscovery()

	pubs, err := d.Register(device.Device{SNR: "1001", Kind: device.KindVenetianBlind})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if len(pubs) != 1 {
		t.Fatalf("len(pubs) = %d, want 1", len(pubs))
	}
	if pubs[0].Topic != "homeassistant/cover/1001/cover/config" {
		t.Errorf("topic = %q", pubs[0].Topic)
	}

	var cfg map[string]any
	if err := json.Unmarshal(pubs[0].Payload, &cfg); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if cfg["command_topic"] != "warema/1001/set" {
		t.Errorf("command_topic = %v", cfg["command_topic"])
	}
	if cfg["set_position_topic"] != "warema/1001/set_position" {
		t.Errorf("set_position_topic = %v", cfg["set_position_topic"])
	}
	if cfg["tilt_command_topic"] != "warema/1001/set_tilt" {
		t.Errorf("tilt_command_topic = %v", cfg["tilt_command_topic"])
	}
	if cfg["availability_topic"] != "warema/1001/availability" {
		t.Errorf("availability_topic = %v", cfg["availability_topic"])
	}
}

func TestDiscoveryRollerShutterOmitsTilt(t *testing.T) {
	d := newTestDiscovery()

	pubs, err := d.Register(device.Device{SNR: "1002", Kind: device.KindRollerShutter})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	var cfg map[string]any
	if err := json.Unmarshal(pubs[0].Payload, &cfg); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if _, ok := cfg["tilt_command_topic"]; ok {
		t.Error("roller shutter advertisement carries tilt topics")
	}
}

func TestDiscoveryDimmer(t *testing.T) {
	d := newTestDiscovery()

	pubs, err := d.Register(device.Device{SNR: "3003", Kind: device.KindDimmer})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if pubs[0].Topic != "homeassistant/light/3003/light/config" {
		t.Errorf("topic = %q", pubs[0].Topic)
	}

	var cfg map[string]any
	json.Unmarshal(pubs[0].Payload, &cfg)
	if cfg["brightness_command_topic"] != "warema/3003/light/set_brightness" {
		t.Errorf("brightness_command_topic = %v", cfg["brightness_command_topic"])
	}
	if cfg["brightness_scale"] != float64(100) {
		t.Errorf("brightness_scale = %v", cfg["brightness_scale"])
	}
}

func TestDiscoveryWeatherStation(t *testing.T) {
	d := newTestDiscovery()

	pubs, err := d.Register(device.Device{SNR: "2002", Kind: device.KindWeatherStation})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if len(pubs) != 4 {
		t.Fatalf("len(pubs) = %d, want 4 (three sensors + rain)", len(pubs))
	}

	wantTopics := map[string]bool{
		"homeassistant/sensor/2002/illuminance/config": false,
		"homeassistant/sensor/2002/temperature/config": false,
		"homeassistant/sensor/2002/wind/config":        false,
		"homeassistant/binary_sensor/2002/rain/config": false,
	}
	for _, pub := range pubs {
		if _, ok := wantTopics[pub.Topic]; !ok {
			t.Errorf("unexpected topic %q", pub.Topic)
			continue
		}
		wantTopics[pub.Topic] = true
	}
	for topic, seen := range wantTopics {
		if !seen {
			t.Errorf("missing advertisement %q", topic)
		}
	}
}

func TestDiscoveryUnknownKind(t *testing.T) {
	d := newTestDiscovery()

	if _, err := d.Register(device.Device{SNR: "1001", Kind: "toaster"}); err == nil {
		t.Error("Register() accepted unknown kind")
	}
}

func TestDiscoveryCacheIdempotentReplay(t *testing.T) {
	d := newTestDiscovery()

	first, err := d.Register(device.Device{SNR: "1001", Kind: device.KindVenetianBlind})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	d.Register(device.Device{SNR: "2002", Kind: device.KindWeatherStation})

	// Re-registering returns the cached payload byte for byte.
	second, err := d.Register(device.Device{SNR: "1001", Kind: device.KindVenetianBlind})
	if err != nil {
		t.Fatalf("re-Register() error: %v", err)
	}
	if !bytes.Equal(first[0].Payload, second[0].Payload) {
		t.Error("cached payload differs from original")
	}

	cached := d.Cached()
	if len(cached) != 5 {
		t.Fatalf("len(Cached()) = %d, want 5", len(cached))
	}
	if cached[0].Topic != "homeassistant/cover/1001/cover/config" {
		t.Errorf("replay order changed: first = %q", cached[0].Topic)
	}
}
