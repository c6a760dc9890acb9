package bridge

import (
	"fmt"
	"strings"
)

// Topics builds the MQTT topic namespace for the bridge.
// All device topics live under a configurable root (default "warema"),
// discovery topics under the consumer's discovery prefix.
type Topics struct {
	root            string
	discoveryPrefix string
}

// NewTopics creates a topic builder for the given root and discovery prefix.
func NewTopics(root, discoveryPrefix string) Topics {
	return Topics{
		root:            strings.TrimSuffix(root, "/"),
		discoveryPrefix: strings.TrimSuffix(discoveryPrefix, "/"),
	}
}

// State and telemetry topics.

func (t Topics) Position(snr string) string     { return t.root + "/" + snr + "/position" }
func (t Topics) State(snr string) string        { return t.root + "/" + snr + "/state" }
func (t Topics) Tilt(snr string) string         { return t.root + "/" + snr + "/tilt" }
func (t Topics) Brightness(snr string) string   { return t.root + "/" + snr + "/light/brightness" }
func (t Topics) LightState(snr string) string   { return t.root + "/" + snr + "/light/state" }
func (t Topics) Illuminance(snr string) string  { return t.root + "/" + snr + "/illuminance/state" }
func (t Topics) Temperature(snr string) string  { return t.root + "/" + snr + "/temperature/state" }
func (t Topics) Wind(snr string) string         { return t.root + "/" + snr + "/wind/state" }
func (t Topics) Rain(snr string) string         { return t.root + "/" + snr + "/rain/state" }
func (t Topics) Availability(snr string) string { return t.root + "/" + snr + "/availability" }

// BridgeState is the bridge-wide availability topic, also used as the
// broker will topic.
func (t Topics) BridgeState() string { return t.root + "/bridge/state" }

// Discovery returns the discovery config topic for one advertised object.
func (t Topics) Discovery(component, snr, object string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.discoveryPrefix, component, snr, object)
}

// Command topic suffixes.
const (
	cmdSet           = "set"
	cmdSetPosition   = "set_position"
	cmdSetTilt       = "set_tilt"
	cmdLightSet      = "light/set"
	cmdLightSetLevel = "light/set_brightness"
)

// CommandFilters returns the subscription filters covering every
// per-device command topic.
func (t Topics) CommandFilters() []string {
	return []string{
		t.root + "/+/" + cmdSet,
		t.root + "/+/" + cmdSetPosition,
		t.root + "/+/" + cmdSetTilt,
		t.root + "/+/" + cmdLightSet,
		t.root + "/+/" + cmdLightSetLevel,
	}
}

// ParseCommand extracts the device SNR and command suffix from an
// inbound topic. Returns ok=false for topics outside the command space.
func (t Topics) ParseCommand(topic string) (snr, command string, ok bool) {
	prefix := t.root + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(topic, prefix)

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}

	switch parts[1] {
	case cmdSet, cmdSetPosition, cmdSetTilt, cmdLightSet, cmdLightSetLevel:
		return parts[0], parts[1], true
	}
	return "", "", false
}
