package bridge

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("warema", "homeassistant")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"position", topics.Position("1001"), "warema/1001/position"},
		{"state", topics.State("1001"), "warema/1001/state"},
		{"tilt", topics.Tilt("1001"), "warema/1001/tilt"},
		{"brightness", topics.Brightness("1001"), "warema/1001/light/brightness"},
		{"light state", topics.LightState("1001"), "warema/1001/light/state"},
		{"illuminance", topics.Illuminance("2002"), "warema/2002/illuminance/state"},
		{"temperature", topics.Temperature("2002"), "warema/2002/temperature/state"},
		{"wind", topics.Wind("2002"), "warema/2002/wind/state"},
		{"rain", topics.Rain("2002"), "warema/2002/rain/state"},
		{"availability", topics.Availability("1001"), "warema/1001/availability"},
		{"bridge state", topics.BridgeState(), "warema/bridge/state"},
		{"discovery", topics.Discovery("cover", "1001", "cover"), "homeassistant/cover/1001/cover/config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	topics := NewTopics("warema", "homeassistant")

	tests := []struct {
		name    string
		topic   string
		wantSNR string
		wantCmd string
		wantOK  bool
	}{
		{"set", "warema/1001/set", "1001", "set", true},
		{"set position", "warema/1001/set_position", "1001", "set_position", true},
		{"set tilt", "warema/1001/set_tilt", "1001", "set_tilt", true},
		{"light set", "warema/3003/light/set", "3003", "light/set", true},
		{"light brightness", "warema/3003/light/set_brightness", "3003", "light/set_brightness", true},
		{"state topic is not a command", "warema/1001/state", "", "", false},
		{"foreign root", "zigbee/1001/set", "", "", false},
		{"missing snr", "warema/set", "", "", false},
		{"empty snr", "warema//set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snr, cmd, ok := topics.ParseCommand(tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if snr != tt.wantSNR || cmd != tt.wantCmd {
				t.Errorf("got (%q, %q), want (%q, %q)", snr, cmd, tt.wantSNR, tt.wantCmd)
			}
		})
	}
}

func TestCommandFiltersCoverParseCommand(t *testing.T) {
	topics := NewTopics("warema", "homeassistant")
	filters := topics.CommandFilters()
	if len(filters) != 5 {
		t.Fatalf("len(filters) = %d, want 5", len(filters))
	}
	for _, f := range filters {
		if f[:7] != "warema/" {
			t.Errorf("filter %q not under root", f)
		}
	}
}
