package device

import "time"

// Kind is the capability class of a WMS device. The kind decides which
// fields of Device are meaningful, which MQTT topics exist for it, and
// which discovery payload it gets.
type Kind string

// Supported device kinds.
const (
	// KindVenetianBlind is an actuator with position and tilt.
	KindVenetianBlind Kind = "venetian_blind"

	// KindRollerShutter is an actuator with position only.
	KindRollerShutter Kind = "roller_shutter"

	// KindDimmer is a dimmable light with a small set of discrete levels.
	KindDimmer Kind = "dimmer"

	// KindSwitch is an on/off plug receiver. WMS encodes on/off as
	// full/zero travel, so it is driven through position commands.
	KindSwitch Kind = "switch"

	// KindWeatherStation reports wind, temperature, illuminance, and rain.
	KindWeatherStation Kind = "weather_station"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindVenetianBlind, KindRollerShutter, KindDimmer, KindSwitch, KindWeatherStation:
		return true
	}
	return false
}

// HasTilt reports whether devices of this kind carry a tilt value.
func (k Kind) HasTilt() bool {
	return k == KindVenetianBlind
}

// HasPosition reports whether devices of this kind track travel position.
func (k Kind) HasPosition() bool {
	switch k {
	case KindVenetianBlind, KindRollerShutter, KindSwitch:
		return true
	}
	return false
}

// IsLight reports whether devices of this kind carry brightness.
func (k Kind) IsLight() bool {
	return k == KindDimmer
}

// Queryable reports whether the hardware can be asked for its current
// position/level. Weather stations only broadcast; everything else
// answers a position query.
func (k Kind) Queryable() bool {
	return k != KindWeatherStation
}

// Device is the authoritative record for one physical device.
//
// Identity (SNR, Kind) is immutable; state fields are mutated by the
// reconciliation engine only. Fields irrelevant to the kind stay nil.
type Device struct {
	// SNR is the stable serial identifier on the WMS network.
	SNR string

	// Kind is the capability class.
	Kind Kind

	// Position is the last hardware-confirmed travel position (0-100).
	// Commands never write it; movement direction is derived against it,
	// so it must not be contaminated with a command target.
	Position int

	// LastPosition is the previously confirmed position, used to derive
	// movement direction from the delta.
	LastPosition int

	// Tilt is the slat angle (-100..100). Venetian blinds only.
	Tilt *int

	// Brightness is the current quantized light level. Dimmers only.
	Brightness *int

	// LastBrightness is the last nonzero brightness, used to resume "on".
	// Dimmers only.
	LastBrightness *int

	// Observed is true once any hardware-confirmed value has been
	// recorded. It governs the retained flag on the first publish and
	// distinguishes snapshot-seeded values from live ones.
	Observed bool
}

// Observation carries hardware-confirmed field updates.
// Nil fields are left untouched by the merge.
type Observation struct {
	Position   *int
	Tilt       *int
	Brightness *int
}

// Intent carries optimistic field updates from a control-plane command,
// applied before the hardware confirms them. Position is deliberately
// absent: the confirmed position is the derivation baseline and only
// observations may move it.
type Intent struct {
	Tilt       *int
	Brightness *int
}

// DeepCopy returns a copy of the device with no shared pointers.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Tilt = copyIntPtr(d.Tilt)
	cp.Brightness = copyIntPtr(d.Brightness)
	cp.LastBrightness = copyIntPtr(d.LastBrightness)
	return &cp
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Snapshot is the persisted subset of a device, written to the
// best-effort snapshot store so brightness and position survive
// restarts.
type Snapshot struct {
	SNR            string
	Kind           Kind
	Position       int
	Tilt           *int
	Brightness     *int
	LastBrightness *int
	UpdatedAt      time.Time
}

// ToSnapshot extracts the persisted subset of the device.
func (d *Device) ToSnapshot(now time.Time) Snapshot {
	return Snapshot{
		SNR:            d.SNR,
		Kind:           d.Kind,
		Position:       d.Position,
		Tilt:           copyIntPtr(d.Tilt),
		Brightness:     copyIntPtr(d.Brightness),
		LastBrightness: copyIntPtr(d.LastBrightness),
		UpdatedAt:      now,
	}
}
