// Package bridge implements the reconciliation engine between the
// Warema WMS radio network and the MQTT control plane.
//
// Radio broadcasts are noisy: the transceiver re-delivers identical
// frames, weather stations report every few seconds, and an actuator
// echoes back the very command it was just given. The engine turns
// that stream into stable, deduplicated, retained MQTT state:
//
//	        stick events                      commands
//	┌──────────────▼─────────────────────────────▼───────────────┐
//	│                        Bridge (one mutex)                  │
//	│  Deduplicator → WeatherSmoother / RainEngine / LightGuard  │
//	│               → cover state derivation → publish           │
//	│  device.Registry ← observations and optimistic intents     │
//	└────────────────────────────────────────────────────────────┘
//
// A rebind latch replays cached discovery payloads, availability and
// position queries whenever both the broker connection and the stick
// are up again after a drop. Snapshots of actuator state are persisted
// through a debounced best-effort store.
package bridge
