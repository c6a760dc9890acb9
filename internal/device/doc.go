// Package device provides the Device Registry for the WMS bridge.
//
// The registry is the authoritative in-memory map of device state: every
// other component reads and writes through it. Devices are keyed by
// their hardware serial number (SNR), created on first scan or lazily on
// first observation, and never deleted.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                      Device Registry                      │
//	│                                                            │
//	│  ┌────────────────┐          ┌─────────────────────────┐  │
//	│  │    Registry    │          │    SQLiteRepository     │  │
//	│  │ (registry.go)  │  seeds   │    (repository.go)      │  │
//	│  │                │◀─────────│                         │  │
//	│  │ • Upsert       │  saves   │ • Snapshot upsert/load  │  │
//	│  │ • Observation  │─────────▶│ • Best-effort, debounced│  │
//	│  │ • Intent merge │          │                         │  │
//	│  └────────────────┘          └─────────────────────────┘  │
//	└──────────────────────────────────────────────────────────┘
//
// Hardware observations mark a device Observed, which governs the
// retained flag on its first publish. Intents are optimistic command
// echoes and deliberately do not mark the device observed.
package device
