// Package wms implements the client for the wmsd gateway daemon that
// owns the Warema WMS USB transceiver stick.
//
// The daemon speaks newline-delimited JSON over TCP. The client sends
// a hello frame carrying the radio channel and PAN ID, after which the
// daemon joins the WMS network and streams events: a ready frame once
// the stick is usable, scan results, weather broadcasts and actuator
// position reports. Commands (move, stop, query, register) travel the
// other way and are fire-and-forget at the transport level; the radio
// confirms them indirectly through subsequent position reports.
//
// Architecture:
//
//	┌──────────────┐   TCP / ndjson   ┌───────┐   USB   ┌───────────┐
//	│ bridge engine│ ◄──────────────► │ Stick │ ◄─────► │ WMS stick │
//	└──────────────┘                  └───────┘         └───────────┘
//
// The connection self-heals: on loss the client redials with
// exponential backoff and replays the hello handshake, and the daemon
// emits a fresh ready frame that consumers use to rebind state.
package wms
