// Package mqtt provides MQTT client connectivity for the WMS bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees and explicit retain decisions
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on the bridge availability topic
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the control plane between the bridge and automation consumers
// (typically Home Assistant). The broker decouples consumers from the
// hardware event timing:
//
//	WMS transceiver ↔ wms-bridge ↔ MQTT Broker ↔ Home Assistant
//
// Connection callbacks (SetOnConnect/SetOnDisconnect) drive the engine's
// rebind coordinator: every reconnect replays discovery, availability,
// and current device state so retained topics converge to the registry.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Will{
//	    Topic:   "warema/bridge/state",
//	    Payload: "offline",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("warema/+/set_position", 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
package mqtt
