// Package mqtt provides the MQTT client used by the Caseta bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - An optional Last Will and Testament for offline detection
//
// # Architecture
//
// MQTT is the message bus between the bridge and the rest of Gray Logic.
// The bridge publishes device state, events, acks, and health, and
// subscribes to commands and requests.
//
//	Gray Logic Core ↔ MQTT Broker ↔ Caseta Bridge ↔ Hubs
//
// # Security Considerations
//
//   - TLS should be enabled for production deployments (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Will{
//	    Topic:    "graylogic/health/caseta",
//	    Payload:  lwt,
//	    QoS:      1,
//	    Retained: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/caseta/+", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
