// Package mqtt provides the MQTT client used by km200-bridge.
//
// This package manages:
//   - Connection to the broker with paho auto-reconnect
//   - Retained and non-retained publishing with QoS validation
//   - Subscriptions that are restored after every reconnect
//   - A Last Will of "0" on {prefix}/connected for offline detection
//   - Topic builders for the {prefix}/status, meta, set and ack hierarchy
//
// The client does not decide what "connected" means for the bridge as a
// whole. It reports connect and connection-lost events through callbacks
// and the connectivity supervisor publishes the 1/2 values.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)
//	err = client.Subscribe(topics.SetWildcard(), 1, handler)
package mqtt
