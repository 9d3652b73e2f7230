// Package mqtt publishes store change events to an MQTT broker.
//
// thermostatd is a publisher only. Every message it sends is retained so a
// dashboard or bridge that subscribes late sees the current state of each
// device without querying the store:
//
//	{prefix}/{serial}/object/{key}    latest object value and revision
//	{prefix}/{serial}/owner           current owner (empty payload once released)
//	{prefix}/{serial}/shares          users the device is shared with
//	{prefix}/{serial}/availability    online/offline from the availability watchdog
//	{prefix}/system/status            thermostatd online/offline (LWT)
//
// Deleting a device clears its retained topics by publishing an empty
// retained payload to each one.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Object values are published as stored; restrict subscriptions with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.PublishJSON(topics.Owner("02AA01AC"), map[string]string{"user_id": "usr-1"})
package mqtt
