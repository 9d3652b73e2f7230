// Package logging builds the slog logger thermostatd hands to the store,
// the availability watchdog and the MQTT and InfluxDB clients.
//
// Records carry service and version attributes. The format (json or text),
// level and destination come from the logging section of config.yaml.
//
// The store never logs object values, log payloads or API secrets; API keys
// appear only by key id.
package logging
