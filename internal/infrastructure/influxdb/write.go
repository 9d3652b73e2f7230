package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by thermostatd.
const (
	MeasurementStoreOperation = "store_operation"
	MeasurementAvailability   = "device_availability"
	MeasurementPrune          = "store_prune"
)

// WriteStoreOperation records the latency and outcome of one store call.
// outcome is a low-cardinality label such as "ok" or "revision_conflict".
//
//	client.WriteStoreOperation("put_object", "ok", 3*time.Millisecond)
func (c *Client) WriteStoreOperation(operation, outcome string, d time.Duration) {
	c.WritePoint(MeasurementStoreOperation,
		map[string]string{
			"operation": operation,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"duration_ms": float64(d.Microseconds()) / 1000,
		},
	)
}

// WriteAvailability records a device going online or offline. lastSeen is
// the device's most recent session activity.
func (c *Client) WriteAvailability(serial string, online bool, lastSeen time.Time) {
	c.WritePoint(MeasurementAvailability,
		map[string]string{
			"serial": serial,
		},
		map[string]interface{}{
			"online":       online,
			"last_seen_ms": lastSeen.UnixMilli(),
		},
	)
}

// WritePrune records how many rows one maintenance pass removed or expired.
func (c *Client) WritePrune(entryKeys, invites int64) {
	c.WritePoint(MeasurementPrune, nil,
		map[string]interface{}{
			"entry_keys": entryKeys,
			"invites":    invites,
		},
	)
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// Writes on a closed or disconnected client are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
