// Package influxdb records thermostatd operational metrics in InfluxDB.
//
// Three measurements are written:
//   - store_operation: one point per store call, tagged by operation and
//     outcome, with the call latency in duration_ms
//   - device_availability: one point each time the availability watchdog
//     sees a device go online or offline
//   - store_prune: rows swept by each maintenance pass
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without metrics
//	}
//	defer client.Close()
//
//	client.WriteStoreOperation("claim_entry_key", "ok", elapsed)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; asynchronous write
// failures are delivered to the SetOnError callback.
package influxdb
