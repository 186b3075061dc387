// Package influxdb provides the optional history sink for km200-bridge.
//
// Every successfully decoded value can be recorded as a point in the
// "km200" measurement, tagged with the device path. Numeric values are
// stored in the "value" field, strings in the "text" field.
//
// Writes are non-blocking and batched by the official influxdb-client-go v2
// write API (batch_size, flush_interval). Asynchronous write errors are
// delivered through SetOnError.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteNumber("/dhwCircuits/dhw1/actualTemp", "C", 52.1, time.Now())
package influxdb
