// Package influxdb writes emitted signal values to InfluxDB v2.
//
// Writes are non-blocking and batched by the client library according to
// the influxdb section of the configuration (batch_size, flush_interval).
// Asynchronous write failures are reported through SetOnError.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSignal("cabin-temp", map[string]string{"property": "temp"}, "21.5", time.Now())
package influxdb
