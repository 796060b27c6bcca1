package influxdb

import (
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// SignalMeasurement is the measurement emitted values are written to.
const SignalMeasurement = "signal"

// WriteSignal queues one emitted value. The entity id and every target
// key become tags. Numeric values are written to the "value" field; any
// other value goes to the "text" field.
func (c *Client) WriteSignal(entityID string, target map[string]string, value string, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(signalPoint(entityID, target, value, ts))
}

func signalPoint(entityID string, target map[string]string, value string, ts time.Time) *write.Point {
	tags := make(map[string]string, len(target)+1)
	for k, v := range target {
		tags[k] = v
	}
	tags["entity_id"] = entityID

	fields := make(map[string]any, 1)
	if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		fields["value"] = f
	} else {
		fields["text"] = value
	}
	return write.NewPoint(SignalMeasurement, tags, fields, ts)
}
