package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement every reading is written to.
const Measurement = "km200"

// WriteNumber records a numeric reading for a device path.
//
// The point is batched and sent asynchronously; write failures surface
// through the SetOnError callback. Does nothing while disconnected.
//
// Parameters:
//   - id: Device path, written as the "id" tag
//   - unit: Unit of measure tag, omitted when empty
//   - value: Reading stored in the "value" field
//   - ts: Observation time
func (c *Client) WriteNumber(id, unit string, value float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(numberPoint(id, unit, value, ts))
}

// WriteText records a string reading for a device path.
func (c *Client) WriteText(id, unit, text string, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(textPoint(id, unit, text, ts))
}

func numberPoint(id, unit string, value float64, ts time.Time) *write.Point {
	return write.NewPoint(Measurement, readingTags(id, unit), map[string]interface{}{"value": value}, ts)
}

func textPoint(id, unit, text string, ts time.Time) *write.Point {
	return write.NewPoint(Measurement, readingTags(id, unit), map[string]interface{}{"text": text}, ts)
}

// readingTags keeps cardinality bounded by the endpoint list. Empty units are omitted.
func readingTags(id, unit string) map[string]string {
	tags := map[string]string{"id": id}
	if unit != "" {
		tags["unit"] = unit
	}
	return tags
}
