package mqtt

import "strings"

// DefaultTopicPrefix is the root of every bridge topic when none is configured.
const DefaultTopicPrefix = "km200"

// Connected topic values.
const (
	ConnectedOffline = "0"
	ConnectedBroker  = "1"
	ConnectedDevice  = "2"
)

// Topics builds the bridge topic hierarchy under a single prefix.
//
// Device paths keep their leading slash, so the path
// /dhwCircuits/dhw1/actualTemp becomes km200/status/dhwCircuits/dhw1/actualTemp.
type Topics struct {
	prefix string
}

// NewTopics returns builders rooted at prefix. Trailing slashes are removed.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the configured root.
func (t Topics) Prefix() string {
	return t.prefix
}

// Status returns the retained state topic for a value id.
//
// Example: km200/status/dhwCircuits/dhw1/actualTemp
func (t Topics) Status(id string) string {
	return t.prefix + "/status" + id
}

// Meta returns the retained metadata topic for a value id.
//
// Example: km200/meta/dhwCircuits/dhw1/actualTemp
func (t Topics) Meta(id string) string {
	return t.prefix + "/meta" + id
}

// Ack returns the write acknowledgement topic for a value id.
//
// Example: km200/ack/dhwCircuits/dhw1/temperatureLevels/high
func (t Topics) Ack(id string) string {
	return t.prefix + "/ack" + id
}

// Connected returns the retained connectivity topic.
func (t Topics) Connected() string {
	return t.prefix + "/connected"
}

// Health returns the retained bridge health topic.
func (t Topics) Health() string {
	return t.prefix + "/bridge/health"
}

// SetWildcard returns the subscription pattern for write requests.
//
// Pattern: km200/set/#
func (t Topics) SetWildcard() string {
	return t.prefix + "/set/#"
}

// SetPath maps a write request topic to the device path it addresses.
// The leading slash of the path is kept. ok is false for topics outside
// the set hierarchy or with an empty path.
//
// Example: km200/set/dhwCircuits/dhw1/temperatureLevels/high -> /dhwCircuits/dhw1/temperatureLevels/high
func (t Topics) SetPath(topic string) (path string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix+"/set")
	if !found || !strings.HasPrefix(rest, "/") || len(rest) < 2 {
		return "", false
	}
	return rest, true
}
