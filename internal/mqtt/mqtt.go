// Package mqtt provides the broker transport with an abstraction for testing.
package mqtt

import (
	"fmt"
	"strings"
)

// Metric is the last segment of a per-tank topic.
type Metric string

const (
	MetricLevel       Metric = "waterLevel"
	MetricTemperature Metric = "temperature"
	MetricPH          Metric = "pH"
	MetricTDS         Metric = "tds"
	MetricTurbidity   Metric = "turbidity"
	MetricFlow        Metric = "waterflow"
	MetricPump        Metric = "togglepump"
)

// AllMetrics lists every per-tank topic a tank detail view subscribes to.
var AllMetrics = []Metric{
	MetricLevel,
	MetricTemperature,
	MetricPH,
	MetricTDS,
	MetricTurbidity,
	MetricFlow,
	MetricPump,
}

// ParseMetric matches a topic suffix case-insensitively ("ph", "waterLevel", "TDS").
func ParseMetric(s string) (Metric, bool) {
	for _, m := range AllMetrics {
		if strings.EqualFold(string(m), s) {
			return m, true
		}
	}
	return "", false
}

// TankTopic returns tanks/{tankID}/{metric}.
func TankTopic(tankID string, m Metric) string {
	return "tanks/" + tankID + "/" + string(m)
}

// TankTopics returns the topics for the given metrics, in order.
func TankTopics(tankID string, metrics []Metric) []string {
	topics := make([]string, 0, len(metrics))
	for _, m := range metrics {
		topics = append(topics, TankTopic(tankID, m))
	}
	return topics
}

// SplitTankTopic parses tanks/{tankID}/{metric}.
func SplitTankTopic(topic string) (tankID string, m Metric, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "tanks" || parts[1] == "" {
		return "", "", false
	}
	m, ok = ParseMetric(parts[2])
	if !ok {
		return "", "", false
	}
	return parts[1], m, true
}

// DeviceCommandTopic returns devices/{deviceID}/commands.
func DeviceCommandTopic(deviceID string) string {
	return "devices/" + deviceID + "/commands"
}

// Message is a single delivery from the broker.
type Message struct {
	Topic   string
	Payload []byte
}

// MessageHandler receives deliveries for subscribed topics.
// It is called from the transport's goroutine.
type MessageHandler func(Message)

// Conn is one broker connection. A Conn is used for a single connect attempt;
// reconnecting means dialing a new Conn.
type Conn interface {
	// Connect blocks until the broker accepts or rejects the connection,
	// bounded by the transport's connect timeout.
	Connect() error

	// Subscribe registers topics at QoS 0 and routes their messages to handler.
	Subscribe(topics []string, handler MessageHandler) error

	// Publish sends payload to topic at QoS 0, not retained.
	Publish(topic string, payload []byte) error

	// Disconnect releases subscriptions and closes the connection. Safe to call twice.
	Disconnect()

	// IsConnected reports whether the connection is currently open.
	IsConnected() bool
}

// Dialer creates connections to one broker.
type Dialer interface {
	// Dial returns an unconnected Conn. scope names the tank or device the
	// connection serves and goes into its client identifier. onLost is called
	// at most once if an established connection drops.
	Dial(scope string, onLost func(error)) Conn

	// Broker returns the endpoint URL for display.
	Broker() string
}

// ClientID builds the client identifier for one dial. A broker drops an
// existing client when another connects with the same identifier, so every
// connection, including each reconnect, gets its own sequence number.
func ClientID(prefix, scope string, seq uint64) string {
	return fmt.Sprintf("%s-%s-%d", prefix, scope, seq)
}

// TankScope names a tank session's connections for ClientID.
func TankScope(tankID string) string { return "tank-" + tankID }

// DeviceScope names a device session's connections for ClientID.
func DeviceScope(deviceID string) string { return "device-" + deviceID }
