package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ruifelixpereira/freyja/internal/infrastructure/mqtt"
)

// Emission is one converted value bound for the digital twin.
type Emission struct {
	EntityID  string            `json:"entity_id"`
	Target    map[string]string `json:"target,omitempty"`
	TargetKey string            `json:"-"`
	Value     string            `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
}

// Sink is an output for emitted values.
type Sink interface {
	Name() string
	Send(ctx context.Context, em Emission) error
}

// LogSink logs every emission.
type LogSink struct {
	Logger Logger
}

// Name implements Sink.
func (LogSink) Name() string { return "log" }

// Send implements Sink.
func (s LogSink) Send(_ context.Context, em Emission) error {
	s.Logger.Info("signal emitted",
		"entity_id", em.EntityID,
		"target", em.TargetKey,
		"value", em.Value,
	)
	return nil
}

// Publisher is the subset of *mqtt.Client the MQTT sink uses.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink publishes emissions as JSON to <prefix>/twin/<target>.
type MQTTSink struct {
	Publisher Publisher
	Topics    mqtt.Topics
	QoS       byte
}

var topicUnsafe = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// Name implements Sink.
func (MQTTSink) Name() string { return "mqtt" }

// Send implements Sink.
func (s MQTTSink) Send(_ context.Context, em Emission) error {
	payload, err := json.Marshal(em)
	if err != nil {
		return fmt.Errorf("encoding emission: %w", err)
	}
	topic := s.Topics.TwinValue(topicUnsafe.Replace(em.TargetKey))
	return s.Publisher.Publish(topic, payload, s.QoS, false)
}

// SignalWriter is the subset of *influxdb.Client the InfluxDB sink uses.
type SignalWriter interface {
	WriteSignal(entityID string, target map[string]string, value string, ts time.Time)
}

// InfluxSink writes emissions as points in the signal measurement.
type InfluxSink struct {
	Writer SignalWriter
}

// Name implements Sink.
func (InfluxSink) Name() string { return "influxdb" }

// Send implements Sink. Writes are batched; failures surface through the
// client's error callback.
func (s InfluxSink) Send(_ context.Context, em Emission) error {
	s.Writer.WriteSignal(em.EntityID, em.Target, em.Value, em.Timestamp)
	return nil
}
