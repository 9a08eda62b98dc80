package broadcast

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/mqtt"
)

// MQTTSink republishes live messages to an MQTT broker under a base topic.
// The per-device topic "device.7" becomes "<base>/device/7".
type MQTTSink struct {
	client    mqtt.Client
	baseTopic string
}

// NewMQTTSink wraps an MQTT client
func NewMQTTSink(client mqtt.Client, baseTopic string) *MQTTSink {
	return &MQTTSink{
		client:    client,
		baseTopic: strings.TrimSuffix(baseTopic, "/"),
	}
}

// Name implements Sink
func (s *MQTTSink) Name() string { return "mqtt" }

// Topic maps a live topic to its MQTT topic
func (s *MQTTSink) Topic(topic string) string {
	mapped := strings.ReplaceAll(topic, ".", "/")
	if s.baseTopic == "" {
		return mapped
	}
	return s.baseTopic + "/" + mapped
}

// Send implements Sink
func (s *MQTTSink) Send(ctx context.Context, topic string, msg Message) error {
	if !s.client.IsConnected() {
		return errors.Newf("mqtt sink not connected").
			Component("broadcast").
			Category(errors.CategoryMQTTConnection).
			Context("topic", topic).
			Build()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.New(err).
			Component("broadcast").
			Category(errors.CategoryBroadcast).
			Context("topic", topic).
			Build()
	}
	return s.client.Publish(ctx, s.Topic(topic), payload)
}
