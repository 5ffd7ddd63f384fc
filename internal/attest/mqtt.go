package attest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/agroshield/droughtcover/pkg/mqttbus"
)

// MQTTSink publishes events on attest/<kind> at QoS1 so downstream
// auditors see each transition at least once.
type MQTTSink struct {
	pub mqttbus.IPublisher
}

func NewMQTTSink(pub mqttbus.IPublisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

func (s *MQTTSink) Notify(_ context.Context, kind Kind, payload any) (Ref, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("attest: marshal %s payload: %w", kind, err)
	}
	if err := s.pub.Publish("attest/"+string(kind), 1, b); err != nil {
		return "", fmt.Errorf("attest: publish %s: %w", kind, err)
	}
	return Ref(uuid.New().String()), nil
}
