package weather

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/agroshield/droughtcover/internal/model"
	"github.com/agroshield/droughtcover/internal/model/messages"
	"github.com/agroshield/droughtcover/pkg/dedup"
)

// MQTTSource caches the latest observation per location from a station
// feed. Fetch never blocks on the network: it serves the cached reading
// or reports unavailable, leaving freshness to the aggregator.
type MQTTSource struct {
	name    string
	mu      sync.RWMutex
	latest  map[string]model.Reading
	deduper *dedup.Deduper
}

func NewMQTTSource(name string) *MQTTSource {
	return &MQTTSource{
		name:    name,
		latest:  make(map[string]model.Reading),
		deduper: dedup.New(10*time.Minute, 20000),
	}
}

func (s *MQTTSource) Name() string { return s.name }

// Handle is the mqttbus handler for the station topic. Identical QoS1
// redeliveries are dropped before unmarshalling.
func (s *MQTTSource) Handle(topic string, msg mqtt.Message) error {
	h := sha256.Sum256(msg.Payload())
	if !s.deduper.ShouldProcess(hex.EncodeToString(h[:])) {
		return nil
	}

	var obs messages.WeatherObservation
	if err := json.Unmarshal(msg.Payload(), &obs); err != nil {
		log.Printf("weather: bad observation on %s: %v", topic, err)
		return nil
	}
	if obs.Source != "" && obs.Source != s.name {
		return nil
	}

	s.mu.Lock()
	prev, ok := s.latest[obs.LocationKey]
	if !ok || obs.ObservedAt.After(prev.ObservedAt) {
		s.latest[obs.LocationKey] = model.Reading{
			Source:     s.name,
			RainMM:     obs.RainMM,
			ObservedAt: obs.ObservedAt,
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *MQTTSource) Fetch(_ context.Context, loc model.Location) (model.Reading, error) {
	s.mu.RLock()
	r, ok := s.latest[loc.Key()]
	s.mu.RUnlock()
	if !ok {
		return model.Reading{}, fmt.Errorf("no observation for %s yet", loc.Key())
	}
	return r, nil
}
