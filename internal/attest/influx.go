package attest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxSink records lifecycle events as time-series points so the audit
// trail can be queried alongside operational dashboards.
type InfluxSink struct {
	writeAPI    api.WriteAPIBlocking
	measurement string
}

type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("attest: influx config incomplete")
	}
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "policy_lifecycle"
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
	}, nil
}

func (s *InfluxSink) Notify(ctx context.Context, kind Kind, payload any) (Ref, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("attest: marshal %s payload: %w", kind, err)
	}
	ref := Ref(uuid.New().String())

	tags := map[string]string{"kind": string(kind)}
	fields := map[string]interface{}{
		"ref":     string(ref),
		"payload": string(b),
	}
	point := influxdb2.NewPoint(s.measurement, tags, fields, time.Now())
	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return "", fmt.Errorf("attest: influx write %s: %w", kind, err)
	}
	return ref, nil
}
