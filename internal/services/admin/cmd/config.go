package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/agroshield/droughtcover/internal/model"
	"github.com/agroshield/droughtcover/internal/pricing"
)

type config struct {
	HTTPAddr    string        `env:"HTTP_ADDR" envDefault:":8080"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`

	MQTTHost     string `env:"MQTT_HOST"`
	MQTTPort     int    `env:"MQTT_PORT" envDefault:"1883"`
	MQTTUser     string `env:"MQTT_USER"`
	MQTTPassword string `env:"MQTT_PASSWORD"`
	MQTTClientID string `env:"MQTT_CLIENT_ID" envDefault:"droughtcover-admin"`
	StationTopic string `env:"STATION_TOPIC" envDefault:"stations/+/rainfall"`

	InfluxURL    string `env:"INFLUX_URL"`
	InfluxToken  string `env:"INFLUX_TOKEN"`
	InfluxOrg    string `env:"INFLUX_ORG"`
	InfluxBucket string `env:"INFLUX_BUCKET"`

	GracePeriod      time.Duration `env:"GRACE_PERIOD" envDefault:"24h"`
	EvalInterval     time.Duration `env:"EVAL_INTERVAL" envDefault:"24h"`
	DroughtThreshold int           `env:"DROUGHT_THRESHOLD" envDefault:"3"`
	RateMaxAge       time.Duration `env:"RATE_MAX_AGE" envDefault:"5m"`

	CycleInterval      time.Duration `env:"CYCLE_INTERVAL" envDefault:"1h"`
	MaxBatchSize       int           `env:"MAX_BATCH" envDefault:"10"`
	CycleBudget        int           `env:"CYCLE_BUDGET" envDefault:"30"`
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	FreshnessTolerance time.Duration `env:"FRESHNESS_TOLERANCE" envDefault:"1h"`

	WeatherBaseURL string `env:"WEATHER_BASE_URL"`
	WeatherAPIKey  string `env:"WEATHER_API_KEY"`
	StationSource  string `env:"STATION_SOURCE" envDefault:"station"`

	RateBaseURL string `env:"RATE_BASE_URL"`
	// Rates is the static fallback when no oracle endpoint is configured,
	// e.g. "USD:EUR=0.8,USD:GBP=0.75".
	Rates string `env:"RATES"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("admin: parse env: %w", err)
	}
	return cfg, nil
}

func (c config) staticOracle() (*pricing.Static, error) {
	oracle := pricing.NewStatic()
	if c.Rates == "" {
		return oracle, nil
	}
	for _, entry := range strings.Split(c.Rates, ",") {
		pair, raw, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, fmt.Errorf("admin: malformed rate entry %q", entry)
		}
		base, quote, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("admin: malformed rate pair %q", pair)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("admin: rate %q: %w", entry, err)
		}
		oracle.Set(model.Currency(base), model.Currency(quote), rate)
	}
	return oracle, nil
}
