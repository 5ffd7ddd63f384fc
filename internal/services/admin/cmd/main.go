package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/agroshield/droughtcover/internal/attest"
	"github.com/agroshield/droughtcover/internal/ledger"
	"github.com/agroshield/droughtcover/internal/policy"
	"github.com/agroshield/droughtcover/internal/pricing"
	"github.com/agroshield/droughtcover/internal/scheduler"
	"github.com/agroshield/droughtcover/internal/services/admin/app"
	"github.com/agroshield/droughtcover/internal/weather"
	"github.com/agroshield/droughtcover/pkg/mqttbus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("admin: %v", err)
	}

	var mqttClient mqtt.Client
	if cfg.MQTTHost != "" {
		mqttClient, err = mqttbus.Connect(ctx, mqttbus.Config{
			Host:     cfg.MQTTHost,
			Port:     cfg.MQTTPort,
			User:     cfg.MQTTUser,
			Password: cfg.MQTTPassword,
			ClientID: cfg.MQTTClientID,
		})
		if err != nil {
			log.Fatalf("admin: %v", err)
		}
	}

	var sinks []attest.Sink
	if mqttClient != nil {
		sinks = append(sinks, attest.NewMQTTSink(mqttbus.NewPublisher(mqttClient)))
	}
	if cfg.InfluxURL != "" {
		influx, err := attest.NewInfluxSink(attest.InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		if err != nil {
			log.Fatalf("admin: %v", err)
		}
		sinks = append(sinks, influx)
	}
	var sink attest.Sink = attest.Noop{}
	if len(sinks) > 0 {
		sink = attest.Multi(sinks)
	}

	var sources []weather.Source
	if cfg.WeatherBaseURL != "" {
		sources = append(sources, weather.NewHTTPSource("forecast", cfg.WeatherBaseURL, cfg.WeatherAPIKey, cfg.HTTPTimeout))
	}
	var station *weather.MQTTSource
	if mqttClient != nil {
		station = weather.NewMQTTSource(cfg.StationSource)
		sources = append(sources, station)
	}
	if len(sources) == 0 {
		log.Fatal("admin: no weather source configured")
	}
	agg := weather.NewAggregator(sources, cfg.FreshnessTolerance)

	var oracle pricing.Oracle
	if cfg.RateBaseURL != "" {
		oracle = pricing.NewHTTPOracle(cfg.RateBaseURL, cfg.RateMaxAge, cfg.HTTPTimeout)
	} else {
		static, err := cfg.staticOracle()
		if err != nil {
			log.Fatalf("admin: %v", err)
		}
		oracle = static
	}

	eng := policy.NewEngine(ledger.New(), oracle, agg, sink, policy.Config{
		GracePeriod:      cfg.GracePeriod,
		EvalInterval:     cfg.EvalInterval,
		DroughtThreshold: cfg.DroughtThreshold,
		RateMaxAge:       cfg.RateMaxAge,
	})
	sched := scheduler.New(eng, sink, scheduler.Config{
		CycleInterval: cfg.CycleInterval,
		MaxBatchSize:  cfg.MaxBatchSize,
		CycleBudget:   cfg.CycleBudget,
		PollInterval:  cfg.PollInterval,
	})
	eng.SetAdmission(sched)

	if station != nil {
		sub := mqttbus.NewSubscriber(mqttClient, cfg.StationTopic, 1, station.Handle)
		go sub.Listen(ctx)
	}
	go sched.Run(ctx)

	a := app.New(app.Config{Addr: cfg.HTTPAddr, HTTPTimeout: cfg.HTTPTimeout}, eng, sched, mqttClient)
	go func() {
		if err := a.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("admin: server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("admin: shutting down")
}
