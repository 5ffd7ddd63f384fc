// Package app is the administrative HTTP surface: policy intake,
// scheduler control and the operational endpoints.
package app

import (
	"log"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agroshield/droughtcover/internal/policy"
	"github.com/agroshield/droughtcover/internal/scheduler"
)

type Config struct {
	Addr        string
	HTTPTimeout time.Duration
	Logger      *log.Logger
}

type App struct {
	cfg    Config
	engine *policy.Engine
	sched  *scheduler.Scheduler
	mqtt   mqtt.Client // optional, health only
}

func New(cfg Config, engine *policy.Engine, sched *scheduler.Scheduler, mqttClient mqtt.Client) *App {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &App{cfg: cfg, engine: engine, sched: sched, mqtt: mqttClient}
}

func (a *App) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /policies", a.handleCreatePolicy)
	mux.HandleFunc("GET /policies/{id}", a.handleGetPolicy)
	mux.HandleFunc("POST /policies/{id}/premium", a.handlePayPremium)
	mux.HandleFunc("POST /policies/{id}/cancel", a.handleCancelLapsed)

	mux.HandleFunc("POST /scheduler/enable", a.handleEnable)
	mux.HandleFunc("POST /scheduler/disable", a.handleDisable)
	mux.HandleFunc("PUT /scheduler/interval", a.handleSetInterval)
	mux.HandleFunc("POST /scheduler/force-evaluate", a.handleForceEvaluate)
	mux.HandleFunc("GET /scheduler/active", a.handleActivePage)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /readyz", a.handleReady)
	return mux
}

// Serve blocks until the server errors out.
func (a *App) Serve() error {
	srv := &http.Server{
		Addr:         a.cfg.Addr,
		Handler:      a.Routes(),
		ReadTimeout:  a.cfg.HTTPTimeout,
		WriteTimeout: a.cfg.HTTPTimeout,
	}
	a.cfg.Logger.Printf("admin: listening on %s", a.cfg.Addr)
	return srv.ListenAndServe()
}
