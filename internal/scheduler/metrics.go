package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "droughtcover_scheduler_cycles_total",
		Help: "Completed scheduler cycles, partial failures included.",
	})
	entriesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "droughtcover_scheduler_entries_processed_total",
		Help: "Batch entries fully processed.",
	})
	entriesDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "droughtcover_scheduler_entries_deferred_total",
		Help: "Batch entries deferred on unavailable weather data.",
	})
	entriesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "droughtcover_scheduler_entries_failed_total",
		Help: "Batch entries skipped on error; they stay due.",
	})
	budgetUsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "droughtcover_scheduler_budget_units_total",
		Help: "Work budget units consumed across cycles.",
	})
	activePolicies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "droughtcover_scheduler_active_policies",
		Help: "Policies currently admitted to the due-set.",
	})
)
