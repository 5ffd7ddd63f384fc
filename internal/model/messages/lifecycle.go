// Package messages holds the wire payloads published to the attestation
// sink and consumed from the weather feed.
package messages

import "time"

// PolicyLifecycleEvent mirrors a lifecycle transition.
type PolicyLifecycleEvent struct {
	PolicyID     string    `json:"policy_id"`
	State        string    `json:"state"`
	Operator     string    `json:"operator"`
	Counterparty string    `json:"counterparty"`
	Detail       string    `json:"detail,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// EvaluationEvent records one drought evaluation.
type EvaluationEvent struct {
	PolicyID    string    `json:"policy_id"`
	AggregateMM int64     `json:"aggregate_mm"`
	DryStreak   int       `json:"dry_streak"`
	EvalCount   int       `json:"eval_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// CycleSummaryEvent records one scheduler wake-up.
type CycleSummaryEvent struct {
	Selected   int       `json:"selected"`
	Processed  int       `json:"processed"`
	Deferred   int       `json:"deferred"`
	Failed     int       `json:"failed"`
	Expired    int       `json:"expired"`
	BudgetUsed int       `json:"budget_used"`
	Timestamp  time.Time `json:"timestamp"`
}

// WeatherObservation is the raw reading published by an external station
// onto the weather topic.
type WeatherObservation struct {
	Source      string    `json:"source"`
	LocationKey string    `json:"location_key"`
	RainMM      int64     `json:"rain_mm"`
	ObservedAt  time.Time `json:"observed_at"`
}
