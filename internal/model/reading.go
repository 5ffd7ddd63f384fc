package model

import (
	"fmt"
	"time"
)

// Location is the covered place a policy monitors.
type Location struct {
	Label     string  `json:"label"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Key returns a canonical string key for indexing this location.
func (l Location) Key() string {
	if l.Label != "" {
		return l.Label
	}
	return fmt.Sprintf("%.4f:%.4f", l.Latitude, l.Longitude)
}

// Reading is one rainfall observation from a single source. Rainfall is
// integer millimeters so aggregation stays exact and reproducible.
type Reading struct {
	Source     string    `json:"source"`
	RainMM     int64     `json:"rain_mm"`
	ObservedAt time.Time `json:"observed_at"`
}
