// Package weather turns independent rainfall sources into one aggregated
// signal and a drought verdict.
package weather

import (
	"context"
	"errors"

	"github.com/agroshield/droughtcover/internal/model"
)

// ErrUnavailable means a source could not produce a usable reading. The
// caller defers the evaluation; an unavailable reading is never assumed
// to be zero rainfall.
var ErrUnavailable = errors.New("weather: reading unavailable")

// Source abstracts one independent rainfall data source.
type Source interface {
	Name() string
	Fetch(ctx context.Context, loc model.Location) (model.Reading, error)
}
