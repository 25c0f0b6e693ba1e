package enrich

import (
	"context"
	"errors"
)

// ErrNoData is returned by sources when the key is valid but the source has
// nothing for it (non-trading day, date outside coverage, null aggregates).
var ErrNoData = errors.New("no data for key")

// MarketSource abstracts a daily market index series (e.g. Yahoo Finance ^GSPC).
// Closes returns every close in the inclusive day range [from, to]; days
// without a close are simply absent.
type MarketSource interface {
	Name() string
	Closes(ctx context.Context, from, to Date) ([]Quote, error)
}

// WeatherSource abstracts a historical daily weather source (e.g. Open-Meteo archive).
type WeatherSource interface {
	Name() string
	Daily(ctx context.Context, lat, lon float64, day Date) (WeatherAggregate, error)
}
