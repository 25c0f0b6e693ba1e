package enrich

import (
	"context"
	"fmt"
)

// GeoBounds is the inclusive rectangle in which delivery points are plausible.
type GeoBounds struct {
	LatMin float64 `json:"lat_min" validate:"gte=-90,lte=90"`
	LatMax float64 `json:"lat_max" validate:"gte=-90,lte=90,gtefield=LatMin"`
	LonMin float64 `json:"lon_min" validate:"gte=-180,lte=180"`
	LonMax float64 `json:"lon_max" validate:"gte=-180,lte=180,gtefield=LonMin"`
}

// WorldBounds accepts any valid coordinate.
var WorldBounds = GeoBounds{LatMin: -90, LatMax: 90, LonMin: -180, LonMax: 180}

func (b GeoBounds) Contains(lat, lon float64) bool {
	return isFinite(lat) && isFinite(lon) &&
		lat >= b.LatMin && lat <= b.LatMax &&
		lon >= b.LonMin && lon <= b.LonMax
}

// ErrOutOfBounds marks a weather key rejected before any network call.
var ErrOutOfBounds = fmt.Errorf("%w: coordinates outside configured bounds", ErrNoData)

// WeatherFetcher resolves a (location, day) key with one source query.
type WeatherFetcher struct {
	source WeatherSource
	bounds GeoBounds
}

func NewWeatherFetcher(source WeatherSource, bounds GeoBounds) *WeatherFetcher {
	return &WeatherFetcher{source: source, bounds: bounds}
}

func (f *WeatherFetcher) SourceName() string { return f.source.Name() }

// Fetch implements FetchFunc[WeatherKey, WeatherAggregate].
func (f *WeatherFetcher) Fetch(ctx context.Context, key WeatherKey) Result[WeatherAggregate] {
	lat, lon := key.Lat(), key.Lon()
	if !f.bounds.Contains(lat, lon) {
		return Failed[WeatherAggregate](NotAvailable, fmt.Errorf("%s: %w", key, ErrOutOfBounds))
	}
	agg, err := f.source.Daily(ctx, lat, lon, key.Date)
	if err != nil {
		return failureFor[WeatherAggregate](err)
	}
	if !isFinite(agg.MeanTemp) || !isFinite(agg.PrecipitationSum) {
		return Failed[WeatherAggregate](SourceError, fmt.Errorf("%s: non-finite aggregate from %s", key, f.source.Name()))
	}
	return Resolved(agg)
}
