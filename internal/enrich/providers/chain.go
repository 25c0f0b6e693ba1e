package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
	"github.com/rs/zerolog/log"
)

// WeatherChain tries weather sources in order and returns the first answer.
type WeatherChain struct {
	sources []enrich.WeatherSource
}

func NewWeatherChain(sources ...enrich.WeatherSource) *WeatherChain {
	return &WeatherChain{sources: sources}
}

func (c *WeatherChain) Name() string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Daily returns ErrNoData only when every source reported no data; otherwise
// the last transport error wins.
func (c *WeatherChain) Daily(ctx context.Context, lat, lon float64, day enrich.Date) (enrich.WeatherAggregate, error) {
	if len(c.sources) == 0 {
		return enrich.WeatherAggregate{}, errors.New("weather chain has no sources")
	}

	var lastErr error
	allNoData := true
	for _, s := range c.sources {
		agg, err := s.Daily(ctx, lat, lon, day)
		if err == nil {
			return agg, nil
		}
		if ctx.Err() != nil {
			return enrich.WeatherAggregate{}, ctx.Err()
		}
		log.Debug().Err(err).Str("source", s.Name()).Str("day", day.String()).Msg("weather source failed; trying next")
		if !errors.Is(err, enrich.ErrNoData) {
			allNoData = false
			lastErr = err
		}
	}
	if allNoData {
		return enrich.WeatherAggregate{}, fmt.Errorf("%s: %w", c.Name(), enrich.ErrNoData)
	}
	return enrich.WeatherAggregate{}, lastErr
}
