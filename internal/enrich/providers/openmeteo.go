package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
	"github.com/sony/gobreaker"
)

// OpenMeteoArchiveURL is the historical daily weather endpoint.
const OpenMeteoArchiveURL = "https://archive-api.open-meteo.com/v1/archive"

// OpenMeteoSource implements enrich.WeatherSource on the Open-Meteo archive API.
type OpenMeteoSource struct {
	name     string
	baseURL  string
	timezone string
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
}

// NewOpenMeteoSource builds the source. timezone names the zone in which
// Open-Meteo computes daily aggregates (e.g. America/Sao_Paulo).
func NewOpenMeteoSource(cfg HTTPClientConfig, baseURL, timezone string) *OpenMeteoSource {
	if baseURL == "" {
		baseURL = OpenMeteoArchiveURL
	}
	if timezone == "" {
		timezone = "UTC"
	}
	return &OpenMeteoSource{
		name:     "openmeteo",
		baseURL:  baseURL,
		timezone: timezone,
		httpCfg:  cfg,
		circuit:  newCircuitBreaker("openmeteo"),
	}
}

func (p *OpenMeteoSource) Name() string {
	return p.name
}

type openMeteoDaily struct {
	Daily *struct {
		Time             []string   `json:"time"`
		TemperatureMean  []*float64 `json:"temperature_2m_mean"`
		PrecipitationSum []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

func (p *OpenMeteoSource) Daily(ctx context.Context, lat, lon float64, day enrich.Date) (enrich.WeatherAggregate, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
		values.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
		values.Set("start_date", day.String())
		values.Set("end_date", day.String())
		values.Set("daily", "temperature_2m_mean,precipitation_sum")
		values.Set("timezone", p.timezone)

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := fetchBody(ctx, p.httpCfg, p.circuit, p.httpCfg.settled(day), buildRequest)
	if err != nil {
		// Open-Meteo answers 400 for dates or points it does not cover.
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusBadRequest {
			return enrich.WeatherAggregate{}, fmt.Errorf("openmeteo: %w: %s", enrich.ErrNoData, se.Body)
		}
		return enrich.WeatherAggregate{}, fmt.Errorf("openmeteo: %w", err)
	}

	var payload openMeteoDaily
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return enrich.WeatherAggregate{}, fmt.Errorf("openmeteo: decode: %w", err)
	}
	if payload.Error {
		return enrich.WeatherAggregate{}, fmt.Errorf("openmeteo: %w: %s", enrich.ErrNoData, payload.Reason)
	}
	if payload.Daily == nil {
		return enrich.WeatherAggregate{}, fmt.Errorf("openmeteo: %w: no daily block", enrich.ErrNoData)
	}

	d := payload.Daily
	for i, t := range d.Time {
		if t != day.String() {
			continue
		}
		if i >= len(d.TemperatureMean) || i >= len(d.PrecipitationSum) ||
			d.TemperatureMean[i] == nil || d.PrecipitationSum[i] == nil {
			return enrich.WeatherAggregate{}, fmt.Errorf("openmeteo: %w: null aggregate for %s", enrich.ErrNoData, day)
		}
		p.httpCfg.keep(ctx, resp)
		return enrich.WeatherAggregate{
			MeanTemp:         *d.TemperatureMean[i],
			PrecipitationSum: *d.PrecipitationSum[i],
		}, nil
	}
	return enrich.WeatherAggregate{}, fmt.Errorf("openmeteo: %w: %s missing from response", enrich.ErrNoData, day)
}
