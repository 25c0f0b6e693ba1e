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

// WeatherAPIHistoryURL is WeatherAPI.com's historical endpoint.
const WeatherAPIHistoryURL = "https://api.weatherapi.com/v1/history.json"

// WeatherAPI error codes meaning the request is valid but not covered.
var weatherAPINoDataCodes = map[int]bool{
	1006: true, // no location found
	1008: true, // date outside plan history
}

// WeatherAPISource implements enrich.WeatherSource on WeatherAPI.com history.
type WeatherAPISource struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPISource(cfg HTTPClientConfig, baseURL, apiKey string) *WeatherAPISource {
	if baseURL == "" {
		baseURL = WeatherAPIHistoryURL
	}
	return &WeatherAPISource{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: baseURL,
		httpCfg: cfg,
		circuit: newCircuitBreaker("weatherapi"),
	}
}

func (p *WeatherAPISource) Name() string {
	return p.name
}

type weatherAPIError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *WeatherAPISource) Daily(ctx context.Context, lat, lon float64, day enrich.Date) (enrich.WeatherAggregate, error) {
	if p.apiKey == "" {
		return enrich.WeatherAggregate{}, fmt.Errorf("weatherapi api key is not configured")
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		// "q" accepts "lat,lon".
		values.Set("q", strconv.FormatFloat(lat, 'f', -1, 64)+","+strconv.FormatFloat(lon, 'f', -1, 64))
		values.Set("dt", day.String())

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := fetchBody(ctx, p.httpCfg, p.circuit, p.httpCfg.settled(day), buildRequest)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusBadRequest {
			var apiErr weatherAPIError
			if json.Unmarshal([]byte(se.Body), &apiErr) == nil && weatherAPINoDataCodes[apiErr.Error.Code] {
				return enrich.WeatherAggregate{}, fmt.Errorf("weatherapi: %w: %s", enrich.ErrNoData, apiErr.Error.Message)
			}
		}
		return enrich.WeatherAggregate{}, fmt.Errorf("weatherapi: %w", err)
	}

	var payload struct {
		Forecast struct {
			ForecastDay []struct {
				Date string `json:"date"`
				Day  struct {
					AvgTempC      *float64 `json:"avgtemp_c"`
					TotalPrecipMm *float64 `json:"totalprecip_mm"`
				} `json:"day"`
			} `json:"forecastday"`
		} `json:"forecast"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return enrich.WeatherAggregate{}, fmt.Errorf("weatherapi: decode: %w", err)
	}

	for _, fd := range payload.Forecast.ForecastDay {
		if fd.Date != day.String() {
			continue
		}
		if fd.Day.AvgTempC == nil || fd.Day.TotalPrecipMm == nil {
			break
		}
		p.httpCfg.keep(ctx, resp)
		return enrich.WeatherAggregate{
			MeanTemp:         *fd.Day.AvgTempC,
			PrecipitationSum: *fd.Day.TotalPrecipMm,
		}, nil
	}
	return enrich.WeatherAggregate{}, fmt.Errorf("weatherapi: %w: %s", enrich.ErrNoData, day)
}
