package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
)

func testHTTPConfig(srv *httptest.Server) HTTPClientConfig {
	return HTTPClientConfig{
		Client: srv.Client(),
		Backoff: BackoffConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *memCache) Set(ctx context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = body
	return nil
}

func (m *memCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func TestOpenMeteo_ParsesDailyAggregate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "-23.55", q.Get("latitude"))
		assert.Equal(t, "-46.63", q.Get("longitude"))
		assert.Equal(t, "2024-01-08", q.Get("start_date"))
		assert.Equal(t, "2024-01-08", q.Get("end_date"))
		assert.Equal(t, "America/Sao_Paulo", q.Get("timezone"))
		fmt.Fprint(w, `{"daily":{"time":["2024-01-08"],"temperature_2m_mean":[22.4],"precipitation_sum":[5.1]}}`)
	}))
	defer srv.Close()

	src := NewOpenMeteoSource(testHTTPConfig(srv), srv.URL, "America/Sao_Paulo")
	agg, err := src.Daily(context.Background(), -23.55, -46.63, enrich.MustDate("2024-01-08"))

	require.NoError(t, err)
	assert.Equal(t, enrich.WeatherAggregate{MeanTemp: 22.4, PrecipitationSum: 5.1}, agg)
}

func TestOpenMeteo_NoDataCases(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "null values", status: http.StatusOK, body: `{"daily":{"time":["2024-01-08"],"temperature_2m_mean":[null],"precipitation_sum":[null]}}`},
		{name: "out of range date", status: http.StatusBadRequest, body: `{"error":true,"reason":"Parameter 'start_date' is out of allowed range"}`},
		{name: "missing day", status: http.StatusOK, body: `{"daily":{"time":[],"temperature_2m_mean":[],"precipitation_sum":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewOpenMeteoSource(testHTTPConfig(srv), srv.URL, "").
				Daily(context.Background(), -23.55, -46.63, enrich.MustDate("2024-01-08"))

			assert.ErrorIs(t, err, enrich.ErrNoData)
		})
	}
}

func TestOpenMeteo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"daily":{"time":["2024-01-08"],"temperature_2m_mean":[20],"precipitation_sum":[0]}}`)
	}))
	defer srv.Close()

	agg, err := NewOpenMeteoSource(testHTTPConfig(srv), srv.URL, "").
		Daily(context.Background(), -23.55, -46.63, enrich.MustDate("2024-01-08"))

	require.NoError(t, err)
	assert.Equal(t, 20.0, agg.MeanTemp)
	assert.Equal(t, int64(3), calls.Load())
}

func TestOpenMeteo_PersistentServerErrorIsNotNoData(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewOpenMeteoSource(testHTTPConfig(srv), srv.URL, "").
		Daily(context.Background(), -23.55, -46.63, enrich.MustDate("2024-01-08"))

	require.Error(t, err)
	assert.NotErrorIs(t, err, enrich.ErrNoData)
	assert.ErrorIs(t, err, errServerError)
	assert.Equal(t, int64(3), calls.Load())
}

func TestFetchBody_UsesResponseCache(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"daily":{"time":["2024-01-08"],"temperature_2m_mean":[20],"precipitation_sum":[1]}}`)
	}))
	defer srv.Close()

	cfg := testHTTPConfig(srv)
	cfg.Cache = &memCache{data: make(map[string][]byte)}
	src := NewOpenMeteoSource(cfg, srv.URL, "")

	for i := 0; i < 3; i++ {
		_, err := src.Daily(context.Background(), -23.55, -46.63, enrich.MustDate("2024-01-08"))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), calls.Load())
}

func TestFetchBody_DoesNotCacheNullAggregates(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			fmt.Fprint(w, `{"daily":{"time":["2024-01-08"],"temperature_2m_mean":[null],"precipitation_sum":[null]}}`)
			return
		}
		fmt.Fprint(w, `{"daily":{"time":["2024-01-08"],"temperature_2m_mean":[22.4],"precipitation_sum":[5.1]}}`)
	}))
	defer srv.Close()

	cache := &memCache{data: make(map[string][]byte)}
	cfg := testHTTPConfig(srv)
	cfg.Cache = cache
	src := NewOpenMeteoSource(cfg, srv.URL, "")
	day := enrich.MustDate("2024-01-08")

	_, err := src.Daily(context.Background(), -23.55, -46.63, day)
	require.ErrorIs(t, err, enrich.ErrNoData)
	assert.Zero(t, cache.Len())

	agg, err := src.Daily(context.Background(), -23.55, -46.63, day)
	require.NoError(t, err)
	assert.Equal(t, enrich.WeatherAggregate{MeanTemp: 22.4, PrecipitationSum: 5.1}, agg)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestFetchBody_DoesNotCacheRecentDays(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"daily":{"time":["2024-01-08"],"temperature_2m_mean":[20],"precipitation_sum":[1]}}`)
	}))
	defer srv.Close()

	cache := &memCache{data: make(map[string][]byte)}
	cfg := testHTTPConfig(srv)
	cfg.Cache = cache
	cfg.Now = func() time.Time { return time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC) }
	src := NewOpenMeteoSource(cfg, srv.URL, "")

	for i := 0; i < 2; i++ {
		_, err := src.Daily(context.Background(), -23.55, -46.63, enrich.MustDate("2024-01-08"))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), calls.Load())
	assert.Zero(t, cache.Len())
}

func TestYahoo_DoesNotCacheRangeReachingToday(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, yahooBody)
	}))
	defer srv.Close()

	cache := &memCache{data: make(map[string][]byte)}
	cfg := testHTTPConfig(srv)
	cfg.Cache = cache
	cfg.Now = func() time.Time { return time.Date(2024, 1, 5, 15, 0, 0, 0, time.UTC) }
	src := NewYahooChartSource(cfg, srv.URL, "^GSPC")

	_, err := src.Closes(context.Background(), enrich.MustDate("2024-01-03"), enrich.MustDate("2024-01-05"))
	require.NoError(t, err)
	assert.Zero(t, cache.Len())

	// A week later the same range is final.
	cfg.Now = func() time.Time { return time.Date(2024, 1, 13, 15, 0, 0, 0, time.UTC) }
	src = NewYahooChartSource(cfg, srv.URL, "^GSPC")
	for i := 0; i < 2; i++ {
		_, err = src.Closes(context.Background(), enrich.MustDate("2024-01-03"), enrich.MustDate("2024-01-05"))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://api.weatherapi.com/v1/history.json?dt=2024-01-08&key=s3cret&q=-23.55%2C-46.63")
	assert.NotContains(t, got, "s3cret")
	assert.Contains(t, got, "key=REDACTED")
	assert.Contains(t, got, "dt=2024-01-08")

	plain := "https://archive-api.open-meteo.com/v1/archive?latitude=-23.55"
	assert.Equal(t, plain, redactURL(plain))
}

func TestFetchBody_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewOpenMeteoSource(testHTTPConfig(srv), srv.URL, "").
		Daily(ctx, -23.55, -46.63, enrich.MustDate("2024-01-08"))

	require.Error(t, err)
	assert.NotErrorIs(t, err, enrich.ErrNoData)
}

const yahooBody = `{"chart":{"result":[{"meta":{"exchangeTimezoneName":"America/New_York"},
"timestamp":[1704292200,1704378600,1704465000],
"indicators":{"quote":[{"close":[4704.81,4688.68,null]}]}}],"error":null}}`

func TestYahoo_ParsesSeriesInExchangeZone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/^GSPC", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		fmt.Fprint(w, yahooBody)
	}))
	defer srv.Close()

	src := NewYahooChartSource(testHTTPConfig(srv), srv.URL, "^GSPC")
	quotes, err := src.Closes(context.Background(), enrich.MustDate("2024-01-03"), enrich.MustDate("2024-01-05"))

	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "America/New_York", quotes[0].Time.Location().String())
	assert.Equal(t, enrich.MustDate("2024-01-03"), enrich.DateIn(quotes[0].Time, quotes[0].Time.Location()))
	assert.Equal(t, 4688.68, quotes[1].Close)
}

func TestYahoo_NoDataResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`},
		{name: "range before history", status: http.StatusBadRequest, body: `{"chart":{"result":null,"error":{"code":"Bad Request","description":"Data doesn't exist for startDate = 1, endDate = 2"}}}`},
		{name: "all closes null", status: http.StatusOK, body: `{"chart":{"result":[{"meta":{},"timestamp":[1704465000],"indicators":{"quote":[{"close":[null]}]}}],"error":null}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewYahooChartSource(testHTTPConfig(srv), srv.URL, "^GSPC").
				Closes(context.Background(), enrich.MustDate("2024-01-06"), enrich.MustDate("2024-01-07"))

			assert.ErrorIs(t, err, enrich.ErrNoData)
		})
	}
}

func TestYahoo_MalformedBodyIsSourceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>`)
	}))
	defer srv.Close()

	_, err := NewYahooChartSource(testHTTPConfig(srv), srv.URL, "^GSPC").
		Closes(context.Background(), enrich.MustDate("2024-01-06"), enrich.MustDate("2024-01-07"))

	require.Error(t, err)
	assert.NotErrorIs(t, err, enrich.ErrNoData)
}

func TestWeatherAPI_HistoryDay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.Equal(t, "-23.55,-46.63", r.URL.Query().Get("q"))
		assert.Equal(t, "2024-01-08", r.URL.Query().Get("dt"))
		fmt.Fprint(w, `{"forecast":{"forecastday":[{"date":"2024-01-08","day":{"avgtemp_c":23.1,"totalprecip_mm":2.5}}]}}`)
	}))
	defer srv.Close()

	agg, err := NewWeatherAPISource(testHTTPConfig(srv), srv.URL, "k").
		Daily(context.Background(), -23.55, -46.63, enrich.MustDate("2024-01-08"))

	require.NoError(t, err)
	assert.Equal(t, enrich.WeatherAggregate{MeanTemp: 23.1, PrecipitationSum: 2.5}, agg)
}

func TestWeatherAPI_UnknownLocationIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":1006,"message":"No matching location found."}}`)
	}))
	defer srv.Close()

	_, err := NewWeatherAPISource(testHTTPConfig(srv), srv.URL, "k").
		Daily(context.Background(), 0, 0, enrich.MustDate("2024-01-08"))

	assert.ErrorIs(t, err, enrich.ErrNoData)
}

type stubWeather struct {
	name  string
	agg   enrich.WeatherAggregate
	err   error
	calls int
}

func (s *stubWeather) Name() string { return s.name }

func (s *stubWeather) Daily(ctx context.Context, lat, lon float64, day enrich.Date) (enrich.WeatherAggregate, error) {
	s.calls++
	return s.agg, s.err
}

func TestWeatherChain(t *testing.T) {
	day := enrich.MustDate("2024-01-08")
	transport := errors.New("connection refused")

	t.Run("falls through to second source", func(t *testing.T) {
		first := &stubWeather{name: "a", err: fmt.Errorf("a: %w", enrich.ErrNoData)}
		second := &stubWeather{name: "b", agg: enrich.WeatherAggregate{MeanTemp: 19}}
		agg, err := NewWeatherChain(first, second).Daily(context.Background(), 1, 2, day)

		require.NoError(t, err)
		assert.Equal(t, 19.0, agg.MeanTemp)
		assert.Equal(t, 1, first.calls)
	})

	t.Run("stops at first success", func(t *testing.T) {
		first := &stubWeather{name: "a", agg: enrich.WeatherAggregate{MeanTemp: 18}}
		second := &stubWeather{name: "b"}
		_, err := NewWeatherChain(first, second).Daily(context.Background(), 1, 2, day)

		require.NoError(t, err)
		assert.Zero(t, second.calls)
	})

	t.Run("all no data", func(t *testing.T) {
		chain := NewWeatherChain(&stubWeather{name: "a", err: enrich.ErrNoData}, &stubWeather{name: "b", err: enrich.ErrNoData})
		_, err := chain.Daily(context.Background(), 1, 2, day)

		assert.ErrorIs(t, err, enrich.ErrNoData)
		assert.Equal(t, "chain(a,b)", chain.Name())
	})

	t.Run("transport error wins over no data", func(t *testing.T) {
		chain := NewWeatherChain(&stubWeather{name: "a", err: transport}, &stubWeather{name: "b", err: enrich.ErrNoData})
		_, err := chain.Daily(context.Background(), 1, 2, day)

		assert.ErrorIs(t, err, transport)
		assert.NotErrorIs(t, err, enrich.ErrNoData)
	})
}
