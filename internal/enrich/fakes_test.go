package enrich

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type fakeMarket struct {
	closes map[Date]float64
	loc    *time.Location
	err    error
	delay  time.Duration
	calls  atomic.Int64
}

func newFakeMarket(closes map[string]float64) *fakeMarket {
	m := &fakeMarket{closes: make(map[Date]float64), loc: time.UTC}
	for d, v := range closes {
		m.closes[MustDate(d)] = v
	}
	return m
}

func (m *fakeMarket) Name() string { return "fake-market" }

func (m *fakeMarket) Closes(ctx context.Context, from, to Date) ([]Quote, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	var out []Quote
	for d := from; !d.After(to); d = d.AddDays(1) {
		if v, ok := m.closes[d]; ok {
			// 16:00 exchange time, expressed as an instant.
			t := time.Date(d.Year, d.Month, d.Day, 16, 0, 0, 0, m.loc)
			out = append(out, Quote{Time: t, Close: v})
		}
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

type fakeWeather struct {
	mu    sync.Mutex
	data  map[WeatherKey]WeatherAggregate
	err   error
	delay time.Duration
	calls atomic.Int64
	seen  []string
}

func newFakeWeather() *fakeWeather {
	return &fakeWeather{data: make(map[WeatherKey]WeatherAggregate)}
}

func (w *fakeWeather) set(lat, lon float64, day string, agg WeatherAggregate) {
	w.data[NewWeatherKey(lat, lon, 2, MustDate(day))] = agg
}

func (w *fakeWeather) Name() string { return "fake-weather" }

func (w *fakeWeather) Daily(ctx context.Context, lat, lon float64, day Date) (WeatherAggregate, error) {
	w.calls.Add(1)
	w.mu.Lock()
	w.seen = append(w.seen, NewWeatherKey(lat, lon, 2, day).String())
	w.mu.Unlock()
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return WeatherAggregate{}, ctx.Err()
		}
	}
	if w.err != nil {
		return WeatherAggregate{}, w.err
	}
	agg, ok := w.data[NewWeatherKey(lat, lon, 2, day)]
	if !ok {
		return WeatherAggregate{}, ErrNoData
	}
	return agg, nil
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func f64(v float64) *float64 { return &v }
