package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultLookbackDays bounds the trading-day fallback.
const DefaultLookbackDays = 90

var errNoTradingDay = fmt.Errorf("%w: no close within look-back window", ErrNoData)

type lookupState uint8

const (
	lookupRequested lookupState = iota
	lookupResolved
	lookupFailed
)

// MarketFetcher resolves a purchase day to an index close. When the day has
// no close it steps back one day at a time, up to lookback days, and tags the
// value with the day actually used.
type MarketFetcher struct {
	source   MarketSource
	lookback int
	exchange *time.Location
}

// NewMarketFetcher builds a fetcher. exchange is the zone in which source
// timestamps are turned into trading days; nil means UTC.
func NewMarketFetcher(source MarketSource, lookbackDays int, exchange *time.Location) *MarketFetcher {
	if lookbackDays < 0 {
		lookbackDays = DefaultLookbackDays
	}
	if exchange == nil {
		exchange = time.UTC
	}
	return &MarketFetcher{source: source, lookback: lookbackDays, exchange: exchange}
}

func (f *MarketFetcher) SourceName() string { return f.source.Name() }

// Fetch implements FetchFunc[MarketKey, MarketValue].
func (f *MarketFetcher) Fetch(ctx context.Context, key MarketKey) Result[MarketValue] {
	from := key.Date.AddDays(-f.lookback)
	quotes, err := f.source.Closes(ctx, from, key.Date)
	if err != nil {
		return failureFor[MarketValue](err)
	}
	series, err := normalizeSeries(quotes, f.exchange, from, key.Date)
	if err != nil {
		return Failed[MarketValue](SourceError, err)
	}

	state, day, step := lookupRequested, key.Date, 0
	var value MarketValue
	for state == lookupRequested {
		switch v, ok := series[day]; {
		case ok:
			value = MarketValue{Close: v, DateUsed: day}
			state = lookupResolved
		case step >= f.lookback:
			state = lookupFailed
		default:
			step++
			day = day.AddDays(-1)
		}
	}

	if state == lookupFailed {
		return Failed[MarketValue](NotAvailable, fmt.Errorf("%s on %s: %w", f.source.Name(), key.Date, errNoTradingDay))
	}
	return Resolved(value)
}

// normalizeSeries converts quote instants to trading days in the exchange
// zone and keeps those inside [from, to]. No time.Time from the source is
// ever compared with a Date.
func normalizeSeries(quotes []Quote, exchange *time.Location, from, to Date) (map[Date]float64, error) {
	series := make(map[Date]float64, len(quotes))
	for _, q := range quotes {
		if q.Time.IsZero() {
			return nil, errors.New("market quote without timestamp")
		}
		if !isFinite(q.Close) {
			continue
		}
		day := DateIn(q.Time, exchange)
		if day.Before(from) || day.After(to) {
			continue
		}
		series[day] = q.Close
	}
	return series, nil
}

// Prefetcher is implemented by market sources that can load a whole day
// range up front so per-key lookups are served from memory.
type Prefetcher interface {
	Prefetch(ctx context.Context, from, to Date) error
}

// seriesMemo answers Closes from one preloaded range when the request falls
// inside it and delegates otherwise. It is created per run.
type seriesMemo struct {
	source   MarketSource
	loaded   bool
	from, to Date
	quotes   []Quote
}

func newSeriesMemo(source MarketSource) *seriesMemo {
	return &seriesMemo{source: source}
}

func (m *seriesMemo) Name() string { return m.source.Name() }

// Prefetch must complete before any concurrent Closes call.
func (m *seriesMemo) Prefetch(ctx context.Context, from, to Date) error {
	quotes, err := m.source.Closes(ctx, from, to)
	if err != nil && !errors.Is(err, ErrNoData) {
		return err
	}
	m.quotes, m.from, m.to, m.loaded = quotes, from, to, true
	return nil
}

func (m *seriesMemo) Closes(ctx context.Context, from, to Date) ([]Quote, error) {
	if !m.loaded || from.Before(m.from) || to.After(m.to) {
		return m.source.Closes(ctx, from, to)
	}
	return m.quotes, nil
}
