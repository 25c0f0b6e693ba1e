package enrich

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Options configures an Enricher.
type Options struct {
	Keys         KeyOptions
	LookbackDays int
	// Exchange is the market's zone, used to map quote instants to trading days.
	Exchange *time.Location
	Bounds   GeoBounds
	// Workers bounds concurrent fetches per key set; values below 1 mean 1.
	Workers int
	// FetchTimeout bounds each individual fetch; zero disables the bound.
	FetchTimeout time.Duration
	// Prefetch loads the whole market range with one source call when the
	// range is needed by more than one key.
	Prefetch bool
}

// SourceStats summarizes the resolution of one key set.
type SourceStats struct {
	Source       string     `json:"source"`
	Keys         int        `json:"keys"`
	Resolved     int        `json:"resolved"`
	NotAvailable int        `json:"not_available"`
	SourceErrors int        `json:"source_errors"`
	Cache        CacheStats `json:"cache"`
}

func (s *SourceStats) count(kind FailureKind) {
	switch kind {
	case 0:
		s.Resolved++
	case NotAvailable:
		s.NotAvailable++
	case SourceError:
		s.SourceErrors++
	}
}

type Stats struct {
	Rows    int         `json:"rows"`
	Market  SourceStats `json:"market"`
	Weather SourceStats `json:"weather"`
}

// Enricher joins market and weather lookups onto an order table.
type Enricher struct {
	market  MarketSource
	weather WeatherSource
	opts    Options
}

func NewEnricher(market MarketSource, weather WeatherSource, opts Options) *Enricher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Enricher{market: market, weather: weather, opts: opts}
}

func (e *Enricher) Options() Options { return e.opts }

// run owns everything scoped to a single Enrich call.
type run struct {
	marketCache  *Cache[MarketKey, MarketValue]
	weatherCache *Cache[WeatherKey, WeatherAggregate]
	market       *MarketFetcher
	weather      *WeatherFetcher
}

func (e *Enricher) newRun() *run {
	return &run{
		marketCache:  NewCache[MarketKey, MarketValue](),
		weatherCache: NewCache[WeatherKey, WeatherAggregate](),
		market:       NewMarketFetcher(newSeriesMemo(e.market), e.opts.LookbackDays, e.opts.Exchange),
		weather:      NewWeatherFetcher(e.weather, e.opts.Bounds),
	}
}

// Enrich returns one enriched row per input order, in input order. Lookup
// failures leave enrichment fields nil. The only errors are context errors,
// in which case no rows are returned.
func (e *Enricher) Enrich(ctx context.Context, orders []OrderRecord) ([]EnrichedOrderRecord, Stats, error) {
	keys := ExtractKeys(orders, e.opts.Keys)
	r := e.newRun()

	if e.opts.Prefetch && len(keys.Market) > 1 {
		from := keys.Market[0].Date.AddDays(-r.market.lookback - 1)
		to := keys.Market[len(keys.Market)-1].Date.AddDays(1)
		if p, ok := r.market.source.(Prefetcher); ok {
			pctx, cancel := ctx, context.CancelFunc(func() {})
			if e.opts.FetchTimeout > 0 {
				pctx, cancel = context.WithTimeout(ctx, e.opts.FetchTimeout)
			}
			err := p.Prefetch(pctx, from, to)
			cancel()
			if ctx.Err() != nil {
				return nil, Stats{}, ctx.Err()
			}
			if err != nil {
				log.Warn().Err(err).Str("source", e.market.Name()).
					Str("from", from.String()).Str("to", to.String()).
					Msg("market prefetch failed; resolving keys individually")
			}
		}
	}

	marketResults, err := resolveAll(ctx, e.opts.Workers, keys.Market, func(ctx context.Context, k MarketKey) Result[MarketValue] {
		return r.marketCache.Resolve(ctx, k, withTimeout(e.opts.FetchTimeout, r.market.Fetch))
	})
	if err != nil {
		return nil, Stats{}, err
	}
	weatherResults, err := resolveAll(ctx, e.opts.Workers, keys.Weather, func(ctx context.Context, k WeatherKey) Result[WeatherAggregate] {
		return r.weatherCache.Resolve(ctx, k, withTimeout(e.opts.FetchTimeout, r.weather.Fetch))
	})
	if err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{
		Rows:    len(orders),
		Market:  SourceStats{Source: e.market.Name(), Keys: len(keys.Market)},
		Weather: SourceStats{Source: e.weather.Name(), Keys: len(keys.Weather)},
	}

	marketTable := make(map[MarketKey]Result[MarketValue], len(keys.Market))
	for i, k := range keys.Market {
		res := marketResults[i]
		marketTable[k] = res
		stats.Market.count(res.Failure)
		if !res.OK() {
			log.Debug().Str("key", k.String()).Str("kind", res.Failure.String()).Err(res.Err).Msg("market lookup failed")
		}
	}
	weatherTable := make(map[WeatherKey]Result[WeatherAggregate], len(keys.Weather))
	for i, k := range keys.Weather {
		res := weatherResults[i]
		weatherTable[k] = res
		stats.Weather.count(res.Failure)
		if !res.OK() {
			log.Debug().Str("key", k.String()).Str("kind", res.Failure.String()).Err(res.Err).Msg("weather lookup failed")
		}
	}
	stats.Market.Cache = r.marketCache.Stats()
	stats.Weather.Cache = r.weatherCache.Stats()

	return e.join(orders, marketTable, weatherTable), stats, nil
}

// join is a left join of both lookup tables onto orders.
func (e *Enricher) join(orders []OrderRecord, market map[MarketKey]Result[MarketValue], weather map[WeatherKey]Result[WeatherAggregate]) []EnrichedOrderRecord {
	out := make([]EnrichedOrderRecord, len(orders))
	for i, rec := range orders {
		row := EnrichedOrderRecord{OrderRecord: rec}
		if k, ok := e.opts.Keys.MarketKeyOf(rec); ok {
			if res := market[k]; res.OK() {
				c, used := res.Value.Close, res.Value.DateUsed
				row.MarketSentiment = &c
				row.MarketDateUsed = &used
			}
		}
		if k, ok := e.opts.Keys.WeatherKeyOf(rec); ok {
			if res := weather[k]; res.OK() {
				temp, precip := res.Value.MeanTemp, res.Value.PrecipitationSum
				row.MeanTemp = &temp
				row.PrecipitationSum = &precip
			}
		}
		out[i] = row
	}
	return out
}

// resolveAll resolves keys on at most workers goroutines. results[i] belongs
// to keys[i] regardless of completion order.
func resolveAll[K Key, V any](ctx context.Context, workers int, keys []K, resolve func(context.Context, K) Result[V]) ([]Result[V], error) {
	results := make([]Result[V], len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, k := range keys {
		i, k := i, k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = resolve(gctx, k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// withTimeout bounds each fetch by d. A fetch that hits the deadline reports
// a SourceError through the source's own error path.
func withTimeout[K Key, V any](d time.Duration, fetch FetchFunc[K, V]) FetchFunc[K, V] {
	if d <= 0 {
		return fetch
	}
	return func(ctx context.Context, key K) Result[V] {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return fetch(ctx, key)
	}
}
