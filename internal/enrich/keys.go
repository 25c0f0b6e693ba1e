package enrich

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"
)

// MarketKey identifies a market lookup by purchase day.
type MarketKey struct {
	Date Date
}

func (k MarketKey) String() string { return "market:" + k.Date.String() }

// WeatherKey identifies a weather lookup. Coordinates are stored as integer
// buckets of 10^-Precision degrees so equality is exact.
type WeatherKey struct {
	LatBucket int64
	LonBucket int64
	Precision int
	Date      Date
}

// NewWeatherKey rounds lat/lon to precision decimal places.
func NewWeatherKey(lat, lon float64, precision int, day Date) WeatherKey {
	scale := math.Pow10(precision)
	return WeatherKey{
		LatBucket: int64(math.Round(lat * scale)),
		LonBucket: int64(math.Round(lon * scale)),
		Precision: precision,
		Date:      day,
	}
}

func (k WeatherKey) Lat() float64 { return float64(k.LatBucket) / math.Pow10(k.Precision) }

func (k WeatherKey) Lon() float64 { return float64(k.LonBucket) / math.Pow10(k.Precision) }

func (k WeatherKey) String() string {
	return fmt.Sprintf("weather:%.*f:%.*f:%s", k.Precision, k.Lat(), k.Precision, k.Lon(), k.Date)
}

func compareWeatherKeys(a, b WeatherKey) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	if c := cmp.Compare(a.LatBucket, b.LatBucket); c != 0 {
		return c
	}
	if c := cmp.Compare(a.LonBucket, b.LonBucket); c != 0 {
		return c
	}
	return cmp.Compare(a.Precision, b.Precision)
}

// KeyOptions controls key normalization. The same options are used for
// extraction and for the join, so both sides always agree on a key.
type KeyOptions struct {
	// Precision is the number of decimal places kept on coordinates.
	Precision int
	// Location is where order timestamps are truncated to days. Nil means UTC.
	Location *time.Location
}

func (o KeyOptions) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// MarketKeyOf returns the market key of an order, false when the purchase
// timestamp is missing.
func (o KeyOptions) MarketKeyOf(rec OrderRecord) (MarketKey, bool) {
	if rec.PurchasedAt == nil || rec.PurchasedAt.IsZero() {
		return MarketKey{}, false
	}
	return MarketKey{Date: DateIn(*rec.PurchasedAt, o.location())}, true
}

// WeatherKeyOf returns the weather key of an order, false when the delivery
// timestamp or either coordinate is missing.
func (o KeyOptions) WeatherKeyOf(rec OrderRecord) (WeatherKey, bool) {
	if rec.DeliveredAt == nil || rec.DeliveredAt.IsZero() || rec.Latitude == nil || rec.Longitude == nil {
		return WeatherKey{}, false
	}
	lat, lon := *rec.Latitude, *rec.Longitude
	if !isFinite(lat) || !isFinite(lon) {
		return WeatherKey{}, false
	}
	return NewWeatherKey(lat, lon, o.Precision, DateIn(*rec.DeliveredAt, o.location())), true
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// KeySet holds the deduplicated lookup keys of an order table, sorted.
type KeySet struct {
	Market  []MarketKey
	Weather []WeatherKey
}

// ExtractKeys derives the unique market and weather keys of orders. Orders
// lacking a key component contribute nothing to that key set.
func ExtractKeys(orders []OrderRecord, opts KeyOptions) KeySet {
	marketSeen := make(map[MarketKey]struct{})
	weatherSeen := make(map[WeatherKey]struct{})
	var ks KeySet

	for _, rec := range orders {
		if k, ok := opts.MarketKeyOf(rec); ok {
			if _, dup := marketSeen[k]; !dup {
				marketSeen[k] = struct{}{}
				ks.Market = append(ks.Market, k)
			}
		}
		if k, ok := opts.WeatherKeyOf(rec); ok {
			if _, dup := weatherSeen[k]; !dup {
				weatherSeen[k] = struct{}{}
				ks.Weather = append(ks.Weather, k)
			}
		}
	}

	slices.SortFunc(ks.Market, func(a, b MarketKey) int { return a.Date.Compare(b.Date) })
	slices.SortFunc(ks.Weather, compareWeatherKeys)
	return ks
}
