package enrich

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Date is a calendar day without time-of-day or zone. All market and weather
// lookups compare Dates, never time.Time values, so an instant in one zone can
// not be matched against a day computed in another.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateIn returns the calendar day of t as observed in loc.
func DateIn(t time.Time, loc *time.Location) Date {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateIn(t, time.UTC), nil
}

// MustDate is ParseDate for literals known to be valid.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts the day by n (negative steps backward).
func (d Date) AddDays(n int) Date {
	return DateIn(d.Time().AddDate(0, 0, n), time.UTC)
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) Weekday() time.Weekday { return d.Time().Weekday() }

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int {
	return d.Time().Compare(o.Time())
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }

func (d Date) After(o Date) bool { return d.Compare(o) > 0 }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// OrderRecord is one row of the already joined order table. Nil pointers and
// empty identifiers are nulls carried over from upstream extraction.
type OrderRecord struct {
	OrderID         string              `json:"order_id"`
	SellerID        string              `json:"seller_id"`
	PurchasedAt     *time.Time          `json:"order_purchase_timestamp"`
	DeliveredAt     *time.Time          `json:"order_delivered_customer_date"`
	Latitude        *float64            `json:"delivery_location_latitude"`
	Longitude       *float64            `json:"delivery_location_longitude"`
	TotalOrderValue decimal.NullDecimal `json:"total_order_value"`
}

// EnrichedOrderRecord is an OrderRecord plus the enrichment columns of the
// seller_order_enriched table. Enrichment fields are nil when the lookup
// failed or the order had no key for it.
type EnrichedOrderRecord struct {
	OrderRecord

	MarketSentiment  *float64 `json:"market_sentiment_on_purchase_date"`
	MarketDateUsed   *Date    `json:"market_date_used"`
	MeanTemp         *float64 `json:"delivery_date_mean_temp"`
	PrecipitationSum *float64 `json:"delivery_date_precipitation_sum"`
}

// MarketValue is a resolved index close. DateUsed differs from the requested
// date when the close was taken from an earlier trading day.
type MarketValue struct {
	Close    float64 `json:"close"`
	DateUsed Date    `json:"date_used"`
}

// WeatherAggregate holds the daily aggregates for one location and day.
type WeatherAggregate struct {
	MeanTemp         float64 `json:"mean_temp"`
	PrecipitationSum float64 `json:"precipitation_sum"`
}

// Quote is a single close as returned by a market source. Time is an instant
// and may carry any location; it is converted to a Date before use.
type Quote struct {
	Time  time.Time
	Close float64
}
