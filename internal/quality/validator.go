package quality

import (
	"fmt"
	"math"
	"strings"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
	"github.com/shopspring/decimal"
)

// Check names.
const (
	CheckNotNullCritical       = "not_null_critical"
	CheckTotalOrderValue       = "total_order_value_positive"
	CheckMarketRange           = "market_value_in_range"
	CheckTemperatureRange      = "weather_temperature_in_range"
	CheckPrecipitationRange    = "weather_precipitation_in_range"
	CheckRowCount              = "row_count"
	CheckReferentialIntegrity  = "referential_integrity"
	CheckOrderIDUnique         = "order_id_unique"
	CheckCoordinatesInBounds   = "delivery_coordinates_in_bounds"
	CheckPurchaseBeforeDeliver = "purchase_before_delivery"
)

// Bounds is an inclusive numeric range.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max" validate:"gtefield=Min"`
}

func (b Bounds) Contains(v float64) bool {
	return !math.IsNaN(v) && v >= b.Min && v <= b.Max
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%g, %g]", b.Min, b.Max)
}

// Config holds the plausible ranges and the checks the caller treats as fatal.
type Config struct {
	MarketRange Bounds
	TempRange   Bounds
	PrecipRange Bounds
	Geo         enrich.GeoBounds
	Fatal       []string
}

// DefaultConfig is used when the caller supplies nothing.
func DefaultConfig() Config {
	return Config{
		MarketRange: Bounds{Min: 0, Max: 1e6},
		TempRange:   Bounds{Min: -60, Max: 60},
		PrecipRange: Bounds{Min: 0, Max: 500},
		Geo:         enrich.WorldBounds,
		Fatal:       []string{CheckRowCount, CheckReferentialIntegrity},
	}
}

// WithFatal returns a copy of c in which check is fatal.
func (c Config) WithFatal(check string) Config {
	for _, name := range c.Fatal {
		if strings.TrimSpace(name) == check {
			return c
		}
	}
	c.Fatal = append(append([]string(nil), c.Fatal...), check)
	return c
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name         string `json:"name"`
	Passed       bool   `json:"passed"`
	AffectedRows int    `json:"affected_rows"`
	Fatal        bool   `json:"fatal"`
	Detail       string `json:"detail,omitempty"`
}

// Report lists every check that ran, in a fixed order.
type Report struct {
	Checks []CheckResult `json:"checks"`
}

func (r Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// FatalFailures returns the failed checks configured as fatal.
func (r Report) FatalFailures() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.Passed && c.Fatal {
			out = append(out, c)
		}
	}
	return out
}

// Failed returns every failed check.
func (r Report) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Check returns the named result.
func (r Report) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Validator runs the post-join checks. It never mutates its input.
type Validator struct {
	cfg   Config
	fatal map[string]bool
}

func NewValidator(cfg Config) *Validator {
	fatal := make(map[string]bool, len(cfg.Fatal))
	for _, name := range cfg.Fatal {
		fatal[strings.TrimSpace(name)] = true
	}
	return &Validator{cfg: cfg, fatal: fatal}
}

func (v *Validator) result(name string, affected int, detail string) CheckResult {
	res := CheckResult{
		Name:         name,
		Passed:       affected == 0,
		AffectedRows: affected,
		Fatal:        v.fatal[name],
	}
	if affected > 0 {
		res.Detail = detail
	}
	return res
}

// Validate checks the enriched table against the input it was built from.
// All checks run; none stops the others.
func (v *Validator) Validate(input []enrich.OrderRecord, out []enrich.EnrichedOrderRecord) Report {
	var (
		nulls, nonPositive          int
		marketBad, tempBad, precBad int
	)
	for _, row := range out {
		if row.OrderID == "" || row.SellerID == "" || row.PurchasedAt == nil ||
			row.DeliveredAt == nil || !row.TotalOrderValue.Valid {
			nulls++
		}
		if row.TotalOrderValue.Valid && !row.TotalOrderValue.Decimal.GreaterThan(decimal.Zero) {
			nonPositive++
		}
		// Missing enrichment values are not range violations.
		if row.MarketSentiment != nil && !v.cfg.MarketRange.Contains(*row.MarketSentiment) {
			marketBad++
		}
		if row.MeanTemp != nil && !v.cfg.TempRange.Contains(*row.MeanTemp) {
			tempBad++
		}
		if row.PrecipitationSum != nil && !v.cfg.PrecipRange.Contains(*row.PrecipitationSum) {
			precBad++
		}
	}

	rowDiff := len(out) - len(input)
	if rowDiff < 0 {
		rowDiff = -rowDiff
	}

	return Report{Checks: []CheckResult{
		v.result(CheckNotNullCritical, nulls, "null order_id, seller_id, timestamps or total_order_value"),
		v.result(CheckTotalOrderValue, nonPositive, "total_order_value <= 0"),
		v.result(CheckMarketRange, marketBad, "market close outside "+v.cfg.MarketRange.String()),
		v.result(CheckTemperatureRange, tempBad, "mean temperature outside "+v.cfg.TempRange.String()),
		v.result(CheckPrecipitationRange, precBad, "precipitation outside "+v.cfg.PrecipRange.String()),
		v.result(CheckRowCount, rowDiff, fmt.Sprintf("input has %d rows, output has %d", len(input), len(out))),
		v.result(CheckReferentialIntegrity, mismatchedPairs(input, out), "output order_id/seller_id pairs do not match input"),
		v.result(CheckOrderIDUnique, duplicateIDs(out), "order_id appears more than once"),
	}}
}

// mismatchedPairs counts output rows whose (order_id, seller_id) pair is not
// the pair of the input row at the same position.
func mismatchedPairs(input []enrich.OrderRecord, out []enrich.EnrichedOrderRecord) int {
	n := 0
	for i, row := range out {
		if i >= len(input) || input[i].OrderID != row.OrderID || input[i].SellerID != row.SellerID {
			n++
		}
	}
	return n
}

func duplicateIDs(out []enrich.EnrichedOrderRecord) int {
	seen := make(map[string]int, len(out))
	for _, row := range out {
		if row.OrderID != "" {
			seen[row.OrderID]++
		}
	}
	n := 0
	for _, c := range seen {
		if c > 1 {
			n += c
		}
	}
	return n
}

// PrecheckInput flags input rows that will not enrich cleanly. Its checks are
// informative and never fatal.
func (v *Validator) PrecheckInput(input []enrich.OrderRecord) Report {
	var outOfBounds, misordered int
	for _, rec := range input {
		if rec.Latitude != nil && rec.Longitude != nil && !v.cfg.Geo.Contains(*rec.Latitude, *rec.Longitude) {
			outOfBounds++
		}
		if rec.PurchasedAt != nil && rec.DeliveredAt != nil && rec.DeliveredAt.Before(*rec.PurchasedAt) {
			misordered++
		}
	}
	in := func(name string, affected int, detail string) CheckResult {
		res := v.result(name, affected, detail)
		res.Fatal = false
		return res
	}
	return Report{Checks: []CheckResult{
		in(CheckCoordinatesInBounds, outOfBounds, "delivery coordinates outside configured bounds"),
		in(CheckPurchaseBeforeDeliver, misordered, "delivered before purchased"),
	}}
}
