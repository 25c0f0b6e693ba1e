package quality

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
)

func f64(v float64) *float64 { return &v }

func order(id, seller string, lat, lon float64) enrich.OrderRecord {
	purchased := time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC)
	delivered := time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)
	return enrich.OrderRecord{
		OrderID:         id,
		SellerID:        seller,
		PurchasedAt:     &purchased,
		DeliveredAt:     &delivered,
		Latitude:        f64(lat),
		Longitude:       f64(lon),
		TotalOrderValue: decimal.NewNullDecimal(decimal.RequireFromString("120.50")),
	}
}

func enriched(rec enrich.OrderRecord, mkt, temp, precip *float64) enrich.EnrichedOrderRecord {
	return enrich.EnrichedOrderRecord{OrderRecord: rec, MarketSentiment: mkt, MeanTemp: temp, PrecipitationSum: precip}
}

func requireCheck(t *testing.T, r Report, name string) CheckResult {
	t.Helper()
	c, ok := r.Check(name)
	require.True(t, ok, "missing check %s", name)
	return c
}

func TestValidate_CleanTablePasses(t *testing.T) {
	in := []enrich.OrderRecord{order("O1", "S1", -23.55, -46.63), order("O2", "S1", -22.9, -43.2)}
	out := []enrich.EnrichedOrderRecord{
		enriched(in[0], f64(4697.24), f64(22.4), f64(5.1)),
		enriched(in[1], nil, nil, nil),
	}

	r := NewValidator(DefaultConfig()).Validate(in, out)

	assert.True(t, r.Passed())
	assert.Empty(t, r.FatalFailures())
	assert.Len(t, r.Checks, 8)
}

func TestValidate_ReportsEveryViolationTogether(t *testing.T) {
	in := []enrich.OrderRecord{
		order("O1", "S1", -23.55, -46.63),
		order("O2", "S1", -23.55, -46.63),
		order("O3", "S2", -23.55, -46.63),
	}
	noSeller := in[1]
	noSeller.SellerID = ""
	zeroValue := in[2]
	zeroValue.TotalOrderValue = decimal.NewNullDecimal(decimal.Zero)

	out := []enrich.EnrichedOrderRecord{
		enriched(in[0], f64(-1), f64(75), f64(-2)),
		enriched(noSeller, nil, nil, nil),
		enriched(zeroValue, nil, nil, nil),
	}

	r := NewValidator(DefaultConfig()).Validate(in, out)

	assert.False(t, r.Passed())
	assert.Equal(t, 1, requireCheck(t, r, CheckNotNullCritical).AffectedRows)
	assert.Equal(t, 1, requireCheck(t, r, CheckTotalOrderValue).AffectedRows)
	assert.Equal(t, 1, requireCheck(t, r, CheckMarketRange).AffectedRows)
	assert.Equal(t, 1, requireCheck(t, r, CheckTemperatureRange).AffectedRows)
	assert.Equal(t, 1, requireCheck(t, r, CheckPrecipitationRange).AffectedRows)
	assert.True(t, requireCheck(t, r, CheckRowCount).Passed)

	ref := requireCheck(t, r, CheckReferentialIntegrity)
	assert.False(t, ref.Passed)
	assert.True(t, ref.Fatal)
	require.Len(t, r.FatalFailures(), 1)
	assert.Equal(t, CheckReferentialIntegrity, r.FatalFailures()[0].Name)
}

func TestValidate_RowCountAndDuplicates(t *testing.T) {
	in := []enrich.OrderRecord{order("O1", "S1", 0, 0), order("O2", "S1", 0, 0)}
	out := []enrich.EnrichedOrderRecord{enriched(in[0], nil, nil, nil), enriched(in[0], nil, nil, nil), enriched(in[1], nil, nil, nil)}

	r := NewValidator(DefaultConfig()).Validate(in, out)

	rc := requireCheck(t, r, CheckRowCount)
	assert.False(t, rc.Passed)
	assert.True(t, rc.Fatal)
	assert.Equal(t, 1, rc.AffectedRows)
	assert.Equal(t, 2, requireCheck(t, r, CheckOrderIDUnique).AffectedRows)
	assert.False(t, requireCheck(t, r, CheckOrderIDUnique).Fatal)
}

func TestValidate_MissingNullValuesAreNotRangeViolations(t *testing.T) {
	in := []enrich.OrderRecord{order("O1", "S1", 999, -46.63)}
	out := []enrich.EnrichedOrderRecord{enriched(in[0], f64(4697.24), nil, nil)}

	r := NewValidator(DefaultConfig()).Validate(in, out)

	assert.True(t, r.Passed())

	pre := NewValidator(DefaultConfig()).PrecheckInput(in)
	c := requireCheck(t, pre, CheckCoordinatesInBounds)
	assert.False(t, c.Passed)
	assert.False(t, c.Fatal)
	assert.Equal(t, 1, c.AffectedRows)
}

func TestPrecheckInput_PurchaseAfterDelivery(t *testing.T) {
	rec := order("O1", "S1", 0, 0)
	early := rec.PurchasedAt.Add(-time.Hour)
	rec.DeliveredAt = &early

	cfg := DefaultConfig()
	cfg.Fatal = append(cfg.Fatal, CheckPurchaseBeforeDeliver)
	r := NewValidator(cfg).PrecheckInput([]enrich.OrderRecord{rec, order("O2", "S1", 0, 0)})

	c := requireCheck(t, r, CheckPurchaseBeforeDeliver)
	assert.Equal(t, 1, c.AffectedRows)
	assert.False(t, c.Fatal)
	assert.Empty(t, r.FatalFailures())
}

func TestValidate_ConfiguredFatalChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fatal = []string{" " + CheckMarketRange + " "}
	in := []enrich.OrderRecord{order("O1", "S1", 0, 0)}

	r := NewValidator(cfg).Validate(in, []enrich.EnrichedOrderRecord{enriched(in[0], f64(2e6), nil, nil)})

	require.Len(t, r.FatalFailures(), 1)
	assert.Equal(t, CheckMarketRange, r.FatalFailures()[0].Name)
	assert.NotEmpty(t, r.FatalFailures()[0].Detail)
}

func TestConfig_WithFatal(t *testing.T) {
	base := DefaultConfig()
	cfg := base.WithFatal(CheckOrderIDUnique)

	assert.Equal(t, []string{CheckRowCount, CheckReferentialIntegrity, CheckOrderIDUnique}, cfg.Fatal)
	assert.Len(t, base.Fatal, 2)
	assert.Equal(t, cfg, cfg.WithFatal(CheckOrderIDUnique))

	in := []enrich.OrderRecord{order("O1", "S1", 0, 0), order("O2", "S1", 0, 0)}
	out := []enrich.EnrichedOrderRecord{enriched(in[0], nil, nil, nil), enriched(in[0], nil, nil, nil)}

	r := NewValidator(cfg).Validate(in, out)
	unique := requireCheck(t, r, CheckOrderIDUnique)
	assert.False(t, unique.Passed)
	assert.True(t, unique.Fatal)
	assert.Contains(t, r.FatalFailures(), unique)
}
