package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
)

// Timestamp layouts accepted for order timestamps, tried in order. Layouts
// without a zone are read in the configured order timezone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// RawOrder is an order row as it arrives over JSON, before timestamps are
// parsed.
type RawOrder struct {
	OrderID         string              `json:"order_id"`
	SellerID        string              `json:"seller_id"`
	PurchasedAt     string              `json:"order_purchase_timestamp"`
	DeliveredAt     string              `json:"order_delivered_customer_date"`
	Latitude        *float64            `json:"delivery_location_latitude"`
	Longitude       *float64            `json:"delivery_location_longitude"`
	TotalOrderValue decimal.NullDecimal `json:"total_order_value"`
}

// ParseTimestamp parses s with the accepted layouts. An empty string is a
// null timestamp.
func ParseTimestamp(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}

// Record converts the raw row.
func (r RawOrder) Record(loc *time.Location) (enrich.OrderRecord, error) {
	purchased, err := ParseTimestamp(r.PurchasedAt, loc)
	if err != nil {
		return enrich.OrderRecord{}, fmt.Errorf("order_purchase_timestamp: %w", err)
	}
	delivered, err := ParseTimestamp(r.DeliveredAt, loc)
	if err != nil {
		return enrich.OrderRecord{}, fmt.Errorf("order_delivered_customer_date: %w", err)
	}
	return enrich.OrderRecord{
		OrderID:         strings.TrimSpace(r.OrderID),
		SellerID:        strings.TrimSpace(r.SellerID),
		PurchasedAt:     purchased,
		DeliveredAt:     delivered,
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		TotalOrderValue: r.TotalOrderValue,
	}, nil
}

// DecodeOrders converts raw rows; the first malformed row fails the batch.
func DecodeOrders(raw []RawOrder, loc *time.Location) ([]enrich.OrderRecord, error) {
	out := make([]enrich.OrderRecord, len(raw))
	for i, r := range raw {
		rec, err := r.Record(loc)
		if err != nil {
			return nil, fmt.Errorf("order %d (%s): %w", i, r.OrderID, err)
		}
		out[i] = rec
	}
	return out, nil
}

const maxLineBytes = 1 << 20

// ReadOrdersJSONL reads one RawOrder per line. Blank lines are skipped.
func ReadOrdersJSONL(r io.Reader, loc *time.Location) ([]enrich.OrderRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var raw []RawOrder
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var ro RawOrder
		if err := json.Unmarshal(b, &ro); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		raw = append(raw, ro)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}
	return DecodeOrders(raw, loc)
}

// LoadOrdersFile reads a JSONL order file.
func LoadOrdersFile(path string, loc *time.Location) ([]enrich.OrderRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadOrdersJSONL(f, loc)
}
