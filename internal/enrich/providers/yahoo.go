package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/i474232898/seller-order-enrichment/internal/common"
	"github.com/i474232898/seller-order-enrichment/internal/enrich"
	"github.com/sony/gobreaker"
)

// YahooChartURL is the chart endpoint; the symbol is appended as a path segment.
const YahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooChartSource implements enrich.MarketSource on the Yahoo Finance chart API.
type YahooChartSource struct {
	name    string
	symbol  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewYahooChartSource(cfg HTTPClientConfig, baseURL, symbol string) *YahooChartSource {
	if baseURL == "" {
		baseURL = YahooChartURL
	}
	return &YahooChartSource{
		name:    "yahoo:" + symbol,
		symbol:  symbol,
		baseURL: baseURL,
		httpCfg: cfg,
		circuit: newCircuitBreaker("yahoo"),
	}
}

func (p *YahooChartSource) Name() string {
	return p.name
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				ExchangeTimezoneName string `json:"exchangeTimezoneName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Closes returns daily closes for [from, to]. Quote times are returned in the
// exchange zone reported by Yahoo (UTC when absent).
func (p *YahooChartSource) Closes(ctx context.Context, from, to enrich.Date) ([]enrich.Quote, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("period1", strconv.FormatInt(from.Time().Unix(), 10))
		values.Set("period2", strconv.FormatInt(to.AddDays(1).Time().Unix(), 10))
		values.Set("interval", "1d")
		values.Set("includePrePost", "false")

		u := fmt.Sprintf("%s/%s?%s", p.baseURL, url.PathEscape(p.symbol), values.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "seller-order-enrichment/1.0")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := fetchBody(ctx, p.httpCfg, p.circuit, p.httpCfg.settled(to), buildRequest)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Code == http.StatusNotFound || isNoDataMessage(se.Body)) {
			return nil, fmt.Errorf("yahoo %s: %w", p.symbol, enrich.ErrNoData)
		}
		return nil, fmt.Errorf("yahoo %s: %w", p.symbol, err)
	}

	var payload yahooChart
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return nil, fmt.Errorf("yahoo %s: decode: %w", p.symbol, err)
	}
	if e := payload.Chart.Error; e != nil {
		if isNoDataMessage(e.Description) {
			return nil, fmt.Errorf("yahoo %s: %w: %s", p.symbol, enrich.ErrNoData, e.Description)
		}
		return nil, fmt.Errorf("yahoo %s: %s: %s", p.symbol, e.Code, e.Description)
	}
	if len(payload.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo %s: %w: empty result", p.symbol, enrich.ErrNoData)
	}

	res := payload.Chart.Result[0]
	loc := time.UTC
	if name := res.Meta.ExchangeTimezoneName; name != "" {
		if l, err := time.LoadLocation(name); err == nil {
			loc = l
		}
	}
	var closes []*float64
	if len(res.Indicators.Quote) > 0 {
		closes = res.Indicators.Quote[0].Close
	}

	quotes := make([]enrich.Quote, 0, len(res.Timestamp))
	for i, sec := range res.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		quotes = append(quotes, enrich.Quote{Time: time.Unix(sec, 0).In(loc), Close: *closes[i]})
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("yahoo %s: %w: no closes between %s and %s", p.symbol, enrich.ErrNoData, from, to)
	}
	p.httpCfg.keep(ctx, resp)
	return quotes, nil
}

func isNoDataMessage(s string) bool {
	return common.ContainsAnyFold(s, "no data found", "delisted", "data doesn't exist")
}
