package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoff retries three times starting at 500ms.
var DefaultBackoff = BackoffConfig{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// ResponseCache stores raw response bodies across runs, keyed by request URL.
// Sources only store bodies that parsed to data for a settled range, because
// archives backfill and revise the most recent days.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, body []byte) error
}

// HTTPClientConfig bundles HTTP client and resilience settings shared by
// every source.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
	// Limiter throttles outbound requests; nil disables throttling.
	Limiter *rate.Limiter
	// Cache is consulted before the network; nil disables it.
	Cache ResponseCache
	// SettleDays is how many days a range must have ended before its
	// response may be cached. Zero means DefaultSettleDays.
	SettleDays int
	// Now defaults to time.Now.
	Now func() time.Time
}

// DefaultSettleDays covers the Open-Meteo archive backfill delay and the
// unfinished intraday bar Yahoo returns for ranges reaching today.
const DefaultSettleDays = 7

// settled reports whether a range ending on last is old enough that its
// response is final.
func (c HTTPClientConfig) settled(last enrich.Date) bool {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	days := c.SettleDays
	if days <= 0 {
		days = DefaultSettleDays
	}
	return last.AddDays(days).Before(enrich.DateIn(now(), time.UTC))
}

// response is a 2xx body together with its cache key.
type response struct {
	body   []byte
	key    string
	cached bool
}

// keep stores a response the caller has parsed into usable data.
func (c HTTPClientConfig) keep(ctx context.Context, resp response) {
	if c.Cache == nil || resp.cached || resp.key == "" {
		return
	}
	if err := c.Cache.Set(ctx, resp.key, resp.body); err != nil {
		log.Warn().Err(err).Str("url", redactURL(resp.key)).Msg("response cache write failed")
	}
}

var secretParams = []string{"key", "apikey", "api_key", "appid", "token"}

// redactURL masks credentials carried in the query string.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	changed := false
	for name := range q {
		for _, secret := range secretParams {
			if strings.EqualFold(name, secret) {
				q.Set(name, "REDACTED")
				changed = true
			}
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	u.User = nil
	return u.String()
}

// StatusError is a non-2xx response that is not retried.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.Code, e.Body)
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

const maxErrorBody = 512

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		// Client errors describe the request, not the health of the source.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || errors.As(err, &se)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
}

// fetchBody executes the request with the rate limiter, retries with
// exponential backoff and a circuit breaker, and returns the body of a 2xx
// response. When cacheable is set the response cache is consulted first;
// storing is left to the caller through keep once the body has parsed.
func fetchBody(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	cacheable bool,
	buildRequest func(ctx context.Context) (*http.Request, error),
) (response, error) {
	if cfg.Client == nil {
		return response{}, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return response{}, errInvalidConfig
	}

	var cacheKey string
	if cacheable && cfg.Cache != nil {
		first, err := buildRequest(ctx)
		if err != nil {
			return response{}, err
		}
		cacheKey = first.URL.String()
		body, ok, err := cfg.Cache.Get(ctx, cacheKey)
		if err != nil {
			log.Warn().Err(err).Str("url", redactURL(cacheKey)).Msg("response cache read failed")
		} else if ok {
			return response{body: body, key: cacheKey, cached: true}, nil
		}
	}

	var attempt int
	var lastErr error

	for {
		if ctx.Err() != nil {
			return response{}, ctx.Err()
		}
		if cfg.Limiter != nil {
			if err := cfg.Limiter.Wait(ctx); err != nil {
				return response{}, err
			}
		}

		req, err := buildRequest(ctx)
		if err != nil {
			return response{}, err
		}

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, errRateLimited
			}
			if resp.StatusCode >= 500 {
				return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
				return nil, &StatusError{Code: resp.StatusCode, Body: string(snippet)}
			}
			return io.ReadAll(resp.Body)
		})

		if err == nil {
			body, ok := result.([]byte)
			if !ok {
				return response{}, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return response{body: body, key: cacheKey}, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return response{}, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		var se *StatusError
		if errors.As(err, &se) {
			return response{}, err
		}

		lastErr = err
		if attempt >= cfg.Backoff.MaxRetries {
			return response{}, lastErr
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}
		log.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Str("breaker", cb.Name()).Msg("request failed; retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return response{}, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}
