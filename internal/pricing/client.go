/*
This file implements the live HTTP price source against the CryptoCompare
spot price API. Quotes feed valuation of real custody balances, so responses
are validated strictly and transient failures are retried.
*/

package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/logger"
)

var priceLogger = logger.GetForComponent("price_source")

var (
	ErrAPIConfiguration = errors.New("API configuration error")
	ErrRequestFailed    = errors.New("price request failed")
)

const (
	maxRetries     = 3
	requestTimeout = 30 * time.Second
	retryBackoff   = 2 * time.Second
)

// Client is a Source backed by the CryptoCompare spot price endpoint
// (GET {baseURL}?fsym=SYM&tsyms=USD).
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient validates the configuration and returns a live price client.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is empty", ErrAPIConfiguration)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid base URL: %w", ErrAPIConfiguration, err)
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}, nil
}

// Price implements Source. The endpoint returns the current spot price, so
// the quote is stamped with the request time.
func (c *Client) Price(ctx context.Context, symbol string, now time.Time) (Quote, error) {
	if symbol == "" {
		return Quote{}, fmt.Errorf("%w: empty symbol", ErrUnknownSymbol)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		quote, err := c.fetchOnce(ctx, symbol, now)
		if err == nil {
			return quote, nil
		}
		lastErr = err

		priceLogger.Warn().
			Err(err).
			Str("symbol", symbol).
			Int("attempt", attempt).
			Msg("Price fetch failed, will retry")

		select {
		case <-ctx.Done():
			return Quote{}, ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt)):
		}
	}

	return Quote{}, fmt.Errorf("%w: %s after %d attempts: %w", ErrRequestFailed, symbol, maxRetries, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, symbol string, now time.Time) (Quote, error) {
	reqURL := fmt.Sprintf("%s?fsym=%s&tsyms=USD", c.baseURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Apikey "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("request execution failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) == 0 {
		return Quote{}, errors.New("response body is empty")
	}

	var payload map[string]float64
	if err := json.Unmarshal(body, &payload); err != nil {
		return Quote{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	usd, ok := payload["USD"]
	if !ok {
		return Quote{}, fmt.Errorf("%w: no USD quote in response for %s", ErrInvalidPrice, symbol)
	}
	if math.IsNaN(usd) || math.IsInf(usd, 0) || usd <= 0 {
		return Quote{}, fmt.Errorf("%w: %s quoted at %f", ErrInvalidPrice, symbol, usd)
	}

	// Route through a decimal string so the float never touches vault math.
	price, err := sdkmath.LegacyNewDecFromStr(strconv.FormatFloat(usd, 'f', -1, 64))
	if err != nil {
		return Quote{}, fmt.Errorf("%w: failed to parse %f as decimal: %w", ErrInvalidPrice, usd, err)
	}

	priceLogger.Debug().
		Str("symbol", symbol).
		Str("priceUSD", price.String()).
		Msg("Fetched spot price")

	return Quote{Symbol: symbol, PriceUSD: price, LastUpdate: now}, nil
}
