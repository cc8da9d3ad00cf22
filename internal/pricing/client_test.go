package pricing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cvm/internal/pricing"
)

func TestClientFetchesSpotPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "USDC", r.URL.Query().Get("fsym"))
		require.Equal(t, "USD", r.URL.Query().Get("tsyms"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"USD": 0.9998}`))
	}))
	defer server.Close()

	client, err := pricing.NewClient(server.URL, "")
	require.NoError(t, err)

	now := time.Now().UTC()
	quote, err := client.Price(context.Background(), "USDC", now)
	require.NoError(t, err)
	require.Equal(t, "USDC", quote.Symbol)
	require.True(t, quote.PriceUSD.Equal(sdkmath.LegacyMustNewDecFromStr("0.9998")))
	require.Equal(t, now, quote.LastUpdate)
}

func TestClientSendsAPIKeyHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Apikey secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"USD": 1.0}`))
	}))
	defer server.Close()

	client, err := pricing.NewClient(server.URL, "secret")
	require.NoError(t, err)

	_, err = client.Price(context.Background(), "USDC", time.Now().UTC())
	require.NoError(t, err)
}

func TestClientRejectsNonPositivePrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"USD": 0}`))
	}))
	defer server.Close()

	client, err := pricing.NewClient(server.URL, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // skip the retry backoff

	_, err = client.Price(ctx, "USDC", time.Now().UTC())
	require.Error(t, err)
}

func TestClientRejectsMissingUSDQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"EUR": 0.92}`))
	}))
	defer server.Close()

	client, err := pricing.NewClient(server.URL, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.Price(ctx, "USDC", time.Now().UTC())
	require.Error(t, err)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := pricing.NewClient("", "")
	require.ErrorIs(t, err, pricing.ErrAPIConfiguration)
}
