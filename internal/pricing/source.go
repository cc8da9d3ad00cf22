/*

Price Source collaborator contract. A Source returns a USD price per asset
symbol together with the time the quote was last updated; the vault core is
responsible for rejecting quotes older than its staleness window.

Normalize is the single place in the system where base-unit amounts meet
prices. Every USD value cached in the vault flows through it, so differing
asset decimal precision is handled once, centrally.

*/

package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownSymbol = errors.New("symbol is not known to this price source")
	ErrInvalidPrice  = errors.New("price data is invalid")
)

// Quote is one USD price observation.
type Quote struct {
	Symbol     string            `json:"symbol"`
	PriceUSD   sdkmath.LegacyDec `json:"price_usd"`
	LastUpdate time.Time         `json:"last_update"`
}

// Source provides USD prices with bounded freshness.
type Source interface {
	// Price returns the USD price of symbol as observed at or before now.
	Price(ctx context.Context, symbol string, now time.Time) (Quote, error)
}

// Normalize converts a base-unit amount at the given decimal precision into a
// USD value using the quoted price.
func Normalize(amount sdkmath.Int, decimals int, price sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if price.IsNil() || price.IsNegative() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: price must be a non-negative decimal", ErrInvalidPrice)
	}
	quantity, err := utils.AmountToDec(amount, decimals)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return quantity.Mul(price), nil
}

// Static is a fixed-price Source for tests and offline operation. Quotes are
// stamped with the caller's now, so they never go stale on their own.
type Static struct {
	Prices map[string]sdkmath.LegacyDec
}

// NewStatic builds a Static source from symbol -> price.
func NewStatic(prices map[string]sdkmath.LegacyDec) *Static {
	return &Static{Prices: prices}
}

// Price implements Source.
func (s *Static) Price(_ context.Context, symbol string, now time.Time) (Quote, error) {
	price, ok := s.Prices[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return Quote{Symbol: symbol, PriceUSD: price, LastUpdate: now}, nil
}
