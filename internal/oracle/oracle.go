// Package oracle supplies current market prices for held symbols.
//
// The ledger never fetches prices itself — it only consumes a pre-fetched
// symbol→price map. Everything network-shaped (broker sessions, retries,
// quote parsing) lives here, behind the PriceSource port.
package oracle

import "context"

// PriceSource returns current prices for the requested symbols.
// Symbols without a known quote are simply absent from the result map;
// callers fall back to cost basis for those.
type PriceSource interface {
	Quotes(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Static is a fixed price table, used in development and tests.
type Static map[string]float64

// Quotes returns the subset of the table covering the requested symbols.
func (s Static) Quotes(_ context.Context, symbols []string) (map[string]float64, error) {
	quotes := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if price, ok := s[sym]; ok {
			quotes[sym] = price
		}
	}
	return quotes, nil
}
