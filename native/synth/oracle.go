package synth

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// PriceFeed exposes the latest reading of an external USD price source.
// Readings carry the feed's native fixed-point precision; the oracle adapter
// normalises them before they reach the risk engine.
type PriceFeed interface {
	LatestReading() (price *big.Int, updatedAt time.Time, err error)
	Decimals() uint8
}

// Oracle resolves feed identifiers to normalised 1e18-scale USD prices while
// enforcing a freshness window. Readings are never cached: every risk
// computation re-reads the feed so the engine cannot act on a stale in-memory
// copy.
type Oracle struct {
	mu     sync.RWMutex
	feeds  map[string]PriceFeed
	maxAge time.Duration
	now    func() time.Time
}

// NewOracle constructs an oracle adapter with the provided freshness window. A
// non-positive maxAge disables the staleness check, which is only appropriate
// for tests.
func NewOracle(maxAge time.Duration) *Oracle {
	return &Oracle{
		feeds:  make(map[string]PriceFeed),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// SetMaxAge updates the freshness window used when filtering readings.
func (o *Oracle) SetMaxAge(maxAge time.Duration) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.maxAge = maxAge
	o.mu.Unlock()
}

// SetClock overrides the time source. Tests use this to pin staleness checks.
func (o *Oracle) SetClock(now func() time.Time) {
	if o == nil || now == nil {
		return
	}
	o.mu.Lock()
	o.now = now
	o.mu.Unlock()
}

// Register adds or replaces a feed under the supplied identifier. Identifiers
// are stored in lowercase so lookups remain consistent regardless of the
// configuration casing.
func (o *Oracle) Register(feedID string, feed PriceFeed) {
	if o == nil || feed == nil {
		return
	}
	trimmed := normaliseFeedID(feedID)
	if trimmed == "" {
		return
	}
	o.mu.Lock()
	o.feeds[trimmed] = feed
	o.mu.Unlock()
}

// PriceUSD reads the feed and returns the price normalised to the engine's
// 1e18 USD scale. It fails with ErrFeedUnavailable for unknown identifiers,
// ErrStalePrice when the reading is older than the freshness window and
// ErrInvalidPrice for non-positive readings.
func (o *Oracle) PriceUSD(feedID string) (*big.Int, error) {
	if o == nil {
		return nil, ErrOracleNotConfigured
	}
	trimmed := normaliseFeedID(feedID)
	o.mu.RLock()
	feed := o.feeds[trimmed]
	maxAge := o.maxAge
	now := o.now
	o.mu.RUnlock()
	if feed == nil {
		return nil, fmt.Errorf("%w: %s", ErrFeedUnavailable, feedID)
	}
	price, updatedAt, err := feed.LatestReading()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, feedID, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, feedID)
	}
	if maxAge > 0 {
		cutoff := now().Add(-maxAge)
		if updatedAt.Before(cutoff) {
			return nil, fmt.Errorf("%w: %s last updated %s", ErrStalePrice, feedID, updatedAt.UTC().Format(time.RFC3339))
		}
	}
	return normalisePrice(price, feed.Decimals()), nil
}

// normalisePrice converts a reading from the feed's native precision to the
// engine's 18-decimal scale.
func normalisePrice(price *big.Int, decimals uint8) *big.Int {
	normalised := new(big.Int).Set(price)
	switch {
	case decimals < 18:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil)
		normalised.Mul(normalised, factor)
	case decimals > 18:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-18)), nil)
		normalised.Quo(normalised, factor)
	}
	return normalised
}

func normaliseFeedID(feedID string) string {
	return strings.ToLower(strings.TrimSpace(feedID))
}

// ManualFeed provides an in-memory feed implementation used for tests and
// manual overrides during incident response.
type ManualFeed struct {
	mu        sync.RWMutex
	price     *big.Int
	updatedAt time.Time
	decimals  uint8
}

// NewManualFeed constructs a manual feed reporting values at the supplied
// precision.
func NewManualFeed(decimals uint8) *ManualFeed {
	return &ManualFeed{decimals: decimals}
}

// Set records the supplied price with the provided observation timestamp.
func (f *ManualFeed) Set(price *big.Int, updatedAt time.Time) {
	if f == nil || price == nil {
		return
	}
	f.mu.Lock()
	f.price = new(big.Int).Set(price)
	f.updatedAt = updatedAt
	f.mu.Unlock()
}

// SetDecimal parses a decimal string in the feed's native precision. It exists
// so RPC overrides can submit prices without binary encoding.
func (f *ManualFeed) SetDecimal(price string, updatedAt time.Time) error {
	if f == nil {
		return fmt.Errorf("manual feed not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("manual feed: price required")
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return fmt.Errorf("manual feed: invalid price %q", price)
	}
	if parsed.Sign() <= 0 {
		return fmt.Errorf("manual feed: price must be positive")
	}
	f.Set(parsed, updatedAt)
	return nil
}

func (f *ManualFeed) LatestReading() (*big.Int, time.Time, error) {
	if f == nil {
		return nil, time.Time{}, fmt.Errorf("manual feed not configured")
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, time.Time{}, fmt.Errorf("manual feed: no reading recorded")
	}
	return new(big.Int).Set(f.price), f.updatedAt, nil
}

func (f *ManualFeed) Decimals() uint8 {
	if f == nil {
		return 0
	}
	return f.decimals
}
