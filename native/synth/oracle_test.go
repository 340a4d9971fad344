package synth

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"
)

type errorFeed struct{}

func (errorFeed) LatestReading() (*big.Int, time.Time, error) {
	return nil, time.Time{}, fmt.Errorf("upstream offline")
}

func (errorFeed) Decimals() uint8 { return 8 }

func TestOracleNormalisesEightDecimalFeeds(t *testing.T) {
	oracle := NewOracle(0)
	feed := NewManualFeed(8)
	feed.Set(big.NewInt(200_000_000_000), time.Now()) // 2000 USD at 1e8
	oracle.Register("weth-usd", feed)

	price, err := oracle.PriceUSD("weth-usd")
	if err != nil {
		t.Fatalf("PriceUSD: %v", err)
	}
	if price.Cmp(usd(2000)) != 0 {
		t.Fatalf("price = %s, want %s", price, usd(2000))
	}
}

func TestOracleNormalisesHighPrecisionFeeds(t *testing.T) {
	oracle := NewOracle(0)
	feed := NewManualFeed(20)
	// 3 USD at 1e20 precision.
	feed.Set(new(big.Int).Mul(big.NewInt(3), new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)), time.Now())
	oracle.Register("dai-usd", feed)

	price, err := oracle.PriceUSD("dai-usd")
	if err != nil {
		t.Fatalf("PriceUSD: %v", err)
	}
	if price.Cmp(usd(3)) != 0 {
		t.Fatalf("price = %s, want %s", price, usd(3))
	}
}

func TestOracleUnknownFeed(t *testing.T) {
	oracle := NewOracle(0)
	if _, err := oracle.PriceUSD("missing"); !errors.Is(err, ErrFeedUnavailable) {
		t.Fatalf("expected ErrFeedUnavailable, got %v", err)
	}
}

func TestOracleFeedErrorSurfacesAsUnavailable(t *testing.T) {
	oracle := NewOracle(0)
	oracle.Register("weth-usd", errorFeed{})
	if _, err := oracle.PriceUSD("weth-usd"); !errors.Is(err, ErrFeedUnavailable) {
		t.Fatalf("expected ErrFeedUnavailable, got %v", err)
	}
}

func TestOracleRejectsNonPositivePrice(t *testing.T) {
	oracle := NewOracle(0)
	feed := NewManualFeed(8)
	feed.Set(big.NewInt(0), time.Now())
	oracle.Register("weth-usd", feed)
	if _, err := oracle.PriceUSD("weth-usd"); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestOracleStalenessWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	oracle := NewOracle(2 * time.Minute)
	oracle.SetClock(func() time.Time { return now })

	feed := NewManualFeed(8)
	oracle.Register("weth-usd", feed)

	feed.Set(big.NewInt(200_000_000_000), now.Add(-time.Minute))
	if _, err := oracle.PriceUSD("weth-usd"); err != nil {
		t.Fatalf("fresh reading rejected: %v", err)
	}

	feed.Set(big.NewInt(200_000_000_000), now.Add(-3*time.Minute))
	if _, err := oracle.PriceUSD("weth-usd"); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}

	// Disabling the window accepts the old reading again.
	oracle.SetMaxAge(0)
	if _, err := oracle.PriceUSD("weth-usd"); err != nil {
		t.Fatalf("reading rejected with staleness disabled: %v", err)
	}
}

func TestOracleFeedIDCasing(t *testing.T) {
	oracle := NewOracle(0)
	feed := NewManualFeed(8)
	feed.Set(big.NewInt(200_000_000_000), time.Now())
	oracle.Register("  WETH-USD ", feed)

	if _, err := oracle.PriceUSD("weth-usd"); err != nil {
		t.Fatalf("lowercase lookup: %v", err)
	}
	if _, err := oracle.PriceUSD("WETH-usd"); err != nil {
		t.Fatalf("mixed-case lookup: %v", err)
	}
}

func TestStalePriceBlocksOperations(t *testing.T) {
	f := newEngineFixture(t)
	f.mustDeposit(t, tokens(1))

	now := time.Now()
	f.oracle.SetMaxAge(2 * time.Minute)
	f.oracle.SetClock(func() time.Time { return now })
	f.feed.Set(big.NewInt(200_000_000_000), now.Add(-time.Hour))

	if err := f.engine.MintSynthetic(f.user, usd(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
	if _, err := f.engine.AccountCollateralValueUSD(f.user); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
}

func TestManualFeedSetDecimal(t *testing.T) {
	feed := NewManualFeed(8)
	if err := feed.SetDecimal("200000000000", time.Now()); err != nil {
		t.Fatalf("SetDecimal: %v", err)
	}
	price, _, err := feed.LatestReading()
	if err != nil {
		t.Fatalf("LatestReading: %v", err)
	}
	if price.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Fatalf("price = %s, want 200000000000", price)
	}

	for _, bad := range []string{"", "abc", "-5", "0"} {
		if err := feed.SetDecimal(bad, time.Now()); err == nil {
			t.Fatalf("SetDecimal(%q): expected error", bad)
		}
	}
}

func TestManualFeedWithoutReading(t *testing.T) {
	feed := NewManualFeed(8)
	if _, _, err := feed.LatestReading(); err == nil {
		t.Fatal("expected error for feed without a reading")
	}
}
