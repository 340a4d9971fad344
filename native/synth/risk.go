package synth

import (
	"fmt"
	"math/big"

	"synthengine/crypto"
)

// Risk constants. The liquidation threshold of 50% combined with the 1e18
// minimum health factor enforces a 2x overcollateralization requirement.
// Threshold and health factor scales must never be mixed: the threshold is a
// plain percentage while health factors carry the 1e18 scale.
const (
	liquidationThreshold = 50
	liquidationPrecision = 100
	liquidationBonus     = 10
)

var (
	precision       = big.NewInt(1_000_000_000_000_000_000)
	minHealthFactor = new(big.Int).Set(precision)
	maxHealthFactor = func() *big.Int {
		max := new(big.Int).Lsh(big.NewInt(1), 256)
		return max.Sub(max, big.NewInt(1))
	}()
)

// MinHealthFactor returns the 1e18-scaled threshold below which a position is
// liquidatable.
func MinHealthFactor() *big.Int { return new(big.Int).Set(minHealthFactor) }

// MaxHealthFactor returns the sentinel health factor reported for debt-free
// positions.
func MaxHealthFactor() *big.Int { return new(big.Int).Set(maxHealthFactor) }

// CalculateHealthFactor derives the 1e18-scaled solvency ratio from raw debt
// and collateral valuations. A debt-free position can never be at risk and
// reports the maximum representable value.
func CalculateHealthFactor(debtUSD, collateralValueUSD *big.Int) *big.Int {
	if debtUSD == nil || debtUSD.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor)
	}
	adjusted := new(big.Int).Mul(collateralValueUSD, big.NewInt(liquidationThreshold))
	adjusted.Quo(adjusted, big.NewInt(liquidationPrecision))
	ratio := adjusted.Mul(adjusted, precision)
	return ratio.Quo(ratio, debtUSD)
}

// collateralValueView sums the oracle valuation of every allow-listed asset
// held by the user against the supplied state view. Prices are read fresh per
// asset; assets with a zero balance are skipped so an idle feed cannot block
// positions that never touched it.
func (e *Engine) collateralValueView(view State, user crypto.Address) (*big.Int, error) {
	if e.oracle == nil {
		return nil, ErrOracleNotConfigured
	}
	total := big.NewInt(0)
	for _, entry := range e.assets {
		balance, err := view.CollateralBalance(user, entry.Asset)
		if err != nil {
			return nil, err
		}
		if balance.Sign() == 0 {
			continue
		}
		price, err := e.oracle.PriceUSD(entry.FeedID)
		if err != nil {
			return nil, err
		}
		value := new(big.Int).Mul(balance, price)
		value.Quo(value, precision)
		total.Add(total, value)
	}
	return total, nil
}

func (e *Engine) healthFactorView(view State, user crypto.Address) (*big.Int, error) {
	debt, err := view.Debt(user)
	if err != nil {
		return nil, err
	}
	if debt.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor), nil
	}
	value, err := e.collateralValueView(view, user)
	if err != nil {
		return nil, err
	}
	return CalculateHealthFactor(debt, value), nil
}

// assertSafe fails when the user's projected health factor sits below the
// minimum. It runs at the end of every operation that can reduce a position's
// safety margin.
func (e *Engine) assertSafe(view State, user crypto.Address) error {
	factor, err := e.healthFactorView(view, user)
	if err != nil {
		return err
	}
	if factor.Cmp(minHealthFactor) < 0 {
		return fmt.Errorf("%w: %s", ErrHealthFactorTooLow, factor)
	}
	return nil
}

// tokenAmountFromUSD converts an 18-decimal USD amount into collateral units
// via the asset's inverse price.
func (e *Engine) tokenAmountFromUSD(feedID string, usdAmount *big.Int) (*big.Int, error) {
	if e.oracle == nil {
		return nil, ErrOracleNotConfigured
	}
	price, err := e.oracle.PriceUSD(feedID)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Mul(usdAmount, precision)
	return amount.Quo(amount, price), nil
}
