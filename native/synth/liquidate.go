package synth

import (
	"fmt"
	"math/big"

	"synthengine/core/events"
	"synthengine/crypto"
)

// Liquidate forcibly redeems an unsafe user's collateral in exchange for the
// caller covering debtToCover of their synthetic debt. The caller receives the
// equivalent collateral amount plus a 10% bonus. Liquidation only proceeds
// against positions below the minimum health factor, must strictly improve the
// position, and must not leave the liquidator's own position unsafe.
func (e *Engine) Liquidate(caller, user crypto.Address, asset crypto.Address, debtToCover *big.Int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	if err := requirePositive(debtToCover); err != nil {
		return err
	}
	feedID, err := e.requireAllowed(asset)
	if err != nil {
		return err
	}
	if e.synthetic == nil {
		return ErrSynthNotConfigured
	}
	token, err := e.tokenFor(asset)
	if err != nil {
		return err
	}

	startingFactor, err := e.healthFactorView(e.state, user)
	if err != nil {
		return err
	}
	if startingFactor.Cmp(minHealthFactor) >= 0 {
		return fmt.Errorf("%w: %s", ErrHealthFactorOk, startingFactor)
	}

	tokenAmount, err := e.tokenAmountFromUSD(feedID, debtToCover)
	if err != nil {
		return err
	}
	bonus := new(big.Int).Mul(tokenAmount, big.NewInt(liquidationBonus))
	bonus.Quo(bonus, big.NewInt(liquidationPrecision))
	seizeAmount := new(big.Int).Add(tokenAmount, bonus)

	overlay := newOverlay(e.state)
	if err := e.stageCollateralDebit(overlay, user, asset, seizeAmount); err != nil {
		return err
	}
	if err := e.stageDebtDecrease(overlay, user, debtToCover); err != nil {
		return err
	}

	endingFactor, err := e.healthFactorView(overlay, user)
	if err != nil {
		return err
	}
	if endingFactor.Cmp(startingFactor) <= 0 {
		return fmt.Errorf("%w: %s -> %s", ErrHealthFactorNotImproved, startingFactor, endingFactor)
	}
	if err := e.assertSafe(overlay, caller); err != nil {
		return err
	}

	// Pull and burn the liquidator's synthetic before pushing collateral out,
	// so a collaborator failure cannot strand seized collateral outside the
	// engine with the debt still outstanding.
	ok, err := e.synthetic.TransferFrom(caller, e.moduleAddress, debtToCover)
	if err != nil || !ok {
		return transferError(err)
	}
	if err := e.synthetic.Burn(debtToCover); err != nil {
		// Return the pulled synthetic so the liquidator is made whole.
		_, _ = e.synthetic.TransferFrom(e.moduleAddress, caller, debtToCover)
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	ok, err = token.Transfer(caller, seizeAmount)
	if err != nil || !ok {
		// Restore the burned synthetic so the liquidator is made whole.
		_, _ = e.synthetic.Mint(caller, debtToCover)
		return transferError(err)
	}

	if err := overlay.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.SyntheticBurned{Payer: caller, OnBehalfOf: user, Amount: new(big.Int).Set(debtToCover)})
	e.emitter.Emit(events.CollateralRedeemed{From: user, To: caller, Asset: asset, Amount: new(big.Int).Set(seizeAmount)})
	e.emitter.Emit(events.PositionLiquidated{
		Liquidator:       caller,
		User:             user,
		Asset:            asset,
		DebtCovered:      new(big.Int).Set(debtToCover),
		CollateralSeized: new(big.Int).Set(seizeAmount),
	})
	return nil
}
