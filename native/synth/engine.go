package synth

import (
	"fmt"
	"math/big"
	"sync"

	"synthengine/core/events"
	"synthengine/crypto"
	nativecommon "synthengine/native/common"
)

const moduleName = "synth"

// Engine composes the collateral ledger, debt ledger, risk engine and
// liquidation manager into the public operation set. Caller identity is an
// explicit parameter on every mutating operation; the engine has no notion of
// an ambient transaction sender.
//
// Every mutating operation is guarded by a try-lock: a call arriving while
// another operation is in flight (a nested callback from a collaborator ledger
// or a concurrent goroutine) fails with ErrEngineBusy instead of interleaving.
// State mutations are staged in an overlay and committed only after every
// solvency check and collaborator call succeeds, so a failed operation leaves
// no observable engine-side effects.
type Engine struct {
	opLock sync.Mutex

	moduleAddress crypto.Address
	assets        []CollateralAsset
	feedByAsset   map[string]string

	state     State
	oracle    *Oracle
	synthetic SyntheticLedger
	tokens    map[string]TokenLedger

	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewEngine constructs an engine with its immutable collateral allow-list. The
// asset and feed lists are positional pairs and must have equal length. The
// module address is the engine's custody account on the collaborator ledgers.
func NewEngine(moduleAddr crypto.Address, assets []crypto.Address, feedIDs []string, synthetic SyntheticLedger) (*Engine, error) {
	if len(assets) != len(feedIDs) {
		return nil, fmt.Errorf("%w: %d assets, %d feeds", ErrLengthMismatch, len(assets), len(feedIDs))
	}
	engine := &Engine{
		moduleAddress: moduleAddr,
		assets:        make([]CollateralAsset, 0, len(assets)),
		feedByAsset:   make(map[string]string, len(assets)),
		synthetic:     synthetic,
		tokens:        make(map[string]TokenLedger),
		emitter:       events.NoopEmitter{},
	}
	for i, asset := range assets {
		feedID := normaliseFeedID(feedIDs[i])
		engine.assets = append(engine.assets, CollateralAsset{Asset: asset, FeedID: feedID})
		engine.feedByAsset[assetKey(asset)] = feedID
	}
	return engine, nil
}

// SetState wires the engine to its position bookkeeping store.
func (e *Engine) SetState(state State) { e.state = state }

// SetOracle wires the price oracle adapter consulted by the risk engine.
func (e *Engine) SetOracle(oracle *Oracle) { e.oracle = oracle }

// SetTokenLedger registers the transfer interface for an allow-listed asset.
func (e *Engine) SetTokenLedger(asset crypto.Address, ledger TokenLedger) {
	if e == nil || ledger == nil {
		return
	}
	e.tokens[assetKey(asset)] = ledger
}

// SetEmitter wires the event sink. A nil emitter restores the discard default.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// ModuleAddress returns the engine's custody account address.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

func assetKey(asset crypto.Address) string { return string(asset.Bytes()) }

// begin acquires the single-entrant guard and validates the shared wiring.
// The returned release func must be deferred on every exit path.
func (e *Engine) begin() (func(), error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if !e.opLock.TryLock() {
		return nil, ErrEngineBusy
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		e.opLock.Unlock()
		return nil, err
	}
	return e.opLock.Unlock, nil
}

func (e *Engine) requireAllowed(asset crypto.Address) (string, error) {
	feedID, ok := e.feedByAsset[assetKey(asset)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAssetNotAllowed, asset)
	}
	return feedID, nil
}

func (e *Engine) tokenFor(asset crypto.Address) (TokenLedger, error) {
	ledger, ok := e.tokens[assetKey(asset)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotConfigured, asset)
	}
	return ledger, nil
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountMustBePositive
	}
	return nil
}

// DepositCollateral credits the caller's balance for the asset and pulls the
// amount from the caller into engine custody. A failed pull leaves no state
// change behind.
func (e *Engine) DepositCollateral(caller, asset crypto.Address, amount *big.Int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	if err := requirePositive(amount); err != nil {
		return err
	}
	if _, err := e.requireAllowed(asset); err != nil {
		return err
	}
	token, err := e.tokenFor(asset)
	if err != nil {
		return err
	}

	overlay := newOverlay(e.state)
	if err := e.stageCollateralCredit(overlay, caller, asset, amount); err != nil {
		return err
	}

	ok, err := token.TransferFrom(caller, e.moduleAddress, amount)
	if err != nil || !ok {
		return transferError(err)
	}

	if err := overlay.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralDeposited{User: caller, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// RedeemCollateral debits the caller's balance and pushes the amount back to
// them, provided the remaining position stays safe.
func (e *Engine) RedeemCollateral(caller, asset crypto.Address, amount *big.Int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	return e.redeemCollateral(caller, asset, amount, caller)
}

// redeemCollateral is the shared redemption path. The caller must hold the
// operation lock. Collateral moves from the "from" position to the "to"
// account; the solvency check applies to "from".
func (e *Engine) redeemCollateral(from crypto.Address, asset crypto.Address, amount *big.Int, to crypto.Address) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if _, err := e.requireAllowed(asset); err != nil {
		return err
	}
	token, err := e.tokenFor(asset)
	if err != nil {
		return err
	}

	overlay := newOverlay(e.state)
	if err := e.stageCollateralDebit(overlay, from, asset, amount); err != nil {
		return err
	}
	if err := e.assertSafe(overlay, from); err != nil {
		return err
	}

	ok, err := token.Transfer(to, amount)
	if err != nil || !ok {
		return transferError(err)
	}

	if err := overlay.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralRedeemed{From: from, To: to, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// MintSynthetic issues synthetic debt to the caller after verifying the
// position remains overcollateralized with the projected debt.
func (e *Engine) MintSynthetic(caller crypto.Address, amount *big.Int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	return e.mintSynthetic(caller, amount)
}

func (e *Engine) mintSynthetic(caller crypto.Address, amount *big.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if e.synthetic == nil {
		return ErrSynthNotConfigured
	}

	overlay := newOverlay(e.state)
	if err := e.stageDebtIncrease(overlay, caller, amount); err != nil {
		return err
	}
	if err := e.assertSafe(overlay, caller); err != nil {
		return err
	}

	ok, err := e.synthetic.Mint(caller, amount)
	if err != nil || !ok {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMintFailed, err)
		}
		return ErrMintFailed
	}

	if err := overlay.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.SyntheticMinted{User: caller, Amount: new(big.Int).Set(amount)})
	return nil
}

// BurnSynthetic retires the caller's own debt, paid from their synthetic
// balance.
func (e *Engine) BurnSynthetic(caller crypto.Address, amount *big.Int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	return e.burnSynthetic(caller, caller, amount)
}

// burnSynthetic decreases onBehalfOf's debt, pulls the synthetic amount from
// the payer into engine custody and burns it. The caller must hold the
// operation lock.
func (e *Engine) burnSynthetic(payer, onBehalfOf crypto.Address, amount *big.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if e.synthetic == nil {
		return ErrSynthNotConfigured
	}

	overlay := newOverlay(e.state)
	if err := e.stageDebtDecrease(overlay, onBehalfOf, amount); err != nil {
		return err
	}

	ok, err := e.synthetic.TransferFrom(payer, e.moduleAddress, amount)
	if err != nil || !ok {
		return transferError(err)
	}
	if err := e.synthetic.Burn(amount); err != nil {
		// Return the pulled synthetic so the payer is made whole.
		_, _ = e.synthetic.TransferFrom(e.moduleAddress, payer, amount)
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}

	if err := overlay.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.SyntheticBurned{Payer: payer, OnBehalfOf: onBehalfOf, Amount: new(big.Int).Set(amount)})
	return nil
}

// DepositCollateralAndMint performs deposit and mint as one atomic operation.
// The solvency check runs on the projected position before any collaborator
// call; a mint failure after the collateral pull is compensated by returning
// the pulled collateral.
func (e *Engine) DepositCollateralAndMint(caller, asset crypto.Address, amountCollateral, amountMint *big.Int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	if err := requirePositive(amountCollateral); err != nil {
		return err
	}
	if err := requirePositive(amountMint); err != nil {
		return err
	}
	if _, err := e.requireAllowed(asset); err != nil {
		return err
	}
	if e.synthetic == nil {
		return ErrSynthNotConfigured
	}
	token, err := e.tokenFor(asset)
	if err != nil {
		return err
	}

	overlay := newOverlay(e.state)
	if err := e.stageCollateralCredit(overlay, caller, asset, amountCollateral); err != nil {
		return err
	}
	if err := e.stageDebtIncrease(overlay, caller, amountMint); err != nil {
		return err
	}
	if err := e.assertSafe(overlay, caller); err != nil {
		return err
	}

	ok, err := token.TransferFrom(caller, e.moduleAddress, amountCollateral)
	if err != nil || !ok {
		return transferError(err)
	}
	ok, err = e.synthetic.Mint(caller, amountMint)
	if err != nil || !ok {
		// Return the pulled collateral so the caller is made whole.
		_, _ = token.Transfer(caller, amountCollateral)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMintFailed, err)
		}
		return ErrMintFailed
	}

	if err := overlay.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralDeposited{User: caller, Asset: asset, Amount: new(big.Int).Set(amountCollateral)})
	e.emitter.Emit(events.SyntheticMinted{User: caller, Amount: new(big.Int).Set(amountMint)})
	return nil
}

// RedeemCollateralForSynthetic burns synthetic debt and redeems collateral as
// one atomic operation. A collateral push failure after the burn is
// compensated by re-minting the burned amount to the caller.
func (e *Engine) RedeemCollateralForSynthetic(caller, asset crypto.Address, amountCollateral, amountBurn *big.Int) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	if err := requirePositive(amountCollateral); err != nil {
		return err
	}
	if err := requirePositive(amountBurn); err != nil {
		return err
	}
	if _, err := e.requireAllowed(asset); err != nil {
		return err
	}
	if e.synthetic == nil {
		return ErrSynthNotConfigured
	}
	token, err := e.tokenFor(asset)
	if err != nil {
		return err
	}

	overlay := newOverlay(e.state)
	if err := e.stageDebtDecrease(overlay, caller, amountBurn); err != nil {
		return err
	}
	if err := e.stageCollateralDebit(overlay, caller, asset, amountCollateral); err != nil {
		return err
	}
	if err := e.assertSafe(overlay, caller); err != nil {
		return err
	}

	ok, err := e.synthetic.TransferFrom(caller, e.moduleAddress, amountBurn)
	if err != nil || !ok {
		return transferError(err)
	}
	if err := e.synthetic.Burn(amountBurn); err != nil {
		// Return the pulled synthetic so the caller is made whole.
		_, _ = e.synthetic.TransferFrom(e.moduleAddress, caller, amountBurn)
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	ok, err = token.Transfer(caller, amountCollateral)
	if err != nil || !ok {
		// Restore the burned synthetic so the caller is made whole.
		_, _ = e.synthetic.Mint(caller, amountBurn)
		return transferError(err)
	}

	if err := overlay.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.SyntheticBurned{Payer: caller, OnBehalfOf: caller, Amount: new(big.Int).Set(amountBurn)})
	e.emitter.Emit(events.CollateralRedeemed{From: caller, To: caller, Asset: asset, Amount: new(big.Int).Set(amountCollateral)})
	return nil
}

// --- staging helpers ---

func (e *Engine) stageCollateralCredit(overlay *stateOverlay, user, asset crypto.Address, amount *big.Int) error {
	balance, err := overlay.CollateralBalance(user, asset)
	if err != nil {
		return err
	}
	return overlay.SetCollateralBalance(user, asset, new(big.Int).Add(balance, amount))
}

func (e *Engine) stageCollateralDebit(overlay *stateOverlay, user, asset crypto.Address, amount *big.Int) error {
	balance, err := overlay.CollateralBalance(user, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientCollateral, balance, amount)
	}
	return overlay.SetCollateralBalance(user, asset, new(big.Int).Sub(balance, amount))
}

func (e *Engine) stageDebtIncrease(overlay *stateOverlay, user crypto.Address, amount *big.Int) error {
	debt, err := overlay.Debt(user)
	if err != nil {
		return err
	}
	return overlay.SetDebt(user, new(big.Int).Add(debt, amount))
}

func (e *Engine) stageDebtDecrease(overlay *stateOverlay, user crypto.Address, amount *big.Int) error {
	debt, err := overlay.Debt(user)
	if err != nil {
		return err
	}
	if debt.Cmp(amount) < 0 {
		return fmt.Errorf("%w: outstanding %s, burning %s", ErrBurnFailed, debt, amount)
	}
	return overlay.SetDebt(user, new(big.Int).Sub(debt, amount))
}

func transferError(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return ErrTransferFailed
}

// --- queries ---
//
// Queries are side-effect free reads. They intentionally skip the operation
// guard so collaborator ledgers may consult the engine mid-operation without
// deadlocking; State implementations are internally synchronized.

// CollateralBalance returns the deposited amount for a user and asset.
func (e *Engine) CollateralBalance(user, asset crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, err := e.requireAllowed(asset); err != nil {
		return nil, err
	}
	return e.state.CollateralBalance(user, asset)
}

// DebtOf returns the user's outstanding synthetic debt.
func (e *Engine) DebtOf(user crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.Debt(user)
}

// AccountCollateralValueUSD returns the oracle valuation of the user's
// deposited collateral in 18-decimal USD units.
func (e *Engine) AccountCollateralValueUSD(user crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.collateralValueView(e.state, user)
}

// HealthFactor computes the user's current 1e18-scaled solvency ratio.
func (e *Engine) HealthFactor(user crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.healthFactorView(e.state, user)
}

// AccountInformation bundles debt, collateral valuation and health factor.
func (e *Engine) AccountInformation(user crypto.Address) (AccountInformation, error) {
	if e == nil || e.state == nil {
		return AccountInformation{}, ErrNilState
	}
	debt, err := e.state.Debt(user)
	if err != nil {
		return AccountInformation{}, err
	}
	value, err := e.collateralValueView(e.state, user)
	if err != nil {
		return AccountInformation{}, err
	}
	return AccountInformation{
		DebtUSD:            debt,
		CollateralValueUSD: value,
		HealthFactor:       CalculateHealthFactor(debt, value),
	}, nil
}

// CollateralAssets returns the immutable allow-list in construction order.
func (e *Engine) CollateralAssets() []CollateralAsset {
	if e == nil {
		return nil
	}
	return append([]CollateralAsset(nil), e.assets...)
}

// FeedFor returns the price feed identifier paired with an allow-listed asset.
func (e *Engine) FeedFor(asset crypto.Address) (string, error) {
	if e == nil {
		return "", ErrNilState
	}
	return e.requireAllowed(asset)
}
