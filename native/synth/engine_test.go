package synth

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"synthengine/core/events"
	"synthengine/crypto"
	nativecommon "synthengine/native/common"
)

func testAddr(prefix crypto.AddressPrefix, seed byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = seed
	}
	return crypto.NewAddress(prefix, raw)
}

func tokens(n int64) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return unit.Mul(unit, big.NewInt(n))
}

func usd(n int64) *big.Int { return tokens(n) }

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

type engineFixture struct {
	engine  *Engine
	state   *MemoryState
	oracle  *Oracle
	feed    *ManualFeed
	token   *MemoryToken
	synth   *MemorySynth
	emitter *captureEmitter

	module crypto.Address
	user   crypto.Address
	asset  crypto.Address
}

// newEngineFixture wires a single-asset engine priced at 2000 USD per unit
// through an 8-decimal feed, with the user funded for ten collateral units.
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	module := testAddr(crypto.AccountPrefix, 0xAA)
	user := testAddr(crypto.AccountPrefix, 0x01)
	asset := testAddr(crypto.AssetPrefix, 0x10)

	synthetic := NewMemorySynth(module)
	engine, err := NewEngine(module, []crypto.Address{asset}, []string{"weth-usd"}, synthetic)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	state := NewMemoryState()
	engine.SetState(state)

	oracle := NewOracle(0)
	feed := NewManualFeed(8)
	feed.Set(big.NewInt(200_000_000_000), time.Now())
	oracle.Register("weth-usd", feed)
	engine.SetOracle(oracle)

	token := NewMemoryToken(module)
	token.SetBalance(user, tokens(10))
	engine.SetTokenLedger(asset, token)

	emitter := &captureEmitter{}
	engine.SetEmitter(emitter)

	return &engineFixture{
		engine:  engine,
		state:   state,
		oracle:  oracle,
		feed:    feed,
		token:   token,
		synth:   synthetic,
		emitter: emitter,
		module:  module,
		user:    user,
		asset:   asset,
	}
}

func (f *engineFixture) mustDeposit(t *testing.T, amount *big.Int) {
	t.Helper()
	if err := f.engine.DepositCollateral(f.user, f.asset, amount); err != nil {
		t.Fatalf("DepositCollateral: %v", err)
	}
}

func (f *engineFixture) mustMint(t *testing.T, amount *big.Int) {
	t.Helper()
	if err := f.engine.MintSynthetic(f.user, amount); err != nil {
		t.Fatalf("MintSynthetic: %v", err)
	}
}

func (f *engineFixture) collateralBalance(t *testing.T) *big.Int {
	t.Helper()
	balance, err := f.engine.CollateralBalance(f.user, f.asset)
	if err != nil {
		t.Fatalf("CollateralBalance: %v", err)
	}
	return balance
}

func (f *engineFixture) debt(t *testing.T) *big.Int {
	t.Helper()
	debt, err := f.engine.DebtOf(f.user)
	if err != nil {
		t.Fatalf("DebtOf: %v", err)
	}
	return debt
}

func TestNewEngineRejectsLengthMismatch(t *testing.T) {
	module := testAddr(crypto.AccountPrefix, 0xAA)
	asset := testAddr(crypto.AssetPrefix, 0x10)
	_, err := NewEngine(module, []crypto.Address{asset}, []string{"a", "b"}, NewMemorySynth(module))
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestDepositCollateral(t *testing.T) {
	f := newEngineFixture(t)
	f.mustDeposit(t, tokens(2))

	if got := f.collateralBalance(t); got.Cmp(tokens(2)) != 0 {
		t.Fatalf("collateral balance = %s, want %s", got, tokens(2))
	}
	if got := f.token.BalanceOf(f.module); got.Cmp(tokens(2)) != 0 {
		t.Fatalf("custody balance = %s, want %s", got, tokens(2))
	}
	if got := f.token.BalanceOf(f.user); got.Cmp(tokens(8)) != 0 {
		t.Fatalf("user balance = %s, want %s", got, tokens(8))
	}
	if len(f.emitter.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.emitter.events))
	}
	evt, ok := f.emitter.events[0].(events.CollateralDeposited)
	if !ok {
		t.Fatalf("expected CollateralDeposited, got %T", f.emitter.events[0])
	}
	if evt.Amount.Cmp(tokens(2)) != 0 {
		t.Fatalf("event amount = %s, want %s", evt.Amount, tokens(2))
	}
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	f := newEngineFixture(t)
	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		if err := f.engine.DepositCollateral(f.user, f.asset, amount); !errors.Is(err, ErrAmountMustBePositive) {
			t.Fatalf("amount %v: expected ErrAmountMustBePositive, got %v", amount, err)
		}
	}
}

func TestDepositRejectsUnlistedAsset(t *testing.T) {
	f := newEngineFixture(t)
	stray := testAddr(crypto.AssetPrefix, 0x99)
	if err := f.engine.DepositCollateral(f.user, stray, tokens(1)); !errors.Is(err, ErrAssetNotAllowed) {
		t.Fatalf("expected ErrAssetNotAllowed, got %v", err)
	}
}

func TestDepositTransferFailureLeavesNoState(t *testing.T) {
	f := newEngineFixture(t)
	// Asking for more than the user holds makes the pull fail.
	if err := f.engine.DepositCollateral(f.user, f.asset, tokens(11)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if got := f.collateralBalance(t); got.Sign() != 0 {
		t.Fatalf("collateral balance = %s after failed deposit, want 0", got)
	}
	if got := f.token.BalanceOf(f.user); got.Cmp(tokens(10)) != 0 {
		t.Fatalf("user balance = %s after failed deposit, want %s", got, tokens(10))
	}
	if len(f.emitter.events) != 0 {
		t.Fatalf("expected no events, got %d", len(f.emitter.events))
	}
}

func TestMintUpToThreshold(t *testing.T) {
	f := newEngineFixture(t)
	f.token.SetBalance(f.user, tokens(13))
	f.mustDeposit(t, tokens(13))

	// 13 units at 2000 USD value 26000; the 50% threshold caps debt at 13000.
	f.mustMint(t, usd(13000))
	if got := f.debt(t); got.Cmp(usd(13000)) != 0 {
		t.Fatalf("debt = %s, want %s", got, usd(13000))
	}
	if got := f.synth.BalanceOf(f.user); got.Cmp(usd(13000)) != 0 {
		t.Fatalf("synth balance = %s, want %s", got, usd(13000))
	}

	if err := f.engine.MintSynthetic(f.user, big.NewInt(1)); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("expected ErrHealthFactorTooLow, got %v", err)
	}
	if got := f.debt(t); got.Cmp(usd(13000)) != 0 {
		t.Fatalf("debt = %s after rejected mint, want %s", got, usd(13000))
	}
}

func TestMintWithoutCollateral(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.MintSynthetic(f.user, usd(1)); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("expected ErrHealthFactorTooLow, got %v", err)
	}
}

func TestRedeemCollateralRoundTrip(t *testing.T) {
	f := newEngineFixture(t)
	f.mustDeposit(t, tokens(3))
	if err := f.engine.RedeemCollateral(f.user, f.asset, tokens(3)); err != nil {
		t.Fatalf("RedeemCollateral: %v", err)
	}
	if got := f.collateralBalance(t); got.Sign() != 0 {
		t.Fatalf("collateral balance = %s, want 0", got)
	}
	if got := f.token.BalanceOf(f.user); got.Cmp(tokens(10)) != 0 {
		t.Fatalf("user balance = %s, want %s", got, tokens(10))
	}
}

func TestRedeemMoreThanDeposited(t *testing.T) {
	f := newEngineFixture(t)
	f.mustDeposit(t, tokens(1))
	if err := f.engine.RedeemCollateral(f.user, f.asset, tokens(2)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
}

func TestRedeemBlockedWhenPositionWouldTurnUnsafe(t *testing.T) {
	f := newEngineFixture(t)
	f.mustDeposit(t, tokens(1))
	f.mustMint(t, usd(1000))

	if err := f.engine.RedeemCollateral(f.user, f.asset, big.NewInt(1)); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("expected ErrHealthFactorTooLow, got %v", err)
	}
	if got := f.collateralBalance(t); got.Cmp(tokens(1)) != 0 {
		t.Fatalf("collateral balance = %s after rejected redeem, want %s", got, tokens(1))
	}
}

func TestBurnReducesDebt(t *testing.T) {
	f := newEngineFixture(t)
	f.mustDeposit(t, tokens(1))
	f.mustMint(t, usd(400))

	if err := f.engine.BurnSynthetic(f.user, usd(150)); err != nil {
		t.Fatalf("BurnSynthetic: %v", err)
	}
	if got := f.debt(t); got.Cmp(usd(250)) != 0 {
		t.Fatalf("debt = %s, want %s", got, usd(250))
	}
	if got := f.synth.TotalSupply(); got.Cmp(usd(250)) != 0 {
		t.Fatalf("supply = %s, want %s", got, usd(250))
	}
}

func TestBurnMoreThanOutstanding(t *testing.T) {
	f := newEngineFixture(t)
	f.mustDeposit(t, tokens(1))
	f.mustMint(t, usd(100))
	if err := f.engine.BurnSynthetic(f.user, usd(101)); !errors.Is(err, ErrBurnFailed) {
		t.Fatalf("expected ErrBurnFailed, got %v", err)
	}
	if got := f.debt(t); got.Cmp(usd(100)) != 0 {
		t.Fatalf("debt = %s after rejected burn, want %s", got, usd(100))
	}
}

func TestDepositCollateralAndMint(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.DepositCollateralAndMint(f.user, f.asset, tokens(2), usd(2000)); err != nil {
		t.Fatalf("DepositCollateralAndMint: %v", err)
	}
	if got := f.collateralBalance(t); got.Cmp(tokens(2)) != 0 {
		t.Fatalf("collateral balance = %s, want %s", got, tokens(2))
	}
	if got := f.debt(t); got.Cmp(usd(2000)) != 0 {
		t.Fatalf("debt = %s, want %s", got, usd(2000))
	}
}

func TestDepositCollateralAndMintRejectsUnsafeProjection(t *testing.T) {
	f := newEngineFixture(t)
	// One unit supports at most 1000 of debt; the whole operation must fail
	// before any token moves.
	if err := f.engine.DepositCollateralAndMint(f.user, f.asset, tokens(1), usd(1001)); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("expected ErrHealthFactorTooLow, got %v", err)
	}
	if got := f.collateralBalance(t); got.Sign() != 0 {
		t.Fatalf("collateral balance = %s, want 0", got)
	}
	if got := f.token.BalanceOf(f.user); got.Cmp(tokens(10)) != 0 {
		t.Fatalf("user balance = %s, want %s", got, tokens(10))
	}
}

type mintFailSynth struct {
	*MemorySynth
}

func (m *mintFailSynth) Mint(crypto.Address, *big.Int) (bool, error) {
	return false, fmt.Errorf("mint offline")
}

func TestDepositCollateralAndMintCompensatesFailedMint(t *testing.T) {
	f := newEngineFixture(t)
	module := f.module
	engine, err := NewEngine(module, []crypto.Address{f.asset}, []string{"weth-usd"}, &mintFailSynth{NewMemorySynth(module)})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	engine.SetState(NewMemoryState())
	engine.SetOracle(f.oracle)
	engine.SetTokenLedger(f.asset, f.token)

	if err := engine.DepositCollateralAndMint(f.user, f.asset, tokens(2), usd(100)); !errors.Is(err, ErrMintFailed) {
		t.Fatalf("expected ErrMintFailed, got %v", err)
	}
	// The pulled collateral must come back to the caller.
	if got := f.token.BalanceOf(f.user); got.Cmp(tokens(10)) != 0 {
		t.Fatalf("user balance = %s after compensation, want %s", got, tokens(10))
	}
	balance, err := engine.CollateralBalance(f.user, f.asset)
	if err != nil {
		t.Fatalf("CollateralBalance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("collateral balance = %s after failed mint, want 0", balance)
	}
}

type burnFailSynth struct {
	*MemorySynth
}

func (b *burnFailSynth) Burn(*big.Int) error {
	return fmt.Errorf("burn offline")
}

func TestBurnFailureReturnsPulledSynthetic(t *testing.T) {
	f := newEngineFixture(t)
	synthetic := &burnFailSynth{NewMemorySynth(f.module)}
	engine, err := NewEngine(f.module, []crypto.Address{f.asset}, []string{"weth-usd"}, synthetic)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	engine.SetState(NewMemoryState())
	engine.SetOracle(f.oracle)
	engine.SetTokenLedger(f.asset, f.token)

	if err := engine.DepositCollateral(f.user, f.asset, tokens(1)); err != nil {
		t.Fatalf("DepositCollateral: %v", err)
	}
	if err := engine.MintSynthetic(f.user, usd(400)); err != nil {
		t.Fatalf("MintSynthetic: %v", err)
	}

	if err := engine.BurnSynthetic(f.user, usd(100)); !errors.Is(err, ErrBurnFailed) {
		t.Fatalf("expected ErrBurnFailed, got %v", err)
	}
	// The debt decrease is rolled back and the pulled synthetic comes home.
	debt, err := engine.DebtOf(f.user)
	if err != nil {
		t.Fatalf("DebtOf: %v", err)
	}
	if debt.Cmp(usd(400)) != 0 {
		t.Fatalf("debt = %s after failed burn, want %s", debt, usd(400))
	}
	if got := synthetic.BalanceOf(f.user); got.Cmp(usd(400)) != 0 {
		t.Fatalf("payer synth balance = %s after failed burn, want %s", got, usd(400))
	}
	if got := synthetic.BalanceOf(f.module); got.Sign() != 0 {
		t.Fatalf("engine custody holds %s after failed burn, want 0", got)
	}
}

func TestRedeemCollateralForSynthetic(t *testing.T) {
	f := newEngineFixture(t)
	f.mustDeposit(t, tokens(2))
	f.mustMint(t, usd(1000))

	if err := f.engine.RedeemCollateralForSynthetic(f.user, f.asset, tokens(2), usd(1000)); err != nil {
		t.Fatalf("RedeemCollateralForSynthetic: %v", err)
	}
	if got := f.debt(t); got.Sign() != 0 {
		t.Fatalf("debt = %s, want 0", got)
	}
	if got := f.collateralBalance(t); got.Sign() != 0 {
		t.Fatalf("collateral balance = %s, want 0", got)
	}
	if got := f.token.BalanceOf(f.user); got.Cmp(tokens(10)) != 0 {
		t.Fatalf("user balance = %s, want %s", got, tokens(10))
	}
	if got := f.synth.BalanceOf(f.user); got.Sign() != 0 {
		t.Fatalf("synth balance = %s, want 0", got)
	}
}

// reentrantToken calls back into the engine from inside a transfer, the way a
// hostile token contract would.
type reentrantToken struct {
	inner  *MemoryToken
	engine *Engine
	caller crypto.Address
	asset  crypto.Address

	nestedErr error
}

func (r *reentrantToken) TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error) {
	r.nestedErr = r.engine.DepositCollateral(r.caller, r.asset, big.NewInt(1))
	return r.inner.TransferFrom(from, to, amount)
}

func (r *reentrantToken) Transfer(to crypto.Address, amount *big.Int) (bool, error) {
	return r.inner.Transfer(to, amount)
}

func TestReentrantCallbackRejected(t *testing.T) {
	f := newEngineFixture(t)
	hostile := &reentrantToken{inner: f.token, engine: f.engine, caller: f.user, asset: f.asset}
	f.engine.SetTokenLedger(f.asset, hostile)

	if err := f.engine.DepositCollateral(f.user, f.asset, tokens(1)); err != nil {
		t.Fatalf("outer deposit: %v", err)
	}
	if !errors.Is(hostile.nestedErr, ErrEngineBusy) {
		t.Fatalf("nested call: expected ErrEngineBusy, got %v", hostile.nestedErr)
	}
	if got := f.collateralBalance(t); got.Cmp(tokens(1)) != 0 {
		t.Fatalf("collateral balance = %s, want %s", got, tokens(1))
	}
}

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func TestPausedModuleRejectsMutations(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.SetPauses(pauseMap{"synth": true})

	if err := f.engine.DepositCollateral(f.user, f.asset, tokens(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}

	// Queries stay available while paused.
	if _, err := f.engine.HealthFactor(f.user); err != nil {
		t.Fatalf("HealthFactor while paused: %v", err)
	}
}

func TestAccountInformation(t *testing.T) {
	f := newEngineFixture(t)
	f.mustDeposit(t, tokens(1))

	info, err := f.engine.AccountInformation(f.user)
	if err != nil {
		t.Fatalf("AccountInformation: %v", err)
	}
	if info.CollateralValueUSD.Cmp(usd(2000)) != 0 {
		t.Fatalf("collateral value = %s, want %s", info.CollateralValueUSD, usd(2000))
	}
	if info.DebtUSD.Sign() != 0 {
		t.Fatalf("debt = %s, want 0", info.DebtUSD)
	}
	if info.HealthFactor.Cmp(MaxHealthFactor()) != 0 {
		t.Fatalf("health factor = %s, want max", info.HealthFactor)
	}

	f.mustMint(t, usd(500))
	info, err = f.engine.AccountInformation(f.user)
	if err != nil {
		t.Fatalf("AccountInformation: %v", err)
	}
	// Adjusted collateral 1000 against 500 of debt is a 2.0 health factor.
	want := new(big.Int).Mul(big.NewInt(2), MinHealthFactor())
	if info.HealthFactor.Cmp(want) != 0 {
		t.Fatalf("health factor = %s, want %s", info.HealthFactor, want)
	}
}

func TestQueriesRequireState(t *testing.T) {
	module := testAddr(crypto.AccountPrefix, 0xAA)
	asset := testAddr(crypto.AssetPrefix, 0x10)
	engine, err := NewEngine(module, []crypto.Address{asset}, []string{"weth-usd"}, NewMemorySynth(module))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := engine.DebtOf(testAddr(crypto.AccountPrefix, 0x01)); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
	if err := engine.MintSynthetic(testAddr(crypto.AccountPrefix, 0x01), usd(1)); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
}

func TestCollateralAssetsIsACopy(t *testing.T) {
	f := newEngineFixture(t)
	assets := f.engine.CollateralAssets()
	if len(assets) != 1 {
		t.Fatalf("expected 1 asset, got %d", len(assets))
	}
	assets[0].FeedID = "mutated"
	if got := f.engine.CollateralAssets()[0].FeedID; got != "weth-usd" {
		t.Fatalf("allow-list mutated through copy: %s", got)
	}
}
