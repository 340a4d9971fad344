package synth

import (
	"math/big"

	"synthengine/crypto"
)

// CollateralAsset pairs an allow-listed collateral asset with the price feed
// that values it. The pairing is fixed at engine construction.
type CollateralAsset struct {
	Asset  crypto.Address
	FeedID string
}

// AccountInformation summarises a user's position for RPC queries.
type AccountInformation struct {
	// DebtUSD is the outstanding synthetic debt in 18-decimal USD units.
	DebtUSD *big.Int
	// CollateralValueUSD is the oracle valuation of all deposited collateral
	// in 18-decimal USD units.
	CollateralValueUSD *big.Int
	// HealthFactor is the 1e18-scaled solvency ratio derived from the two
	// figures above.
	HealthFactor *big.Int
}

// TokenLedger is the transfer interface of an external collateral asset.
// A false return and an error are treated identically by the engine: the
// surrounding operation fails and rolls back.
type TokenLedger interface {
	// TransferFrom pulls amount from the owner into the recipient's custody.
	TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error)
	// Transfer pushes amount out of the ledger's engine custody account.
	Transfer(to crypto.Address, amount *big.Int) (bool, error)
}

// SyntheticLedger is the mint/burn authority interface of the external
// synthetic-asset ledger. The engine is the sole caller permitted to mint and
// burn; that handoff happens once at system bootstrap.
type SyntheticLedger interface {
	Mint(to crypto.Address, amount *big.Int) (bool, error)
	// Burn retires amount held in the engine's own custody.
	Burn(amount *big.Int) error
	TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error)
}
