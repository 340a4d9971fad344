package events

import (
	"math/big"

	"synthengine/crypto"
)

const (
	TypeCollateralDeposited = "synth.collateral.deposited"
	TypeCollateralRedeemed  = "synth.collateral.redeemed"
	TypeSyntheticMinted     = "synth.debt.minted"
	TypeSyntheticBurned     = "synth.debt.burned"
	TypePositionLiquidated  = "synth.position.liquidated"
)

// CollateralDeposited is emitted after collateral enters engine custody.
type CollateralDeposited struct {
	User   crypto.Address
	Asset  crypto.Address
	Amount *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

// CollateralRedeemed is emitted after collateral leaves engine custody. From
// and To differ during liquidations where collateral is routed to the
// liquidator rather than back to the position owner.
type CollateralRedeemed struct {
	From   crypto.Address
	To     crypto.Address
	Asset  crypto.Address
	Amount *big.Int
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

// SyntheticMinted is emitted after new synthetic debt is issued to a user.
type SyntheticMinted struct {
	User   crypto.Address
	Amount *big.Int
}

func (SyntheticMinted) EventType() string { return TypeSyntheticMinted }

// SyntheticBurned is emitted after synthetic debt is retired. Payer covers the
// burned amount which may reduce OnBehalfOf's debt during liquidations.
type SyntheticBurned struct {
	Payer      crypto.Address
	OnBehalfOf crypto.Address
	Amount     *big.Int
}

func (SyntheticBurned) EventType() string { return TypeSyntheticBurned }

// PositionLiquidated is emitted after a successful forced redemption.
type PositionLiquidated struct {
	Liquidator       crypto.Address
	User             crypto.Address
	Asset            crypto.Address
	DebtCovered      *big.Int
	CollateralSeized *big.Int
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }
