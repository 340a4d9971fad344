package synth

import (
	"math/big"

	"synthengine/crypto"
)

// stateOverlay buffers writes on top of a backing State. Reads see pending
// writes first and fall through to the backing store, so solvency checks
// evaluate the operation's projected outcome. Nothing reaches the backing
// store until Commit; abandoning the overlay discards every staged mutation,
// which is how operations achieve all-or-nothing semantics.
type stateOverlay struct {
	backing    State
	collateral map[string]*big.Int
	debt       map[string]*big.Int

	collateralAddrs map[string][2]crypto.Address
	debtAddrs       map[string]crypto.Address
}

func newOverlay(backing State) *stateOverlay {
	return &stateOverlay{
		backing:         backing,
		collateral:      make(map[string]*big.Int),
		debt:            make(map[string]*big.Int),
		collateralAddrs: make(map[string][2]crypto.Address),
		debtAddrs:       make(map[string]crypto.Address),
	}
}

func (o *stateOverlay) CollateralBalance(user, asset crypto.Address) (*big.Int, error) {
	if amount, ok := o.collateral[collateralKey(user, asset)]; ok {
		return new(big.Int).Set(amount), nil
	}
	return o.backing.CollateralBalance(user, asset)
}

func (o *stateOverlay) SetCollateralBalance(user, asset crypto.Address, amount *big.Int) error {
	key := collateralKey(user, asset)
	o.collateral[key] = new(big.Int).Set(amount)
	o.collateralAddrs[key] = [2]crypto.Address{user, asset}
	return nil
}

func (o *stateOverlay) Debt(user crypto.Address) (*big.Int, error) {
	if amount, ok := o.debt[debtKey(user)]; ok {
		return new(big.Int).Set(amount), nil
	}
	return o.backing.Debt(user)
}

func (o *stateOverlay) SetDebt(user crypto.Address, amount *big.Int) error {
	key := debtKey(user)
	o.debt[key] = new(big.Int).Set(amount)
	o.debtAddrs[key] = user
	return nil
}

// Commit flushes the staged writes to the backing store.
func (o *stateOverlay) Commit() error {
	for key, amount := range o.collateral {
		addrs := o.collateralAddrs[key]
		if err := o.backing.SetCollateralBalance(addrs[0], addrs[1], amount); err != nil {
			return err
		}
	}
	for key, amount := range o.debt {
		if err := o.backing.SetDebt(o.debtAddrs[key], amount); err != nil {
			return err
		}
	}
	return nil
}
