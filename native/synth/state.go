package synth

import (
	"math/big"
	"sync"

	"synthengine/crypto"
)

// State is the engine's view of persisted position bookkeeping: per-user
// per-asset collateral balances and per-user synthetic debt. Implementations
// return zero for entries that were never written. The engine is the sole
// writer; mutating operations stage their writes in an overlay and commit only
// after every check passes.
type State interface {
	CollateralBalance(user, asset crypto.Address) (*big.Int, error)
	SetCollateralBalance(user, asset crypto.Address, amount *big.Int) error
	Debt(user crypto.Address) (*big.Int, error)
	SetDebt(user crypto.Address, amount *big.Int) error
}

func collateralKey(user, asset crypto.Address) string {
	return string(user.Bytes()) + "/" + string(asset.Bytes())
}

func debtKey(user crypto.Address) string {
	return string(user.Bytes())
}

// MemoryState is a map-backed State used by tests and single-process setups
// that do not need positions to survive a restart.
type MemoryState struct {
	mu         sync.RWMutex
	collateral map[string]*big.Int
	debt       map[string]*big.Int
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		collateral: make(map[string]*big.Int),
		debt:       make(map[string]*big.Int),
	}
}

func (s *MemoryState) CollateralBalance(user, asset crypto.Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if amount, ok := s.collateral[collateralKey(user, asset)]; ok {
		return new(big.Int).Set(amount), nil
	}
	return big.NewInt(0), nil
}

func (s *MemoryState) SetCollateralBalance(user, asset crypto.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collateral[collateralKey(user, asset)] = new(big.Int).Set(amount)
	return nil
}

func (s *MemoryState) Debt(user crypto.Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if amount, ok := s.debt[debtKey(user)]; ok {
		return new(big.Int).Set(amount), nil
	}
	return big.NewInt(0), nil
}

func (s *MemoryState) SetDebt(user crypto.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debt[debtKey(user)] = new(big.Int).Set(amount)
	return nil
}
