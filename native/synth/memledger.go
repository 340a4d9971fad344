package synth

import (
	"fmt"
	"math/big"
	"sync"

	"synthengine/crypto"
)

// MemoryToken is an in-process reference implementation of the TokenLedger
// interface used by tests and single-node development deployments. Production
// deployments are expected to wire an adapter for a real asset ledger instead.
type MemoryToken struct {
	mu       sync.Mutex
	custody  crypto.Address
	balances map[string]*big.Int
}

// NewMemoryToken constructs a token ledger whose Transfer method pays out of
// the supplied custody account (normally the engine's module address).
func NewMemoryToken(custody crypto.Address) *MemoryToken {
	return &MemoryToken{custody: custody, balances: make(map[string]*big.Int)}
}

// SetBalance seeds an account balance. Used for genesis funding.
func (t *MemoryToken) SetBalance(addr crypto.Address, amount *big.Int) {
	t.mu.Lock()
	t.balances[string(addr.Bytes())] = new(big.Int).Set(amount)
	t.mu.Unlock()
}

// BalanceOf returns the current balance of an account.
func (t *MemoryToken) BalanceOf(addr crypto.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if balance, ok := t.balances[string(addr.Bytes())]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

func (t *MemoryToken) TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return false, fmt.Errorf("memory token: amount must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount), nil
}

func (t *MemoryToken) Transfer(to crypto.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return false, fmt.Errorf("memory token: amount must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(t.custody, to, amount), nil
}

func (t *MemoryToken) move(from, to crypto.Address, amount *big.Int) bool {
	fromKey := string(from.Bytes())
	balance, ok := t.balances[fromKey]
	if !ok || balance.Cmp(amount) < 0 {
		return false
	}
	t.balances[fromKey] = new(big.Int).Sub(balance, amount)
	toKey := string(to.Bytes())
	current, ok := t.balances[toKey]
	if !ok {
		current = big.NewInt(0)
	}
	t.balances[toKey] = new(big.Int).Add(current, amount)
	return true
}

// MemorySynth is an in-process reference implementation of the
// SyntheticLedger interface. The engine is assumed to be its sole mint/burn
// authority, mirroring the ownership handoff performed at system bootstrap.
type MemorySynth struct {
	mu       sync.Mutex
	custody  crypto.Address
	balances map[string]*big.Int
	supply   *big.Int
}

func NewMemorySynth(custody crypto.Address) *MemorySynth {
	return &MemorySynth{custody: custody, balances: make(map[string]*big.Int), supply: big.NewInt(0)}
}

// BalanceOf returns the synthetic balance of an account.
func (s *MemorySynth) BalanceOf(addr crypto.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if balance, ok := s.balances[string(addr.Bytes())]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

// TotalSupply returns the outstanding synthetic supply.
func (s *MemorySynth) TotalSupply() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.supply)
}

func (s *MemorySynth) Mint(to crypto.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return false, fmt.Errorf("memory synth: amount must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(to.Bytes())
	current, ok := s.balances[key]
	if !ok {
		current = big.NewInt(0)
	}
	s.balances[key] = new(big.Int).Add(current, amount)
	s.supply = new(big.Int).Add(s.supply, amount)
	return true, nil
}

func (s *MemorySynth) Burn(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("memory synth: amount must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(s.custody.Bytes())
	balance, ok := s.balances[key]
	if !ok || balance.Cmp(amount) < 0 {
		return fmt.Errorf("memory synth: burn exceeds custody balance")
	}
	s.balances[key] = new(big.Int).Sub(balance, amount)
	s.supply = new(big.Int).Sub(s.supply, amount)
	return nil
}

func (s *MemorySynth) TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return false, fmt.Errorf("memory synth: amount must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fromKey := string(from.Bytes())
	balance, ok := s.balances[fromKey]
	if !ok || balance.Cmp(amount) < 0 {
		return false, nil
	}
	s.balances[fromKey] = new(big.Int).Sub(balance, amount)
	toKey := string(to.Bytes())
	current, ok := s.balances[toKey]
	if !ok {
		current = big.NewInt(0)
	}
	s.balances[toKey] = new(big.Int).Add(current, amount)
	return true, nil
}
