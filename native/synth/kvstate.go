package synth

import (
	"errors"
	"math/big"

	"synthengine/crypto"
	"synthengine/storage"
)

var (
	kvCollateralPrefix = []byte("synth/collateral/")
	kvDebtPrefix       = []byte("synth/debt/")
)

// KVState persists position bookkeeping through a storage.Database so that
// positions survive daemon restarts. Amounts are stored as big-endian
// big.Int bytes; an absent key reads as zero.
type KVState struct {
	db storage.Database
}

func NewKVState(db storage.Database) *KVState {
	return &KVState{db: db}
}

func (s *KVState) CollateralBalance(user, asset crypto.Address) (*big.Int, error) {
	return s.load(kvCollateralDBKey(user, asset))
}

func (s *KVState) SetCollateralBalance(user, asset crypto.Address, amount *big.Int) error {
	return s.store(kvCollateralDBKey(user, asset), amount)
}

func (s *KVState) Debt(user crypto.Address) (*big.Int, error) {
	return s.load(kvDebtDBKey(user))
}

func (s *KVState) SetDebt(user crypto.Address, amount *big.Int) error {
	return s.store(kvDebtDBKey(user), amount)
}

func (s *KVState) load(key []byte) (*big.Int, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

func (s *KVState) store(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return s.db.Delete(key)
	}
	return s.db.Put(key, amount.Bytes())
}

func kvCollateralDBKey(user, asset crypto.Address) []byte {
	key := append([]byte(nil), kvCollateralPrefix...)
	key = append(key, user.Bytes()...)
	key = append(key, '/')
	return append(key, asset.Bytes()...)
}

func kvDebtDBKey(user crypto.Address) []byte {
	key := append([]byte(nil), kvDebtPrefix...)
	return append(key, user.Bytes()...)
}
