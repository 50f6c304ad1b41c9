package state

import (
	"errors"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"instantsend/storage"
)

// ErrInsufficientBalance is returned when a debit would overdraw an account.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

// Manager provides typed access to the ledger's key-value state. All keys are
// keccak256-hashed before hitting the store so raw identifiers never appear
// in the database.
//
// Manager is not safe for concurrent use; the node serializes transactions
// before they reach it.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided store.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func hashedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

// load fetches the raw value for a key, mapping a missing key to (nil, nil).
func (m *Manager) load(key []byte) ([]byte, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) has(key []byte) (bool, error) {
	return m.db.Has(key)
}

func (m *Manager) write(key, value []byte) error {
	return m.db.Put(key, value)
}

// MustSubBalance debits amt from balance in place, returning a rollback
// closure that restores the previous value. The debit fails with
// ErrInsufficientBalance before any mutation if the funds are not there.
func MustSubBalance(balance, amt *big.Int) (func(), error) {
	if balance == nil || amt == nil {
		return nil, errors.New("state: nil balance operand")
	}
	if amt.Sign() < 0 {
		return nil, errors.New("state: negative amount")
	}
	if balance.Cmp(amt) < 0 {
		return nil, ErrInsufficientBalance
	}
	prev := new(big.Int).Set(balance)
	balance.Sub(balance, amt)
	return func() { balance.Set(prev) }, nil
}

// MustAddBalance credits amt to balance in place, returning a rollback
// closure that restores the previous value.
func MustAddBalance(balance, amt *big.Int) (func(), error) {
	if balance == nil || amt == nil {
		return nil, errors.New("state: nil balance operand")
	}
	if amt.Sign() < 0 {
		return nil, errors.New("state: negative amount")
	}
	prev := new(big.Int).Set(balance)
	balance.Add(balance, amt)
	return func() { balance.Set(prev) }, nil
}
